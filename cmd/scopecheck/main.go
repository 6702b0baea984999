// Command scopecheck reports code that silently leaves the ambient scope:
// goroutines started with a raw go statement in packages that use scopes,
// and fresh root contexts handed to the scope API where a caller's context
// is available.
package main

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/astutil"
	"golang.org/x/tools/go/types/typeutil"
)

var Analyzer = &analysis.Analyzer{
	Name: "scopecheck",
	Doc:  "forbids raw go statements and fresh root contexts in code using core/scope",
	Run:  run,
}

func main() {
	singlechecker.Main(Analyzer)
}

const (
	scopePkg       = "core/scope"
	concurrencyPkg = "core/concurrency"
)

func run(pass *analysis.Pass) (interface{}, error) {
	path := pass.Pkg.Path()
	// The packages implementing scopes manage frames by hand.
	if strings.Contains(path, scopePkg) || strings.Contains(path, concurrencyPkg) {
		return nil, nil
	}
	if !importsScope(pass.Pkg) {
		return nil, nil
	}

	for _, file := range pass.Files {
		ast.Inspect(file, func(n ast.Node) bool {
			switch n := n.(type) {
			case *ast.GoStmt:
				pass.Reportf(n.Pos(),
					"raw 'go' statement loses the ambient scope - use concurrency.Group.Go or concurrency.Spawn")
			case *ast.FuncDecl:
				if n.Body != nil {
					if ctxName := contextParam(pass, n.Type); ctxName != "" {
						checkRootContexts(pass, n.Body, ctxName)
					}
				}
			}
			return true
		})
	}
	return nil, nil
}

func importsScope(pkg *types.Package) bool {
	for _, imp := range pkg.Imports() {
		if strings.HasSuffix(imp.Path(), scopePkg) || strings.HasSuffix(imp.Path(), concurrencyPkg) {
			return true
		}
	}
	return false
}

// contextParam returns the name of the first context.Context parameter.
func contextParam(pass *analysis.Pass, ft *ast.FuncType) string {
	for _, field := range ft.Params.List {
		if !isContextType(pass.TypesInfo.TypeOf(field.Type)) {
			continue
		}
		for _, name := range field.Names {
			if name.Name != "_" {
				return name.Name
			}
		}
	}
	return ""
}

func isContextType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}
	obj := named.Obj()
	return obj.Pkg() != nil && obj.Pkg().Path() == "context" && obj.Name() == "Context"
}

func checkRootContexts(pass *analysis.Pass, body *ast.BlockStmt, ctxName string) {
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		fn, ok := typeutil.Callee(pass.TypesInfo, call).(*types.Func)
		if !ok || fn.Pkg() == nil || !isScopeAPI(fn.Pkg().Path()) {
			return true
		}
		for _, arg := range call.Args {
			if root := rootContextCall(pass, arg); root != "" {
				pass.Reportf(arg.Pos(), "context.%s() passed to %s.%s discards the ambient frame of %s",
					root, fn.Pkg().Name(), fn.Name(), ctxName)
			}
		}
		return true
	})
}

func isScopeAPI(path string) bool {
	return strings.HasSuffix(path, scopePkg) || strings.HasSuffix(path, concurrencyPkg)
}

// rootContextCall reports whether expr is context.Background() or
// context.TODO(), returning the function name.
func rootContextCall(pass *analysis.Pass, expr ast.Expr) string {
	call, ok := astutil.Unparen(expr).(*ast.CallExpr)
	if !ok {
		return ""
	}
	fn, ok := typeutil.Callee(pass.TypesInfo, call).(*types.Func)
	if !ok || fn.Pkg() == nil || fn.Pkg().Path() != "context" {
		return ""
	}
	if fn.Name() == "Background" || fn.Name() == "TODO" {
		return fn.Name()
	}
	return ""
}
