package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adalundhe/scopechain/core/concurrency"
	"github.com/adalundhe/scopechain/core/scope"
)

// Event is one executed operation.
type Event struct {
	Branch string `json:"branch"`
	Op     string `json:"op"`
	ID     string `json:"id,omitempty"`
	Value  any    `json:"value,omitempty"`
	Err    string `json:"error,omitempty"`
	Frame  string `json:"frame"`
	Depth  int    `json:"depth"`
}

func (e Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Branch, e.Op)
	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}
	if e.Err != "" {
		fmt.Fprintf(&b, ": %s", e.Err)
	} else if e.Op != "sleep" && e.Op != "scope" {
		fmt.Fprintf(&b, " = %v", e.Value)
	}
	fmt.Fprintf(&b, " (depth %d)", e.Depth)
	return b.String()
}

type Result struct {
	Name     string   `json:"name"`
	Trace    []Event  `json:"trace"`
	Failures []string `json:"failures,omitempty"`
}

func (r *Result) OK() bool {
	return len(r.Failures) == 0
}

// Runner executes scenarios, each against a fresh environment.
type Runner struct {
	// Policy applies to scenarios that do not name one.
	Policy      scope.Policy
	Observers   []scope.Observer
	Logger      *slog.Logger
	MaxLifetime time.Duration
	// ShutdownGrace and ShutdownDeadline bound the wait for branches still
	// running once the scenario steps have finished or failed.
	ShutdownGrace    time.Duration
	ShutdownDeadline time.Duration
}

type run struct {
	env    *scope.Environment
	group  *concurrency.Group
	logger *slog.Logger

	mu     sync.Mutex
	result *Result
}

func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := r.Policy
	if sc.Policy != "" {
		p, err := scope.ParsePolicy(sc.Policy)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	opts := []scope.Option{scope.WithPolicy(policy), scope.WithLogger(logger)}
	for _, o := range r.Observers {
		opts = append(opts, scope.WithObserver(o))
	}
	env := scope.New(opts...)
	group := concurrency.NewGroup(ctx, "scenario:"+sc.Name, env,
		concurrency.WithMaxLifetime(r.MaxLifetime),
		concurrency.WithLogger(logger),
	)

	x := &run{env: env, group: group, logger: logger, result: &Result{Name: sc.Name}}
	logger.Info("scenario started", "scenario", sc.Name, "policy", policy)
	runErr := x.steps(ctx, "main", sc.Steps)

	grace, deadline := r.ShutdownGrace, r.ShutdownDeadline
	if grace <= 0 {
		grace = time.Second
	}
	if deadline < grace {
		deadline = 2 * grace
	}
	if err := group.Shutdown(grace, deadline); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr != nil {
		return x.result, fmt.Errorf("scenario %q: %w", sc.Name, runErr)
	}
	logger.Info("scenario finished", "scenario", sc.Name, "failures", len(x.result.Failures))
	return x.result, nil
}

func (x *run) steps(ctx context.Context, branch string, steps []Step) error {
	for _, st := range steps {
		if err := x.step(ctx, branch, st); err != nil {
			return err
		}
	}
	return nil
}

func (x *run) step(ctx context.Context, branch string, st Step) error {
	switch {
	case st.Bind != nil:
		var gs []scope.Guard
		if st.Bind.Type != "" {
			gs = append(gs, guards[st.Bind.Type])
		}
		v, err := x.env.Bind(ctx, st.Bind.ID, st.Bind.Value, gs...)
		x.check(ctx, branch, "bind", st.Bind, v, err)
	case st.Access != nil:
		v, err := x.env.Access(ctx, st.Access.ID)
		x.check(ctx, branch, "access", st.Access, v, err)
		if err == nil && st.Access.Expect != nil && !cmp.Equal(v, st.Access.Expect) {
			x.fail("[%s] access %s: got %v, want %v", branch, st.Access.ID, v, st.Access.Expect)
		}
	case st.Mutate != nil:
		v, err := x.env.Mutate(ctx, st.Mutate.ID, st.Mutate.Value)
		x.check(ctx, branch, "mutate", st.Mutate, v, err)
	case st.Scope != nil:
		name := st.Scope.Name
		if name == "" {
			name = "scope"
		}
		return x.env.Run(ctx, func(ctx context.Context) error {
			x.record(ctx, Event{Branch: branch, Op: "scope", ID: name})
			return x.steps(ctx, branch+"/"+name, st.Scope.Steps)
		})
	case st.Parallel != nil:
		return x.parallel(ctx, branch, st.Parallel)
	case st.Sleep > 0:
		x.record(ctx, Event{Branch: branch, Op: "sleep", Value: st.Sleep.String()})
		return concurrency.Sleep(ctx, st.Sleep)
	}
	return nil
}

func (x *run) parallel(ctx context.Context, branch string, blocks []Block) error {
	futures := make([]*concurrency.Future[struct{}], 0, len(blocks))
	for i, b := range blocks {
		name := b.Name
		if name == "" {
			name = fmt.Sprintf("branch%d", i)
		}
		path := branch + "/" + name
		fn := func(ctx context.Context) (struct{}, error) {
			return struct{}{}, x.steps(ctx, path, b.Steps)
		}
		if b.Scoped {
			futures = append(futures, concurrency.SpawnScoped(ctx, x.group, path, fn))
		} else {
			futures = append(futures, concurrency.Spawn(ctx, x.group, path, fn))
		}
	}
	var errs []error
	for _, f := range futures {
		if _, err := f.Await(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// check records the outcome of a binding operation and compares its error
// against the one the step expects.
func (x *run) check(ctx context.Context, branch, op string, o *Op, v any, err error) {
	ev := Event{Branch: branch, Op: op, ID: o.ID, Value: v}
	if err != nil {
		ev.Err = err.Error()
	}
	x.record(ctx, ev)

	switch {
	case o.Error == "" && err != nil:
		x.fail("[%s] %s %s: unexpected error: %v", branch, op, o.ID, err)
	case o.Error != "" && err == nil:
		x.fail("[%s] %s %s: expected %s error, succeeded", branch, op, o.ID, o.Error)
	case o.Error != "" && !errors.Is(err, errorNames[o.Error]):
		x.fail("[%s] %s %s: expected %s error, got: %v", branch, op, o.ID, o.Error, err)
	}
}

func (x *run) record(ctx context.Context, ev Event) {
	f := x.env.Ambient(ctx)
	ev.Frame, ev.Depth = f.ID(), f.Depth()
	x.logger.Debug("scenario step", "branch", ev.Branch, "op", ev.Op, "identifier", ev.ID, "frame", ev.Frame)
	x.mu.Lock()
	x.result.Trace = append(x.result.Trace, ev)
	x.mu.Unlock()
}

func (x *run) fail(format string, args ...any) {
	x.mu.Lock()
	x.result.Failures = append(x.result.Failures, fmt.Sprintf(format, args...))
	x.mu.Unlock()
}
