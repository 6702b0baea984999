package forbidden

import (
	"context"

	"core/concurrency"
	"core/scope"
)

var env = &scope.Environment{}

func InlineGoroutine(ctx context.Context) {
	go func() { // want "raw 'go' statement loses the ambient scope - use concurrency.Group.Go or concurrency.Spawn"
		_, _ = env.Access(ctx, "k")
	}()
}

func NamedGoroutine() {
	go someFunc() // want "raw 'go' statement loses the ambient scope"
}

func someFunc() {}

func MethodGoroutine() {
	s := &service{}
	go s.run() // want "raw 'go' statement loses the ambient scope"
}

type service struct{}

func (s *service) run() {}

func FreshContextInHandler(ctx context.Context) error {
	if _, err := env.Bind(context.Background(), "k", 1); err != nil { // want `context.Background\(\) passed to scope.Bind discards the ambient frame of ctx`
		return err
	}
	_, err := scope.Declare(context.TODO(), env, func(inner context.Context) (int, error) { // want `context.TODO\(\) passed to scope.Declare discards the ambient frame of ctx`
		return 0, nil
	})
	return err
}

func FreshContextToGroup(req context.Context, g *concurrency.Group) {
	g.Go(context.Background(), func(ctx context.Context) error { // want `context.Background\(\) passed to concurrency.Go discards the ambient frame of req`
		return concurrency.Sleep((context.Background())) // want `context.Background\(\) passed to concurrency.Sleep discards the ambient frame of req`
	})
}

func CallerContext(ctx context.Context) error {
	_, err := env.Bind(ctx, "k", 1)
	return err
}
