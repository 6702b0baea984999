package concurrency

import (
	"context"

	"core/scope"
)

type Group struct {
	env *scope.Environment
}

func (g *Group) Go(ctx context.Context, fn func(ctx context.Context) error) {
	release := g.env.Hold(ctx)
	go func() {
		defer release()
		_ = fn(ctx)
	}()
}

func Sleep(ctx context.Context) error {
	return nil
}

func (g *Group) Detached() {
	g.Go(context.Background(), func(ctx context.Context) error { return nil })
}
