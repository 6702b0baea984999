package scope

import "context"

type Environment struct{}

func (e *Environment) Bind(ctx context.Context, id string, v any) (any, error) {
	return v, nil
}

func (e *Environment) Access(ctx context.Context, id string) (any, error) {
	return nil, nil
}

func (e *Environment) Hold(ctx context.Context) func() {
	return func() {}
}

func Declare[T any](ctx context.Context, env *Environment, fn func(ctx context.Context) (T, error)) (T, error) {
	done := make(chan struct{})
	var v T
	var err error
	go func() {
		defer close(done)
		v, err = fn(ctx)
	}()
	<-done
	return v, err
}
