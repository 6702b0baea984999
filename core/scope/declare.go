package scope

import "context"

// Declare runs fn in a newly declared scope: a child of the frame ambient in
// ctx that stays ambient for everything fn does with the context it is
// given. A nil env means Default().
func Declare[T any](ctx context.Context, env *Environment, fn func(ctx context.Context) (T, error)) (T, error) {
	if env == nil {
		env = Default()
	}
	scoped, _, release := env.Fork(ctx)
	defer release()
	return fn(scoped)
}

// Scoped wraps fn so that each call runs in its own declared scope. Helpers
// fn calls with its context resolve against that scope without declaring
// anything themselves.
func Scoped[T any](env *Environment, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Declare(ctx, env, fn)
	}
}

func Scoped1[A, T any](env *Environment, fn func(ctx context.Context, a A) (T, error)) func(ctx context.Context, a A) (T, error) {
	return func(ctx context.Context, a A) (T, error) {
		return Declare(ctx, env, func(ctx context.Context) (T, error) {
			return fn(ctx, a)
		})
	}
}

func Scoped2[A, B, T any](env *Environment, fn func(ctx context.Context, a A, b B) (T, error)) func(ctx context.Context, a A, b B) (T, error) {
	return func(ctx context.Context, a A, b B) (T, error) {
		return Declare(ctx, env, func(ctx context.Context) (T, error) {
			return fn(ctx, a, b)
		})
	}
}
