package scope

import (
	"context"
	"reflect"
)

// Key pins an identifier to a value type. A package declaring a fixed set
// of Key values gets compile-time checked bind, access and mutate for them.
type Key[T any] struct {
	name  string
	guard Guard
}

func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// NewGuardedKey attaches a runtime guard checked in addition to T, for
// values whose shape the type alone does not capture.
func NewGuardedKey[T any](name string, guard func(v T) bool) Key[T] {
	return Key[T]{
		name: name,
		guard: func(v any) bool {
			t, ok := v.(T)
			return ok && guard(t)
		},
	}
}

func (k Key[T]) Name() string {
	return k.name
}

func (k Key[T]) String() string {
	return k.name
}

func BindKey[T any](ctx context.Context, env *Environment, k Key[T], v T) (T, error) {
	if env == nil {
		env = Default()
	}
	if _, err := env.Bind(ctx, k.name, v, k.guard); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// AccessKey fails with TypeMismatchError when the identifier was bound
// through the untyped API to a value that is not a T.
func AccessKey[T any](ctx context.Context, env *Environment, k Key[T]) (T, error) {
	if env == nil {
		env = Default()
	}
	var zero T
	v, err := env.Access(ctx, k.name)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, &TypeMismatchError{
			Identifier: k.name,
			Want:       reflect.TypeOf((*T)(nil)).Elem().String(),
			Got:        typeName(v),
		}
	}
	return t, nil
}

func MutateKey[T any](ctx context.Context, env *Environment, k Key[T], v T) (T, error) {
	if env == nil {
		env = Default()
	}
	if _, err := env.Mutate(ctx, k.name, v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
