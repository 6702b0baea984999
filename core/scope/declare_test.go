package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	env   *Environment
	key   string
	value string
}

func (e *entry) point(ctx context.Context) (any, error) {
	if _, err := e.env.Bind(ctx, e.key, e.value); err != nil {
		return nil, err
	}
	return e.helper(ctx)
}

func (e *entry) helper(ctx context.Context) (any, error) {
	return e.env.Access(ctx, e.key)
}

func TestScoped_WrapsMethodValue(t *testing.T) {
	env := New()
	ctx := context.Background()
	id, value, nestedValue := uuid.NewString(), uuid.NewString(), uuid.NewString()
	_, err := env.Bind(ctx, id, value)
	require.NoError(t, err)

	e := &entry{env: env, key: id, value: nestedValue}
	point := Scoped(env, e.point)

	got, err := point(ctx)
	require.NoError(t, err)
	assert.Equal(t, nestedValue, got)

	// A second call declares a fresh scope, so binding again succeeds.
	got, err = point(ctx)
	require.NoError(t, err)
	assert.Equal(t, nestedValue, got)

	outer, err := env.Access(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, value, outer)
}

func TestScoped_WrapsFunctions(t *testing.T) {
	env := New()
	ctx := context.Background()
	helper := func(ctx context.Context, key string) (any, error) {
		return env.Access(ctx, key)
	}

	entryPoint := Scoped2(env, func(ctx context.Context, key string, value string) (any, error) {
		if _, err := env.Bind(ctx, key, value); err != nil {
			return nil, err
		}
		return helper(ctx, key)
	})
	depth := Scoped1(env, func(ctx context.Context, extra int) (int, error) {
		return env.Ambient(ctx).Depth() + extra, nil
	})

	id, value, nestedValue := uuid.NewString(), uuid.NewString(), uuid.NewString()
	_, err := env.Bind(ctx, id, value)
	require.NoError(t, err)

	got, err := entryPoint(ctx, id, nestedValue)
	require.NoError(t, err)
	assert.Equal(t, nestedValue, got)

	outer, err := env.Access(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, value, outer)

	d, err := depth(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 11, d)
}

func TestDeclare_PropagatesResultAndError(t *testing.T) {
	env := New()
	sentinel := errors.New("boom")

	n, err := Declare(context.Background(), env, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Declare(context.Background(), env, func(ctx context.Context) (int, error) {
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestDeclare_StepsAfterSuspensionKeepTheScope(t *testing.T) {
	env := New()
	ctx := context.Background()

	type result struct {
		v   any
		err error
	}
	resume := make(chan struct{})
	out := make(chan result, 1)

	go func() {
		v, err := Declare(ctx, env, func(ctx context.Context) (any, error) {
			if _, err := env.Bind(ctx, "step", 1); err != nil {
				return nil, err
			}
			<-resume
			if _, err := env.Mutate(ctx, "step", 2); err != nil {
				return nil, err
			}
			<-resume
			return env.Access(ctx, "step")
		})
		out <- result{v, err}
	}()

	// Unrelated work runs between the suspensions with its own scope.
	for i := 0; i < 2; i++ {
		err := env.Run(ctx, func(ctx context.Context) error {
			_, err := env.Bind(ctx, "step", "other")
			return err
		})
		require.NoError(t, err)
		resume <- struct{}{}
	}

	r := <-out
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.v)
	_, err := env.Access(ctx, "step")
	assert.ErrorIs(t, err, ErrUnbound)
}

func TestDeclare_ContinuationInheritsDeclaredFrame(t *testing.T) {
	env := New()
	ctx := context.Background()

	got, err := Declare(ctx, env, func(ctx context.Context) (any, error) {
		if _, err := env.Bind(ctx, "k", "declared"); err != nil {
			return nil, err
		}
		release := env.Hold(ctx)
		done := make(chan any)
		go func() {
			defer release()
			v, _ := env.Access(ctx, "k")
			done <- v
		}()
		return <-done, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "declared", got)
}

func TestDefault(t *testing.T) {
	previous := Default()
	t.Cleanup(func() { SetDefault(previous) })

	env := New()
	SetDefault(env)
	SetDefault(nil)
	assert.Same(t, env, Default())

	got, err := Declare(context.Background(), nil, func(ctx context.Context) (*Frame, error) {
		return env.Ambient(ctx), nil
	})
	require.NoError(t, err)
	assert.Same(t, env.Global(), got.Parent())
}
