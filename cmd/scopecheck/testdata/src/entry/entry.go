package entry

import (
	"context"

	"core/scope"
)

// Main has no caller context to pass on.
func Main() error {
	env := &scope.Environment{}
	_, err := env.Bind(context.Background(), "k", 1)
	return err
}

func Ignored(_ context.Context) error {
	env := &scope.Environment{}
	_, err := env.Bind(context.Background(), "k", 1)
	return err
}
