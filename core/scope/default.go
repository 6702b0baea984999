package scope

import "sync/atomic"

var defaultEnv atomic.Pointer[Environment]

func init() {
	defaultEnv.Store(New())
}

// Default returns the process-wide environment.
func Default() *Environment {
	return defaultEnv.Load()
}

// SetDefault replaces the process-wide environment. Frames declared from the
// previous one stay usable through contexts that already carry them.
func SetDefault(e *Environment) {
	if e != nil {
		defaultEnv.Store(e)
	}
}
