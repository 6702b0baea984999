package scope

import "context"

// Tracker is the causality capability the environment runs on. Install
// returns the context a new unit of work runs with so that f is ambient for
// it and for everything it spawns with that context; Current reads the frame
// installed for the unit of work owning ctx.
type Tracker interface {
	Install(ctx context.Context, f *Frame) context.Context
	Current(ctx context.Context) (*Frame, bool)
}

// ContextTracker carries the ambient frame as a context value. Each tracker
// uses its own key, so frames of different environments never mix.
type ContextTracker struct {
	key *trackerKey
}

// trackerKey is not zero-sized so that every allocation has a distinct address.
type trackerKey struct{ _ byte }

func NewContextTracker() *ContextTracker {
	return &ContextTracker{key: &trackerKey{}}
}

func (t *ContextTracker) Install(ctx context.Context, f *Frame) context.Context {
	return context.WithValue(ctx, t.key, f)
}

func (t *ContextTracker) Current(ctx context.Context) (*Frame, bool) {
	if ctx == nil {
		return nil, false
	}
	f, ok := ctx.Value(t.key).(*Frame)
	return f, ok && f != nil
}
