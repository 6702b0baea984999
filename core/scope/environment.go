// Package scope implements lexically scoped bindings for concurrently running
// call chains.
//
// Every Environment owns a global frame. Declaring a scope creates a child
// frame of the frame ambient in the caller's context and runs the scoped work
// with a context carrying the child, so everything the work does, including
// after it blocks and resumes and in goroutines started with that context,
// resolves identifiers from the child first. Work started with a context
// that did not pass through a declaration continues in the frame it
// inherited.
//
// Bind creates a slot in the ambient frame only. Access and Mutate resolve
// the identifier by walking towards the global frame; a mutation overwrites
// the resolved slot in place and is therefore seen by the owning scope and
// every scope inheriting it, but never by sibling scopes.
package scope

import (
	"context"
	"log/slog"
	"sync"
)

// Observer is notified about frame lifetime. FrameReleased runs once every
// unit of work holding the frame has completed.
type Observer interface {
	FrameDeclared(f *Frame)
	FrameReleased(f *Frame)
}

type Option func(*Environment)

// WithPolicy sets how Mutate checks values. The default is PolicyDynamic.
func WithPolicy(p Policy) Option {
	return func(e *Environment) {
		e.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Environment) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracker replaces the default ContextTracker.
func WithTracker(t Tracker) Option {
	return func(e *Environment) {
		if t != nil {
			e.tracker = t
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Environment) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// Environment is a global frame plus the policy and tracker used to reach
// frames declared below it.
type Environment struct {
	global    *Frame
	tracker   Tracker
	policy    Policy
	logger    *slog.Logger
	observers []Observer
}

func New(opts ...Option) *Environment {
	e := &Environment{
		global:  newFrame(nil),
		tracker: NewContextTracker(),
		policy:  PolicyDynamic,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Environment) Global() *Frame {
	return e.global
}

func (e *Environment) Policy() Policy {
	return e.policy
}

// Ambient returns the frame in effect for ctx: the nearest declared frame on
// its causal path, or the global frame.
func (e *Environment) Ambient(ctx context.Context) *Frame {
	if f, ok := e.tracker.Current(ctx); ok {
		return f
	}
	return e.global
}

// Bind creates a slot for id in the ambient frame and returns v. Binding an
// identifier bound by an ancestor shadows it. Every supplied guard must
// accept later values.
func (e *Environment) Bind(ctx context.Context, id string, v any, guards ...Guard) (any, error) {
	f := e.Ambient(ctx)
	guard := combineGuards(guards)
	if guard != nil && e.policy != PolicyUntyped && !guard(v) {
		e.logger.Debug("bind rejected by guard", "identifier", id, "frame", f.id)
		return nil, &TypeMismatchError{Identifier: id, Got: typeName(v)}
	}
	out, err := f.declare(id, v, guard)
	if err != nil {
		e.logger.Debug("bind failed", "identifier", id, "frame", f.id, "error", err)
	}
	return out, err
}

// Access returns the value id resolves to from the ambient frame.
func (e *Environment) Access(ctx context.Context, id string) (any, error) {
	return e.Ambient(ctx).Read(id)
}

// Mutate overwrites the slot id resolves to from the ambient frame.
func (e *Environment) Mutate(ctx context.Context, id string, v any) (any, error) {
	f := e.Ambient(ctx)
	out, err := f.write(e.policy, id, v)
	if err != nil {
		e.logger.Debug("mutate failed", "identifier", id, "frame", f.id, "error", err)
	}
	return out, err
}

// Fork declares a child of the ambient frame of ctx and returns the context
// installing it. release must be called exactly once, when the unit of work
// running with the returned context completes; further calls are no-ops.
func (e *Environment) Fork(ctx context.Context) (context.Context, *Frame, func()) {
	parent := e.Ambient(ctx)
	parent.retain()
	child := newFrame(parent)
	e.logger.Debug("scope declared", "frame", child.id, "parent", parent.id, "depth", child.depth)
	for _, o := range e.observers {
		o.FrameDeclared(child)
	}
	return e.tracker.Install(ctx, child), child, e.releaser(child)
}

// Hold keeps the ambient frame of ctx alive for a continuation unit of work
// that inherits it. The returned func releases the hold.
func (e *Environment) Hold(ctx context.Context) func() {
	f := e.Ambient(ctx)
	f.retain()
	return e.releaser(f)
}

// Run declares a scope and runs fn in it. See Declare for the generic form.
func (e *Environment) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	scoped, _, release := e.Fork(ctx)
	defer release()
	return fn(scoped)
}

func (e *Environment) releaser(f *Frame) func() {
	var once sync.Once
	return func() {
		once.Do(func() { e.release(f) })
	}
}

func (e *Environment) release(f *Frame) {
	for ; f != nil && f.drop(); f = f.parent {
		e.logger.Debug("scope released", "frame", f.id, "depth", f.depth)
		for _, o := range e.observers {
			o.FrameReleased(f)
		}
	}
}

func combineGuards(guards []Guard) Guard {
	var set []Guard
	for _, g := range guards {
		if g != nil {
			set = append(set, g)
		}
	}
	switch len(set) {
	case 0:
		return nil
	case 1:
		return set[0]
	}
	return func(v any) bool {
		for _, g := range set {
			if !g(v) {
				return false
			}
		}
		return true
	}
}
