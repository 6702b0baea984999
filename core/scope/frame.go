package scope

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Frame holds the bindings a scope declared itself, chained to the frame
// that was ambient when the scope was declared. Frames are shared by
// reference between the declaring unit of work and every unit inheriting it.
type Frame struct {
	id     string
	parent *Frame
	depth  int

	mu       sync.RWMutex
	bindings map[string]*slot
	order    []string

	refs       atomic.Int64
	declaredAt time.Time
	releasedAt atomic.Pointer[time.Time]
}

func newFrame(parent *Frame) *Frame {
	f := &Frame{
		id:         uuid.New().String(),
		parent:     parent,
		bindings:   make(map[string]*slot),
		declaredAt: time.Now(),
	}
	if parent != nil {
		f.depth = parent.depth + 1
		f.refs.Store(1)
	}
	return f
}

func (f *Frame) ID() string {
	return f.id
}

// Parent returns nil for the global frame.
func (f *Frame) Parent() *Frame {
	return f.parent
}

// Depth is 0 for the global frame and grows by one per declared scope.
func (f *Frame) Depth() int {
	return f.depth
}

func (f *Frame) IsGlobal() bool {
	return f.parent == nil
}

// Released reports whether every unit of work holding the frame has completed.
func (f *Frame) Released() bool {
	return f.releasedAt.Load() != nil
}

// Identifiers returns the frame's own identifiers in binding order.
func (f *Frame) Identifiers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// Owns reports whether id is bound in this frame itself, ignoring ancestors.
func (f *Frame) Owns(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.bindings[id]
	return ok
}

// Resolve walks from f towards the global frame and returns the first frame
// whose own bindings contain id.
func (f *Frame) Resolve(id string) (*Frame, error) {
	for cur := f; cur != nil; cur = cur.parent {
		if cur.Owns(id) {
			return cur, nil
		}
	}
	return nil, &UnboundIdentifierError{Identifier: id}
}

// Read returns the value of the slot id resolves to from f.
func (f *Frame) Read(id string) (any, error) {
	owner, err := f.Resolve(id)
	if err != nil {
		return nil, err
	}
	owner.mu.RLock()
	defer owner.mu.RUnlock()
	return owner.bindings[id].value, nil
}

func (f *Frame) declare(id string, v any, guard Guard) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bindings[id]; ok {
		return nil, &AlreadyBoundError{Identifier: id, FrameID: f.id}
	}
	f.bindings[id] = &slot{value: v, guard: guard}
	f.order = append(f.order, id)
	return v, nil
}

// write overwrites, in place, the slot id resolves to from f. The value is
// left untouched when p rejects it.
func (f *Frame) write(p Policy, id string, v any) (any, error) {
	owner, err := f.Resolve(id)
	if err != nil {
		return nil, err
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	s := owner.bindings[id]
	if err := s.admit(p, id, v); err != nil {
		return nil, err
	}
	s.value = v
	return v, nil
}

func (f *Frame) retain() {
	if f.parent != nil {
		f.refs.Add(1)
	}
}

// drop decrements the reference count and reports whether this call released
// the frame. A released frame may be retained again through a context that
// outlived it; reaching zero a second time does not release it again.
func (f *Frame) drop() bool {
	if f.parent == nil {
		return false
	}
	if f.refs.Add(-1) != 0 {
		return false
	}
	now := time.Now()
	return f.releasedAt.CompareAndSwap(nil, &now)
}

func (f *Frame) refCount() int64 {
	return f.refs.Load()
}

// Binding is one identifier and its value at snapshot time.
type Binding struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	Value      any    `json:"value" yaml:"value"`
}

// Snapshot is a point-in-time copy of a frame's own bindings.
type Snapshot struct {
	ID         string    `json:"id" yaml:"id"`
	ParentID   string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Depth      int       `json:"depth" yaml:"depth"`
	Bindings   []Binding `json:"bindings" yaml:"bindings"`
	DeclaredAt time.Time `json:"declared_at" yaml:"declared_at"`
	ReleasedAt time.Time `json:"released_at,omitempty" yaml:"released_at,omitempty"`
}

func (f *Frame) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := Snapshot{
		ID:         f.id,
		Depth:      f.depth,
		Bindings:   make([]Binding, 0, len(f.order)),
		DeclaredAt: f.declaredAt,
	}
	if f.parent != nil {
		snap.ParentID = f.parent.id
	}
	if at := f.releasedAt.Load(); at != nil {
		snap.ReleasedAt = *at
	}
	for _, id := range f.order {
		snap.Bindings = append(snap.Bindings, Binding{Identifier: id, Value: f.bindings[id].value})
	}
	return snap
}
