// Package registry records the frames of an environment: the ones still held
// by running work, and snapshots of recently released ones.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/scopechain/core/scope"
)

// DefaultRetiredCapacity bounds how many released frame snapshots are kept.
const DefaultRetiredCapacity = 256

var ErrFrameNotFound = errors.New("frame not found")

// Registry implements scope.Observer.
type Registry struct {
	mu      sync.RWMutex
	live    map[string]*scope.Frame
	retired *lru.Cache[string, scope.Snapshot]
}

func New(retiredCapacity int) (*Registry, error) {
	if retiredCapacity <= 0 {
		retiredCapacity = DefaultRetiredCapacity
	}
	retired, err := lru.New[string, scope.Snapshot](retiredCapacity)
	if err != nil {
		return nil, fmt.Errorf("retired frame cache: %w", err)
	}
	return &Registry{
		live:    make(map[string]*scope.Frame),
		retired: retired,
	}, nil
}

func (r *Registry) FrameDeclared(f *scope.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[f.ID()] = f
}

func (r *Registry) FrameReleased(f *scope.Frame) {
	r.mu.Lock()
	delete(r.live, f.ID())
	r.mu.Unlock()
	r.retired.Add(f.ID(), f.Snapshot())
}

// Live returns snapshots of frames still held by running work, shallowest
// first.
func (r *Registry) Live() []scope.Snapshot {
	r.mu.RLock()
	out := make([]scope.Snapshot, 0, len(r.live))
	for _, f := range r.live {
		out = append(out, f.Snapshot())
	}
	r.mu.RUnlock()
	sortSnapshots(out)
	return out
}

// Retired returns snapshots of released frames still in the cache,
// shallowest first.
func (r *Registry) Retired() []scope.Snapshot {
	out := r.retired.Values()
	sortSnapshots(out)
	return out
}

// Lookup finds a frame snapshot by id among live and retired frames.
func (r *Registry) Lookup(id string) (scope.Snapshot, error) {
	r.mu.RLock()
	f, ok := r.live[id]
	r.mu.RUnlock()
	if ok {
		return f.Snapshot(), nil
	}
	if snap, ok := r.retired.Get(id); ok {
		return snap, nil
	}
	return scope.Snapshot{}, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
}

// Filter narrows snapshots to the bindings whose identifier matches the glob
// pattern, dropping snapshots left without bindings. An empty pattern keeps
// everything.
func Filter(snaps []scope.Snapshot, pattern string) ([]scope.Snapshot, error) {
	if pattern == "" {
		return snaps, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier pattern %q: %w", pattern, err)
	}
	out := make([]scope.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		kept := make([]scope.Binding, 0, len(snap.Bindings))
		for _, b := range snap.Bindings {
			if g.Match(b.Identifier) {
				kept = append(kept, b)
			}
		}
		if len(kept) == 0 {
			continue
		}
		snap.Bindings = kept
		out = append(out, snap)
	}
	return out, nil
}

func sortSnapshots(snaps []scope.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		if snaps[i].Depth != snaps[j].Depth {
			return snaps[i].Depth < snaps[j].Depth
		}
		return snaps[i].DeclaredAt.Before(snaps[j].DeclaredAt)
	})
}
