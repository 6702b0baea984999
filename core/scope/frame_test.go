package scope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_ResolveWalksToNearestOwner(t *testing.T) {
	global := newFrame(nil)
	mid := newFrame(global)
	leaf := newFrame(mid)

	_, err := global.declare("a", 1, nil)
	require.NoError(t, err)
	_, err = mid.declare("b", 2, nil)
	require.NoError(t, err)
	_, err = leaf.declare("a", 3, nil)
	require.NoError(t, err)

	owner, err := leaf.Resolve("a")
	require.NoError(t, err)
	assert.Same(t, leaf, owner)

	owner, err = leaf.Resolve("b")
	require.NoError(t, err)
	assert.Same(t, mid, owner)

	owner, err = mid.Resolve("a")
	require.NoError(t, err)
	assert.Same(t, global, owner)
}

func TestFrame_ResolveUnbound(t *testing.T) {
	leaf := newFrame(newFrame(nil))

	_, err := leaf.Resolve("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnbound))

	var unbound *UnboundIdentifierError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "missing", unbound.Identifier)
}

func TestFrame_DeclareTwiceFails(t *testing.T) {
	f := newFrame(nil)
	_, err := f.declare("x", "first", nil)
	require.NoError(t, err)

	_, err = f.declare("x", "second", nil)
	var bound *AlreadyBoundError
	require.ErrorAs(t, err, &bound)
	assert.Equal(t, f.ID(), bound.FrameID)

	v, err := f.Read("x")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestFrame_WriteUpdatesOwnerInPlace(t *testing.T) {
	global := newFrame(nil)
	child := newFrame(global)
	sibling := newFrame(global)

	_, err := global.declare("x", "a", nil)
	require.NoError(t, err)

	_, err = child.write(PolicyDynamic, "x", "b")
	require.NoError(t, err)

	for _, f := range []*Frame{global, child, sibling} {
		v, err := f.Read("x")
		require.NoError(t, err)
		assert.Equal(t, "b", v)
	}
	assert.Empty(t, child.Identifiers())
}

func TestFrame_IdentifiersKeepBindingOrder(t *testing.T) {
	f := newFrame(nil)
	for _, id := range []string{"c", "a", "b"} {
		_, err := f.declare(id, id, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "a", "b"}, f.Identifiers())
}

func TestFrame_Snapshot(t *testing.T) {
	global := newFrame(nil)
	child := newFrame(global)
	_, err := child.declare("k", 42, nil)
	require.NoError(t, err)

	snap := child.Snapshot()
	assert.Equal(t, child.ID(), snap.ID)
	assert.Equal(t, global.ID(), snap.ParentID)
	assert.Equal(t, 1, snap.Depth)
	assert.Equal(t, []Binding{{Identifier: "k", Value: 42}}, snap.Bindings)
	assert.True(t, snap.ReleasedAt.IsZero())
}

func TestFrame_GlobalIsNeverReleased(t *testing.T) {
	global := newFrame(nil)
	global.retain()
	assert.False(t, global.drop())
	assert.False(t, global.Released())
	assert.True(t, global.IsGlobal())
}

func TestSlot_Admit(t *testing.T) {
	isPositive := func(v any) bool {
		n, ok := v.(int)
		return ok && n > 0
	}

	tests := []struct {
		name   string
		policy Policy
		slot   slot
		value  any
		ok     bool
	}{
		{"untyped ignores guard", PolicyUntyped, slot{value: 1, guard: isPositive}, -1, true},
		{"untyped ignores type", PolicyUntyped, slot{value: 1}, "one", true},
		{"guarded enforces guard", PolicyGuarded, slot{value: 1, guard: isPositive}, -1, false},
		{"guarded accepts unguarded", PolicyGuarded, slot{value: 1}, "one", true},
		{"dynamic enforces guard", PolicyDynamic, slot{value: 1, guard: isPositive}, 0, false},
		{"dynamic guard overrides type", PolicyDynamic, slot{value: 1, guard: func(any) bool { return true }}, "one", true},
		{"dynamic same type", PolicyDynamic, slot{value: 1}, 2, true},
		{"dynamic different type", PolicyDynamic, slot{value: 1}, "one", false},
		{"dynamic nil current accepts", PolicyDynamic, slot{value: nil}, "one", true},
		{"dynamic nil new rejected", PolicyDynamic, slot{value: 1}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.slot.admit(tt.policy, "id", tt.value)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{PolicyUntyped, PolicyGuarded, PolicyDynamic} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParsePolicy("DYNAMIC")
	require.NoError(t, err)
	assert.Equal(t, PolicyDynamic, got)

	_, err = ParsePolicy("strict")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Policy(99).String())
}
