package scope

import (
	"fmt"
	"reflect"
	"strings"
)

// Guard reports whether v is acceptable for a slot.
type Guard func(v any) bool

// GuardOf returns a guard accepting values whose dynamic type is T
// (or implements T when T is an interface).
func GuardOf[T any]() Guard {
	return func(v any) bool {
		_, ok := v.(T)
		return ok
	}
}

// Policy selects how Mutate checks the new value of a slot.
type Policy int

const (
	// PolicyUntyped never checks: a mutate succeeds whenever the identifier resolves.
	PolicyUntyped Policy = iota
	// PolicyGuarded enforces explicit guards and lets unguarded slots take any value.
	PolicyGuarded
	// PolicyDynamic enforces explicit guards and otherwise requires the new value
	// to have the runtime type of the current one.
	PolicyDynamic
)

var policyNames = map[Policy]string{
	PolicyUntyped: "untyped",
	PolicyGuarded: "guarded",
	PolicyDynamic: "dynamic",
}

func (p Policy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePolicy maps a policy name as used in configuration to a Policy.
func ParsePolicy(s string) (Policy, error) {
	for p, name := range policyNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return PolicyDynamic, fmt.Errorf("unknown scope policy %q", s)
}

type slot struct {
	value any
	guard Guard
}

// admit applies p to a candidate value for the slot bound to id.
func (s *slot) admit(p Policy, id string, v any) error {
	if p == PolicyUntyped {
		return nil
	}
	if s.guard != nil {
		if s.guard(v) {
			return nil
		}
		return &TypeMismatchError{Identifier: id, Got: typeName(v)}
	}
	if p == PolicyGuarded || s.value == nil {
		return nil
	}
	if reflect.TypeOf(s.value) != reflect.TypeOf(v) {
		return &TypeMismatchError{Identifier: id, Want: typeName(s.value), Got: typeName(v)}
	}
	return nil
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return reflect.TypeOf(v).String()
}
