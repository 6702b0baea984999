// Package scenario describes runs of bind, access and mutate operations
// across nested and concurrent scopes as YAML documents, and executes them.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/scopechain/core/scope"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is one YAML document.
type Scenario struct {
	Name   string `yaml:"name"`
	Policy string `yaml:"policy,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Step holds exactly one operation.
type Step struct {
	Bind     *Op           `yaml:"bind,omitempty"`
	Access   *Op           `yaml:"access,omitempty"`
	Mutate   *Op           `yaml:"mutate,omitempty"`
	Scope    *Block        `yaml:"scope,omitempty"`
	Parallel []Block       `yaml:"parallel,omitempty"`
	Sleep    time.Duration `yaml:"sleep,omitempty"`
}

// Op is a binding operation. Expect applies to access only; a nil Expect
// checks nothing. Error names the error the operation must fail with.
type Op struct {
	ID     string `yaml:"id"`
	Value  any    `yaml:"value,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Expect any    `yaml:"expect,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Block is a named list of steps. Inside parallel, Scoped selects whether the
// branch declares its own scope or continues in the enclosing one; a scope
// step always declares one.
type Block struct {
	Name   string `yaml:"name"`
	Scoped bool   `yaml:"scoped,omitempty"`
	Steps  []Step `yaml:"steps"`
}

var errorNames = map[string]error{
	"already_bound": scope.ErrAlreadyBound,
	"unbound":       scope.ErrUnbound,
	"type_mismatch": scope.ErrTypeMismatch,
}

var guards = map[string]scope.Guard{
	"string": scope.GuardOf[string](),
	"int":    scope.GuardOf[int](),
	"float":  scope.GuardOf[float64](),
	"bool":   scope.GuardOf[bool](),
	"list":   scope.GuardOf[[]any](),
	"map":    scope.GuardOf[map[string]any](),
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *Scenario) Validate() error {
	if s.Policy != "" {
		if _, err := scope.ParsePolicy(s.Policy); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidScenario, err)
		}
	}
	return validateSteps("steps", s.Steps)
}

func validateSteps(path string, steps []Step) error {
	for i, st := range steps {
		at := fmt.Sprintf("%s[%d]", path, i)
		if err := st.validate(at); err != nil {
			return err
		}
	}
	return nil
}

func (st Step) validate(at string) error {
	kinds := 0
	for _, set := range []bool{st.Bind != nil, st.Access != nil, st.Mutate != nil, st.Scope != nil, st.Parallel != nil, st.Sleep != 0} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("%w: %s must hold exactly one operation, has %d", ErrInvalidScenario, at, kinds)
	}
	switch {
	case st.Bind != nil:
		return st.Bind.validate(at + ".bind")
	case st.Access != nil:
		return st.Access.validate(at + ".access")
	case st.Mutate != nil:
		return st.Mutate.validate(at + ".mutate")
	case st.Scope != nil:
		return validateSteps(at+".scope.steps", st.Scope.Steps)
	case st.Parallel != nil:
		if len(st.Parallel) == 0 {
			return fmt.Errorf("%w: %s.parallel has no branches", ErrInvalidScenario, at)
		}
		for j, b := range st.Parallel {
			if err := validateSteps(fmt.Sprintf("%s.parallel[%d].steps", at, j), b.Steps); err != nil {
				return err
			}
		}
	case st.Sleep < 0:
		return fmt.Errorf("%w: %s.sleep is negative", ErrInvalidScenario, at)
	}
	return nil
}

func (op *Op) validate(at string) error {
	if op.ID == "" {
		return fmt.Errorf("%w: %s has no id", ErrInvalidScenario, at)
	}
	if _, ok := guards[op.Type]; op.Type != "" && !ok {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidScenario, at, op.Type)
	}
	if _, ok := errorNames[op.Error]; op.Error != "" && !ok {
		return fmt.Errorf("%w: %s has unknown error %q", ErrInvalidScenario, at, op.Error)
	}
	return nil
}
