package scope

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyBound = errors.New("identifier already bound in the local scope")
	ErrUnbound      = errors.New("identifier is not bound")
	ErrTypeMismatch = errors.New("value does not match the type of identifier")
)

// AlreadyBoundError is returned by Bind when the identifier already has a
// slot in the ambient frame itself.
type AlreadyBoundError struct {
	Identifier string
	FrameID    string
}

func (e *AlreadyBoundError) Error() string {
	return fmt.Sprintf("identifier %q already bound in frame %s", e.Identifier, e.FrameID)
}

func (e *AlreadyBoundError) Is(target error) bool {
	return target == ErrAlreadyBound
}

// UnboundIdentifierError is returned by Access and Mutate when no frame on
// the chain, the global frame included, binds the identifier.
type UnboundIdentifierError struct {
	Identifier string
}

func (e *UnboundIdentifierError) Error() string {
	return fmt.Sprintf("identifier %q is not bound", e.Identifier)
}

func (e *UnboundIdentifierError) Is(target error) bool {
	return target == ErrUnbound
}

// TypeMismatchError is returned when a value is rejected by the slot's guard
// or, under PolicyDynamic, differs in runtime type from the current value.
type TypeMismatchError struct {
	Identifier string
	Want       string
	Got        string
}

func (e *TypeMismatchError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("value of type %s rejected by guard of identifier %q", e.Got, e.Identifier)
	}
	return fmt.Sprintf("value of type %s does not match type %s of identifier %q", e.Got, e.Want, e.Identifier)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}
