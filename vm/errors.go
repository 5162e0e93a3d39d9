package vm

import (
	"errors"
	"fmt"
)

// Type creation errors.
var (
	ErrNaming             = errors.New("naming error")
	ErrOptionType         = errors.New("option type error")
	ErrDefaultOrdering    = errors.New("default ordering error")
	ErrDuplicateBaseField = errors.New("duplicate base field")
)

// Instance and protocol errors.
var (
	ErrImmutable       = errors.New("immutable")
	ErrArity           = errors.New("arity mismatch")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrNoAttribute     = errors.New("no such attribute")
	ErrNotSupported    = errors.New("operation not supported")
	ErrUnknownType     = errors.New("unknown record type")
)

// Phase is a step of the record type factory.
type Phase int

const (
	PhaseValidating Phase = iota
	PhaseResolvingOptions
	PhaseComputingLayout
	PhaseSynthesizingConstructor
	PhaseAttachingDescriptors
	PhaseFinalizing
	PhaseReady
)

var phaseNames = [...]string{
	"validating",
	"resolving options",
	"computing layout",
	"synthesizing constructor",
	"attaching descriptors",
	"finalizing",
	"ready",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// TypeError reports a failed record type creation. Nothing is registered
// when a TypeError is returned.
type TypeError struct {
	Type  string
	Phase Phase
	Err   error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("creating %s (%s): %v", e.Type, e.Phase, e.Err)
}

func (e *TypeError) Unwrap() error {
	return e.Err
}
