package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrKind classifies the fatal error taxonomy from the specification.
type ErrKind int

const (
	// ErrRootNotFound means no ancestor directory carries the root marker file.
	ErrRootNotFound ErrKind = iota
	// ErrNameAlreadyDefined means a rule name collides with another rule or
	// a reserved facade name.
	ErrNameAlreadyDefined
	// ErrMissingListFile means a .list file could not be opened.
	ErrMissingListFile
	// ErrMissingScript means a script file claimed to exist could not be read.
	ErrMissingScript
	// ErrEmptySet means newest/oldest was called on an empty path set.
	ErrEmptySet
	// ErrScriptExecution means a loaded script raised an error while running.
	ErrScriptExecution
	// ErrInvalidPathInput means a value could not be coerced into a PathSet.
	ErrInvalidPathInput
	// ErrAlreadyEmitted means Build or Rule was called after Emit.
	ErrAlreadyEmitted
)

func (k ErrKind) String() string {
	switch k {
	case ErrRootNotFound:
		return "RootNotFound"
	case ErrNameAlreadyDefined:
		return "NameAlreadyDefined"
	case ErrMissingListFile:
		return "MissingListFile"
	case ErrMissingScript:
		return "MissingScript"
	case ErrEmptySet:
		return "EmptySetArgument"
	case ErrScriptExecution:
		return "ScriptExecutionError"
	case ErrInvalidPathInput:
		return "InvalidPathInput"
	case ErrAlreadyEmitted:
		return "AlreadyEmitted"
	default:
		return "Unknown"
	}
}

// BuildError is the error type for every ErrKind in this package's taxonomy.
// It carries enough context (path, rule name, script location) to
// reconstruct what the evaluation engine was doing when it failed, without
// requiring callers to type-switch on a zoo of error types. Two failures are
// not BuildErrors: an invalid Filter pattern (a wrapped regexp error) and a
// write error from the manifest writer during Emit.
type BuildError struct {
	Kind   ErrKind
	Path   string
	Rule   string
	Script string
	Msg    string
	cause  error
}

func (e *BuildError) Error() string {
	msg := e.Msg
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	switch {
	case e.Script != "":
		return fmt.Sprintf("%s: %s (script %s)", e.Kind, msg, e.Script)
	case e.Rule != "":
		return fmt.Sprintf("%s: %s (rule %s)", e.Kind, msg, e.Rule)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path %s)", e.Kind, msg, e.Path)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *BuildError) Unwrap() error { return e.cause }

func newErr(kind ErrKind, format string, args ...interface{}) *BuildError {
	return &BuildError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind ErrKind, cause error, format string, args ...interface{}) *BuildError {
	return &BuildError{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// WithPath annotates the error with the path being processed.
func (e *BuildError) WithPath(p string) *BuildError {
	e.Path = p
	return e
}

// WithRule annotates the error with the rule name being processed.
func (e *BuildError) WithRule(name string) *BuildError {
	e.Rule = name
	return e
}

// WithScript annotates the error with the script location being processed.
func (e *BuildError) WithScript(path string) *BuildError {
	e.Script = path
	return e
}
