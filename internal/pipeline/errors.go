package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a release stopped.
type ErrorKind string

const (
	KindPrecondition         ErrorKind = "precondition"
	KindValidation           ErrorKind = "validation"
	KindMutation             ErrorKind = "mutation"
	KindPreflight            ErrorKind = "preflight"
	KindGit                  ErrorKind = "git"
	KindPublishVerification  ErrorKind = "publish_verification"
	KindRollbackVerification ErrorKind = "rollback_verification"
	KindCancelled            ErrorKind = "cancelled"
)

var (
	ErrNotRepository = errors.New("not a git repository")
	ErrNoCommits     = errors.New("no commits since last release")
	ErrCancelled     = errors.New("release cancelled")
)

// Error is a stage failure. State is where the pipeline was when it stopped.
type Error struct {
	Kind  ErrorKind
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, state State, err error) *Error {
	return &Error{Kind: kind, State: state, Err: err}
}

// KindOf returns the kind of a pipeline error, or "" for any other error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
