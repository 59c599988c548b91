package core

import (
	"errors"
	"fmt"
)

// ErrAlreadyExists is returned by a publish backend when the registry already
// holds the version. The pipeline treats it as a successful publish.
var ErrAlreadyExists = errors.New("version already exists")

// ErrPublishFailed is the sentinel behind every non-idempotent publish failure.
var ErrPublishFailed = errors.New("publish failed")

// ErrIOFault is the sentinel behind local filesystem failures.
var ErrIOFault = errors.New("i/o fault")

// ParseError is returned when an archive filename does not match the
// [@scope-]name-version[-latest].(tgz|tar) grammar.
type ParseError struct {
	Filename string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid archive filename: %s", e.Filename)
}

// IOError wraps a filesystem failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrIOFault, e.Err}
}

// ErrorKind classifies the outcome of a failed publish call.
type ErrorKind string

const (
	KindAlreadyExists ErrorKind = "already_exists"
	KindPublishFailed ErrorKind = "publish_failed"
	KindIOFault       ErrorKind = "io_fault"
)

// PublishError is produced at the publish boundary so callers never have to
// inspect error messages.
type PublishError struct {
	Kind    ErrorKind
	Name    string
	Version string
	Err     error
}

func (e *PublishError) Error() string {
	id := e.Name
	if e.Version != "" {
		id += "@" + e.Version
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", id, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", id, e.Kind, e.Err)
}

func (e *PublishError) Unwrap() []error {
	var sentinel error
	switch e.Kind {
	case KindAlreadyExists:
		sentinel = ErrAlreadyExists
	case KindIOFault:
		sentinel = ErrIOFault
	default:
		sentinel = ErrPublishFailed
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// IsAlreadyExists reports whether err means the registry already holds the version.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
