package loader

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a load failure.
type ErrorKind string

const (
	NotFound    ErrorKind = "not_found"
	Unreadable  ErrorKind = "unreadable"
	Unsupported ErrorKind = "unsupported"
	TooLarge    ErrorKind = "too_large"
)

// LoadError is returned by Load for every failure.
type LoadError struct {
	Kind   ErrorKind
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("load %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("load %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of err, or "" if err is not a LoadError.
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func loadErr(kind ErrorKind, source string, err error) *LoadError {
	return &LoadError{Kind: kind, Source: source, Err: err}
}

var (
	errTooLarge    = errors.New("source exceeds size limit")
	errUndecodable = errors.New("content is not valid text")
)
