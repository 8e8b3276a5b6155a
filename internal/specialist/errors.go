package specialist

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Kind classifies why an invocation failed.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindUnreachable Kind = "unreachable"
	KindRemote      Kind = "remote_error"
)

// Sentinel errors matched by errors.Is against an *InvocationError.
var (
	ErrTimeout     = errors.New("specialist timed out")
	ErrUnreachable = errors.New("specialist unreachable")
	ErrRemote      = errors.New("specialist returned an error")
)

// maxBodyInError bounds how much of a remote body is kept on the error.
const maxBodyInError = 512

// InvocationError is the only error type returned by Client.Invoke.
type InvocationError struct {
	Kind    Kind
	Service string
	Method  string
	Status  int    // set for KindRemote
	Body    string // set for KindRemote, truncated
	Err     error
}

func (e *InvocationError) Error() string {
	switch e.Kind {
	case KindRemote:
		return fmt.Sprintf("invoke %s/%s: status %d: %s", e.Service, e.Method, e.Status, e.Body)
	default:
		if e.Err != nil {
			return fmt.Sprintf("invoke %s/%s: %s: %v", e.Service, e.Method, e.Kind, e.Err)
		}
		return fmt.Sprintf("invoke %s/%s: %s", e.Service, e.Method, e.Kind)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Is reports the sentinel matching the error's kind.
func (e *InvocationError) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrRemote:
		return e.Kind == KindRemote
	}
	return false
}

// Unavailable reports whether err means the specialist could not be reached at
// all, as opposed to answering with an error.
func Unavailable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnreachable)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the body stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
