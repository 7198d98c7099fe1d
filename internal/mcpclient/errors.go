package mcpclient

import (
	"errors"
	"strings"
)

// Failure kinds surfaced by the supervisor and the correlator. Every error
// returned by Client is an *Error whose Kind is one of these.
var (
	ErrSpawn          = errors.New("tool server failed to start")
	ErrHandshake      = errors.New("tool server handshake failed")
	ErrTransport      = errors.New("tool server transport failure")
	ErrNoResponse     = errors.New("no response from tool server")
	ErrTimeout        = errors.New("tool server response timeout")
	ErrProtocolDecode = errors.New("invalid response from tool server")
	ErrClosed         = errors.New("tool server client closed")
)

// Error describes a failed exchange with the tool server.
type Error struct {
	Kind   error
	Detail string
	// Raw holds the offending output line for decode and handshake failures.
	Raw string
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Is reports timeouts and empty reads as transport failures too.
func (e *Error) Is(target error) bool {
	if target == ErrTransport {
		return e.Kind == ErrNoResponse || e.Kind == ErrTimeout
	}
	return false
}

// KindOf returns a short label for the failure kind of err, or "" when err is
// not a tool server failure.
func KindOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	switch e.Kind {
	case ErrSpawn:
		return "spawn"
	case ErrHandshake:
		return "handshake"
	case ErrNoResponse:
		return "no_response"
	case ErrTimeout:
		return "timeout"
	case ErrProtocolDecode:
		return "decode"
	case ErrClosed:
		return "closed"
	default:
		return "transport"
	}
}
