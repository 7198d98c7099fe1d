package manim

import (
	"errors"
	"fmt"
)

// ValidationError reports bad tool arguments. No subprocess has been started
// when one is returned.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ErrRenderTimeout is returned when manim runs past the render timeout.
var ErrRenderTimeout = errors.New("rendering timed out")

// ExternalToolError reports a python/manim invocation that failed.
type ExternalToolError struct {
	Msg      string
	ExitCode int
	// Report is the full render report when the renderer ran to completion.
	Report string
}

func (e *ExternalToolError) Error() string { return e.Msg }
