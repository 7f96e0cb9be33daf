package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredential means no API key was available at call time.
	ErrMissingCredential = errors.New("missing LLM credential")

	// ErrUnknownFunction means the model asked for a function with no handler.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("prompt must not be empty")
)

// ConfigError reports that the gateway could not be configured for a live
// call. It matches ErrMissingCredential.
type ConfigError struct {
	Provider string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Provider, ErrMissingCredential)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, ErrMissingCredential, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMissingCredential}
	}
	return []error{ErrMissingCredential, e.Err}
}

// DispatchError reports a function call that no handler can serve.
type DispatchError struct {
	Function  string
	Available []string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%v %q (handlers: %s)", ErrUnknownFunction, e.Function, strings.Join(e.Available, ", "))
}

func (e *DispatchError) Unwrap() error { return ErrUnknownFunction }

// ArgumentError reports function-call arguments that could not be parsed or
// do not match the shape's schema.
type ArgumentError struct {
	Function string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Function, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// HandlerError wraps an error returned by a local handler.
type HandlerError struct {
	Function string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed: %v", e.Function, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
