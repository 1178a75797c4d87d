package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/leofalp/polychat/internal/utils"
)

// ConfigurationError reports a missing credential, an unknown provider id or
// any other setup problem. It is always raised before network activity.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// NewConfigurationError formats a ConfigurationError.
func NewConfigurationError(format string, args ...any) error {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ValidationError reports malformed caller input such as an invalid function
// schema or an empty message list.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// SafetyError is raised when every candidate of a request was blocked by the
// provider. Ratings holds the safety ratings of each candidate in order.
type SafetyError struct {
	Reason  string
	Ratings [][]SafetyRating
}

func (e *SafetyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("response blocked by safety filters: %s", e.Reason)
	}
	return fmt.Sprintf("response blocked by safety filters (%d candidates)", len(e.Ratings))
}

// ProviderError reports a non-success HTTP status, an undecodable response
// body or an empty candidate list.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProtocolViolation reports a broken contract between the orchestrator and a
// provider or caller: a function response without calls, a misplaced guidance
// turn, or malformed call arguments.
type ProtocolViolation struct {
	Message string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Message
}

// NewProtocolViolation formats a ProtocolViolation.
func NewProtocolViolation(format string, args ...any) error {
	return &ProtocolViolation{Message: fmt.Sprintf(format, args...)}
}

// WrapProviderError turns a transport error into a ProviderError tagged with
// the provider name. HTTP status and body are preserved when available.
// Context errors and errors that already carry a classification are returned
// unchanged.
func WrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var providerErr *ProviderError
	var safetyErr *SafetyError
	var protocolErr *ProtocolViolation
	var configErr *ConfigurationError
	if errors.As(err, &providerErr) || errors.As(err, &safetyErr) || errors.As(err, &protocolErr) || errors.As(err, &configErr) {
		return err
	}

	wrapped := &ProviderError{Provider: provider, Err: err}
	var statusErr *utils.StatusError
	if errors.As(err, &statusErr) {
		wrapped.StatusCode = statusErr.StatusCode
		wrapped.Body = statusErr.Body
	}
	return wrapped
}

// IsSafety reports whether err is or wraps a SafetyError.
func IsSafety(err error) bool {
	var target *SafetyError
	return errors.As(err, &target)
}

// IsProtocolViolation reports whether err is or wraps a ProtocolViolation.
func IsProtocolViolation(err error) bool {
	var target *ProtocolViolation
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
