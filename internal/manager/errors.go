package manager

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a request failure that knows its HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// AuthorizationError rejects a request before any side effect.
type AuthorizationError struct {
	Err error
}

func (e *AuthorizationError) Error() string   { return e.Err.Error() }
func (e *AuthorizationError) Unwrap() error   { return e.Err }
func (e *AuthorizationError) HTTPStatus() int { return http.StatusUnauthorized }

// ValidationError is a malformed body or a disallowed resource group name.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string   { return e.Err.Error() }
func (e *ValidationError) Unwrap() error   { return e.Err }
func (e *ValidationError) HTTPStatus() int { return http.StatusBadRequest }

// UpstreamTokenError is a failed registration-token exchange. StatusCode is
// zero when no response was received.
type UpstreamTokenError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamTokenError) Error() string   { return e.Err.Error() }
func (e *UpstreamTokenError) Unwrap() error   { return e.Err }
func (e *UpstreamTokenError) HTTPStatus() int { return http.StatusInternalServerError }

// SecretAccessError is a failed secret lookup.
type SecretAccessError struct {
	Key string
	Err error
}

func (e *SecretAccessError) Error() string   { return e.Err.Error() }
func (e *SecretAccessError) Unwrap() error   { return e.Err }
func (e *SecretAccessError) HTTPStatus() int { return http.StatusInternalServerError }

// ConfigurationError is a required setting that is missing.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string   { return e.Err.Error() }
func (e *ConfigurationError) Unwrap() error   { return e.Err }
func (e *ConfigurationError) HTTPStatus() int { return http.StatusInternalServerError }

// ProvisioningError is a failed cloud call. The provider message is kept verbatim.
type ProvisioningError struct {
	Step Step
	Err  error
}

func (e *ProvisioningError) Error() string   { return e.Err.Error() }
func (e *ProvisioningError) Unwrap() error   { return e.Err }
func (e *ProvisioningError) HTTPStatus() int { return http.StatusInternalServerError }

// HTTPStatus maps err to a response status. Unclassified errors are 500.
func HTTPStatus(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.HTTPStatus()
	}
	return http.StatusInternalServerError
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}
