// Package apperrors provides the router's structured error type and the
// catalog of error constructors used across handlers and components.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies a class of router error.
type ErrorCode string

const (
	ErrCodeValidation       ErrorCode = "VAL_1001"
	ErrCodeGPURequired      ErrorCode = "VAL_1002"
	ErrCodeNotFound         ErrorCode = "RES_2001"
	ErrCodeUnauthorized     ErrorCode = "AUTH_3001"
	ErrCodeForbidden        ErrorCode = "AUTH_3002"
	ErrCodeNoAgentsAvail    ErrorCode = "SVC_4001"
	ErrCodeWarmingUp        ErrorCode = "SVC_4002"
	ErrCodeUpstreamError    ErrorCode = "SVC_4003"
	ErrCodeUpstreamHTTP     ErrorCode = "SVC_4004"
	ErrCodeInternal         ErrorCode = "SVC_5001"
	ErrCodeDatabase         ErrorCode = "SVC_5002"
	ErrCodeTimeout          ErrorCode = "SVC_5003"
	ErrCodeRateLimited      ErrorCode = "SVC_5004"
	ErrCodeConflict         ErrorCode = "RES_2002"
	ErrCodeProviderNotReady ErrorCode = "VAL_1003"
)

// ServiceError is the structured error carried from components to the HTTP
// edge, where middleware renders it into a JSON envelope.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value and returns the same error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code ErrorCode, message string, status int) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

func Wrap(code ErrorCode, message string, status int, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// Validation signals a malformed or semantically invalid request body.
func Validation(message string) *ServiceError {
	return New(ErrCodeValidation, message, http.StatusBadRequest)
}

// GPURequired signals registration rejected for missing/invalid GPU facts.
func GPURequired(reason string) *ServiceError {
	return New(ErrCodeGPURequired, "GPU hardware is required: "+reason, http.StatusForbidden)
}

func NotFound(resource, id string) *ServiceError {
	return New(ErrCodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).WithDetails("id", id)
}

func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

func Conflict(message string) *ServiceError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// NoAgentsAvailable signals an empty Online node set.
func NoAgentsAvailable() *ServiceError {
	return New(ErrCodeNoAgentsAvail, "no agents available", http.StatusServiceUnavailable)
}

// WarmingUp signals the admission queue refused a waiter (fleet still cold).
func WarmingUp() *ServiceError {
	return New(ErrCodeWarmingUp, "warming up", http.StatusServiceUnavailable)
}

// UpstreamHTTP wraps a transport-level failure reaching a worker node.
func UpstreamHTTP(nodeID string, err error) *ServiceError {
	return Wrap(ErrCodeUpstreamHTTP, "upstream unreachable", http.StatusBadGateway, err).
		WithDetails("node_id", nodeID)
}

// UpstreamError carries a non-2xx response from a worker node, preserving
// the worker's own status code inside Details["code"].
func UpstreamError(status int, body string) *ServiceError {
	return New(ErrCodeUpstreamError, body, status).
		WithDetails("type", "ollama_upstream_error").
		WithDetails("code", status)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

func Database(operation string, err error) *ServiceError {
	return Wrap(ErrCodeDatabase, "database operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

func Timeout(operation string) *ServiceError {
	return New(ErrCodeTimeout, "operation timed out", http.StatusGatewayTimeout).
		WithDetails("operation", operation)
}

func RateLimited(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).WithDetails("window", window)
}

// ProviderNotReady signals a recognized cloud-passthrough prefix whose
// provider has no upstream wired. A missing credential is a Validation error.
func ProviderNotReady(message string) *ServiceError {
	return New(ErrCodeProviderNotReady, message, http.StatusBadRequest)
}

// As extracts a *ServiceError from err's chain, if present.
func As(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// HTTPStatus returns the status code for err, defaulting to 500 for
// unrecognized errors.
func HTTPStatus(err error) int {
	if svcErr := As(err); svcErr != nil {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
