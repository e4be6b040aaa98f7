// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package errors defines the typed error values surfaced by the coordination
// core. Every error that can leave the service carries a stable Kind; the HTTP
// layer is the only place where kinds are rendered into status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates surfaced failures.
type Kind string

const (
	KindBadRequest         Kind = "bad_request"
	KindAuthFailed         Kind = "auth_failed"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindUnprocessable      Kind = "unprocessable"
	KindTimeout            Kind = "timeout"
	KindServiceUnavailable Kind = "service_unavailable"
	KindPartialSuccess     Kind = "partial_success"
	KindInternal           Kind = "internal"
)

// HTTPStatus maps a kind to its wire status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnprocessable:
		return http.StatusUnprocessableEntity
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindPartialSuccess:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// APIError is an error with a stable kind and a user-presentable message.
// Internal detail stays in the wrapped error and is logged, never returned.
type APIError struct {
	kind    Kind
	message string
	err     error
}

func (e *APIError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.err)
	}

	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// Kind returns the error's discriminator.
func (e *APIError) Kind() Kind {
	return e.kind
}

// Message returns the user-presentable text.
func (e *APIError) Message() string {
	return e.message
}

// New creates an APIError with the given kind and message.
func New(kind Kind, message string) *APIError {
	return &APIError{kind: kind, message: message}
}

// Wrap creates an APIError that keeps cause for logging.
func Wrap(kind Kind, message string, cause error) *APIError {
	return &APIError{kind: kind, message: message, err: cause}
}

// KindOf extracts the kind from err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var apiErr *APIError

	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}

	return KindInternal
}

// MessageOf extracts the presentable message, falling back to a generic one so
// raw server strings never leak to clients.
func MessageOf(err error) string {
	var apiErr *APIError

	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}

	return "internal error"
}

// vault.

var (
	ErrCredentialAbsent  = errors.New("no cached credential")
	ErrCredentialExpired = errors.New("cached credential expired")
	ErrVaultStorage      = errors.New("credential storage failure")
)

// selector.

var (
	ErrNoNodes          = errors.New("no nodes configured in cluster")
	ErrNoReachableNode  = errors.New("no reachable node")
	ErrWriteNodeDown    = errors.New("write node unreachable")
	ErrUnknownOperation = errors.New("unknown operation class")
)

// pool.

var (
	ErrPoolDrained = errors.New("connection pool drained")
	ErrBindFailed  = errors.New("ldap bind rejected")
)

// gateway.

var (
	ErrPagingUnsupported = errors.New("server returned no paging cookie")
	ErrIteratorClosed    = errors.New("paged iterator closed")
	ErrMissingField      = errors.New("placeholder references missing field")
	ErrUIDExhausted      = errors.New("uidNumber allocation failed after retries")
)

// config.

var (
	ErrUnknownCluster = errors.New("unknown cluster")
	ErrClusterNoForm  = errors.New("no user creation form configured")
)
