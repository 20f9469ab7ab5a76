// Package serviceerr defines the errors surfaced by the session service.
// Codes follow RFC 6749 where one applies, custom codes cover the session
// lifecycle and the downstream Search Console API.
package serviceerr

import (
	"errors"
	"net/http"
)

type Code string

// RFC6749 authorization errors
const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeUnauthorizedClient      Code = "unauthorized_client"
	CodeAccessDenied            Code = "access_denied"
	CodeUnsupportedResponseType Code = "unsupported_response_type"
	CodeInvalidScope            Code = "invalid_scope"
	CodeServerError             Code = "server_error"
	CodeTemporarilyUnavailable  Code = "temporarily_unavailable"
)

// RFC6749 token errors
const (
	CodeInvalidClient        Code = "invalid_client"
	CodeInvalidGrant         Code = "invalid_grant"
	CodeUnsupportedGrantType Code = "unsupported_grant_type"
)

// Custom codes
const (
	CodeUnknown             Code = "unknown"
	CodeConflict            Code = "conflict"
	CodeNotFound            Code = "not_found"
	CodeFingerprintMismatch Code = "fingerprint_mismatch"
	CodeSessionExpired      Code = "session_expired"
	CodeProviderError       Code = "provider_error"
	CodeExchangeFailed      Code = "exchange_failed"
	CodeScopeMismatch       Code = "scope_mismatch"
	CodeNotAuthenticated    Code = "not_authenticated"
	CodeUnauthenticated     Code = "unauthenticated"
	CodeFetchFailed         Code = "fetch_failed"
	CodeNoSiteSelected      Code = "no_site_selected"
)

type Error struct {
	Err         Code
	Description string
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Err)
	}

	return string(e.Err) + ": " + e.Description
}

// HTTPStatus maps the error code onto the status returned by the HTTP API.
func (e *Error) HTTPStatus() int {
	switch e.Err {
	case CodeInvalidRequest, CodeUnsupportedResponseType, CodeInvalidScope,
		CodeInvalidClient, CodeInvalidGrant, CodeUnsupportedGrantType,
		CodeNoSiteSelected:
		return http.StatusBadRequest
	case CodeUnauthorizedClient, CodeNotAuthenticated, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeAccessDenied, CodeFingerprintMismatch, CodeScopeMismatch:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeSessionExpired:
		return http.StatusGone
	case CodeProviderError, CodeExchangeFailed, CodeFetchFailed:
		return http.StatusBadGateway
	case CodeTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As extracts the service error from err. Errors that carry no service
// error are reported as ErrUnknown.
func As(err error) *Error {
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}

	return ErrUnknown
}

// RFC6749 authorization errors
var (
	ErrInvalidRequest          = &Error{Err: CodeInvalidRequest}
	ErrUnauthorizedClient      = &Error{Err: CodeUnauthorizedClient}
	ErrAccessDenied            = &Error{Err: CodeAccessDenied, Description: "the user declined the consent screen"}
	ErrUnsupportedResponseType = &Error{Err: CodeUnsupportedResponseType}
	ErrInvalidScope            = &Error{Err: CodeInvalidScope}
	ErrServerError             = &Error{Err: CodeServerError}
	ErrTemporarilyUnavailable  = &Error{Err: CodeTemporarilyUnavailable}
)

// RFC6749 token errors
var (
	ErrInvalidClient        = &Error{Err: CodeInvalidClient}
	ErrInvalidGrant         = &Error{Err: CodeInvalidGrant}
	ErrUnsupportedGrantType = &Error{Err: CodeUnsupportedGrantType}
)

// Custom errors
var (
	ErrUnknown             = &Error{Err: CodeUnknown, Description: "unknown error"}
	ErrConflict            = &Error{Err: CodeConflict, Description: "already exists"}
	ErrNotFound            = &Error{Err: CodeNotFound, Description: "not found"}
	ErrFingerprintMismatch = &Error{Err: CodeFingerprintMismatch, Description: "fingerprint mismatch"}
	ErrSessionExpired      = &Error{Err: CodeSessionExpired, Description: "session expired, start the login again"}
	ErrProviderError       = &Error{Err: CodeProviderError, Description: "the identity provider rejected the authorization"}
	ErrExchangeFailed      = &Error{Err: CodeExchangeFailed, Description: "exchanging the authorization code failed"}
	ErrScopeMismatch       = &Error{Err: CodeScopeMismatch, Description: "the granted scopes do not include the required capability"}
	ErrNotAuthenticated    = &Error{Err: CodeNotAuthenticated, Description: "not connected, log in first"}
	ErrUnauthenticated     = &Error{Err: CodeUnauthenticated, Description: "the access token was rejected, reconnect required"}
	ErrFetchFailed         = &Error{Err: CodeFetchFailed, Description: "fetching search analytics failed"}
	ErrNoSiteSelected      = &Error{Err: CodeNoSiteSelected, Description: "no site selected"}
)
