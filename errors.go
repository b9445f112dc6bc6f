package oauth

import (
	"fmt"
	"net/http"
	"net/url"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedTokenType    = "unsupported_token_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description
	URI         string // Optional URI with more information about the error
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Response converts the error to its JSON wire shape. The error_uri is
// URL-encoded as a whole, matching how clients of this server historically
// consumed it.
func (e *OAuthError) Response() ErrorResponse {
	resp := ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
	}
	if e.URI != "" {
		resp.ErrorURI = url.QueryEscape(e.URI)
	}
	return resp
}

// WithURI returns a copy of the error carrying the given error_uri.
func (e *OAuthError) WithURI(uri string) *OAuthError {
	out := *e
	out.URI = uri
	return &out
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the presented grant (credentials, code, refresh token) is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidScope indicates the requested scope is invalid or exceeds what is available
	ErrInvalidScope = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
	}

	// ErrUnauthorizedClient indicates the client is not registered for the requested grant type
	ErrUnauthorizedClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates no handler is registered for the grant type
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusNotImplemented)
	}

	// ErrUnsupportedResponseType indicates no handler is registered for the response type
	ErrUnsupportedResponseType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedResponseType, desc, http.StatusNotImplemented)
	}

	// ErrUnsupportedTokenType indicates the revocation endpoint cannot handle the hinted token type
	ErrUnsupportedTokenType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedTokenType, desc, http.StatusNotImplemented)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the resource owner or the server denied the request
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
	}
)

// AuthenticateError is an OAuth error carrying authentication challenge
// headers. It is returned when credentials were presented but rejected; the
// handler writes the headers (typically WWW-Authenticate) alongside the error
// body.
type AuthenticateError struct {
	*OAuthError
	Headers http.Header
}

// NewAuthenticateError wraps err with challenge headers.
func NewAuthenticateError(err *OAuthError, headers http.Header) *AuthenticateError {
	return &AuthenticateError{OAuthError: err, Headers: headers}
}

// Unwrap exposes the underlying OAuthError to errors.As.
func (e *AuthenticateError) Unwrap() error {
	return e.OAuthError
}

// RedirectError is an OAuth error that must be delivered to the client by
// redirecting the user agent, with the error parameters carried in the query
// or fragment part of the redirect URI depending on TransportMode.
type RedirectError struct {
	*OAuthError
	RedirectURI   string
	TransportMode string // ResponseModeQuery or ResponseModeFragment
	State         string
}

// NewRedirectError wraps err for redirect delivery.
func NewRedirectError(err *OAuthError, redirectURI, transportMode, state string) *RedirectError {
	return &RedirectError{
		OAuthError:    err,
		RedirectURI:   redirectURI,
		TransportMode: transportMode,
		State:         state,
	}
}

// Unwrap exposes the underlying OAuthError to errors.As.
func (e *RedirectError) Unwrap() error {
	return e.OAuthError
}

// Params returns the error parameters to merge into the redirect URI.
func (e *RedirectError) Params() map[string]string {
	params := map[string]string{
		"error": e.Code,
	}
	if e.Description != "" {
		params["error_description"] = e.Description
	}
	if e.URI != "" {
		params["error_uri"] = e.URI
	}
	if e.State != "" {
		params["state"] = e.State
	}
	return params
}
