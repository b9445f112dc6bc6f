package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
)

// Authorization is a validated authorization request: the client, the
// authenticated resource owner, and what is being asked for.
type Authorization struct {
	Client       *storage.Client
	EndUser      *storage.EndUser
	Scope        []string
	State        string
	RedirectURI  string
	ResponseType string
}

// ResponseTypeHandler produces the authorization response parameters for
// one response_type value. ResponseMode names the transport part of the
// redirect URI the parameters travel in.
type ResponseTypeHandler interface {
	ResponseType() string
	ResponseMode() string
	GrantAuthorization(ctx context.Context, auth *Authorization) (map[string]string, error)
}

// GrantAuthorization runs an authorization through its response type
// handler and returns the redirect location carrying the response.
// Failures after redirect URI validation come back as *RedirectError so the
// HTTP layer can deliver them to the client.
func (s *Server) GrantAuthorization(ctx context.Context, auth *Authorization) (string, error) {
	if auth.Client == nil {
		return "", ErrInvalidRequest("Client is required")
	}
	if auth.EndUser == nil {
		return "", ErrInvalidRequest("Resource owner is required")
	}

	if err := s.validateRedirectURI(auth.Client, auth.RedirectURI); err != nil {
		return "", err
	}

	handler, ok := s.responseTypes[auth.ResponseType]
	if !ok {
		return "", ErrUnsupportedResponseType(fmt.Sprintf("Response type %q not supported", auth.ResponseType))
	}

	if len(s.config.SupportedScopes) > 0 && !scopeWithin(auth.Scope, s.config.SupportedScopes) {
		return "", NewRedirectError(
			ErrInvalidScope("The requested scope is not supported by this server"),
			auth.RedirectURI, handler.ResponseMode(), auth.State,
		)
	}

	params, err := handler.GrantAuthorization(ctx, auth)
	if err != nil {
		if oauthErr, ok := err.(*OAuthError); ok {
			return "", NewRedirectError(oauthErr, auth.RedirectURI, handler.ResponseMode(), auth.State)
		}
		s.logger.Error("Authorization grant failed", "client_id", auth.Client.PublicID, "error", err)
		return "", NewRedirectError(
			ErrServerError("Failed to process the authorization"),
			auth.RedirectURI, handler.ResponseMode(), auth.State,
		)
	}

	if auth.State != "" {
		params["state"] = auth.State
	}

	location, err := BuildRedirectURI(auth.RedirectURI, handler.ResponseMode(), params)
	if err != nil {
		return "", ErrServerError("Failed to build the redirect URI")
	}

	if s.auditor != nil {
		s.auditor.LogEvent(security.Event{
			Type:     "authorization_granted",
			UserID:   auth.EndUser.PublicID,
			ClientID: auth.Client.PublicID,
			Details: map[string]any{
				"response_type": auth.ResponseType,
				"scope":         JoinScope(auth.Scope),
			},
		})
	}
	return location, nil
}

// validateRedirectURI checks the URI against the client's registered URIs
// and baseline security rules: absolute, no fragment, no credentials, and
// no schemes that can execute script in the user agent.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return ErrInvalidRequest(`Parameter "redirect_uri" is missing.`)
	}

	u, err := url.Parse(redirectURI)
	if err != nil || !u.IsAbs() {
		return ErrInvalidRequest("The redirect URI must be an absolute URI")
	}
	if u.Fragment != "" {
		return ErrInvalidRequest("The redirect URI must not contain a fragment")
	}
	if u.User != nil {
		return ErrInvalidRequest("The redirect URI must not contain credentials")
	}
	switch strings.ToLower(u.Scheme) {
	case "javascript", "data", "vbscript", "file":
		return ErrInvalidRequest("The redirect URI scheme is not allowed")
	}

	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return nil
		}
	}
	return ErrInvalidRequest("The redirect URI is not registered for this client")
}
