package oauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/authkit/oauth2-server/storage"
)

// Grant type identifiers
const (
	GrantTypePassword          = "password"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

// GrantTypeResponse accumulates the outcome of a grant type handler across
// the prepare and grant phases. A fresh value is created per token request;
// handlers never share state through it.
type GrantTypeResponse struct {
	// ClientPublicID is set during prepare when the grant itself names the
	// client (JWT-bearer assertions carry it in the "sub" claim). The token
	// endpoint fetches the client by this ID when no credentials resolved one.
	ClientPublicID string

	// ResourceOwnerPublicID identifies who the access token is issued for.
	// For client-authenticated grants this equals the client's public ID.
	ResourceOwnerPublicID string

	// RequestedScope and AvailableScope drive the granted-scope computation:
	// the request must stay within what is available, and an empty request
	// falls back to everything available. Nil AvailableScope means the grant
	// imposes no restriction of its own.
	RequestedScope []string
	AvailableScope []string

	// IssueRefreshToken elects refresh token issuance alongside the access
	// token. RefreshTokenScope overrides the refresh token's scope; when nil
	// the granted scope is used.
	IssueRefreshToken bool
	RefreshTokenScope []string

	// RevokedRefreshToken is the refresh token string rotated out by this
	// grant, recorded for audit.
	RevokedRefreshToken string
}

// GrantTypeHandler issues access tokens for one grant_type value.
//
// PrepareGrantTypeResponse runs before client resolution and extracts
// whatever the grant carries about the requesting subject.
// GrantAccessToken runs after the client is resolved and authorized for the
// grant type; it validates the grant and fills in the response.
type GrantTypeHandler interface {
	GrantType() string
	PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error
	GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error
}

// ParseScope splits a space-separated scope string, per RFC 6749 section 3.3.
func ParseScope(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// JoinScope is the inverse of ParseScope.
func JoinScope(scope []string) string {
	return strings.Join(scope, " ")
}

// scopeWithin reports whether every element of requested is in available.
func scopeWithin(requested, available []string) bool {
	for _, r := range requested {
		found := false
		for _, a := range available {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// grantedScope computes the scope to issue. An empty request takes the whole
// available scope; a request outside the available scope is invalid. A nil
// available scope means unrestricted.
func grantedScope(requested, available []string) ([]string, *OAuthError) {
	if len(requested) == 0 {
		return available, nil
	}
	if available == nil {
		return requested, nil
	}
	if !scopeWithin(requested, available) {
		return nil, ErrInvalidScope("The requested scope exceeds what is available")
	}
	return requested, nil
}
