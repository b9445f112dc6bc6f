// Package storage defines the domain types and interfaces for persisting
// OAuth clients, end users, tokens, and authorization codes.
// It supports various backend implementations; the in-memory reference
// implementation lives in storage/memory.
package storage

import (
	"context"
	"time"
)

// Token kind names, used for per-client lifetime overrides and as the
// token_type_hint values accepted by the revocation endpoint.
const (
	TokenKindAccessToken  = "access_token"
	TokenKindRefreshToken = "refresh_token"
)

// Client represents a registered OAuth client.
//
// A confidential client holds a secret and must authenticate with it;
// a public client cannot reliably keep a secret and is trusted only within
// weaker bounds (its tokens may be revoked anonymously, for instance).
type Client struct {
	PublicID     string
	Confidential bool

	// SecretHash is the bcrypt hash of the client secret.
	// Empty for public clients.
	SecretHash string

	AllowedGrantTypes []string
	RedirectURIs      []string
	Scopes            []string

	// TokenLifetimes overrides the server-wide token lifetimes for this
	// client, in seconds, keyed by token kind (TokenKindAccessToken,
	// TokenKindRefreshToken).
	TokenLifetimes map[string]int64

	// AssertionKey holds the key material used to verify signed assertions
	// presented by this client (JWT-bearer grant): an HMAC secret or a
	// PEM-encoded RSA/ECDSA public key. Empty when the client does not
	// authenticate with assertions.
	AssertionKey []byte

	// AssertionAlgorithms restricts the accepted assertion signing
	// algorithms. Empty means the loader's defaults apply.
	AssertionAlgorithms []string

	CreatedAt time.Time
}

// TokenLifetime returns the client's lifetime override for the given token
// kind in seconds. The second return value reports whether an override is set.
func (c *Client) TokenLifetime(kind string) (int64, bool) {
	if c.TokenLifetimes == nil {
		return 0, false
	}
	lifetime, ok := c.TokenLifetimes[kind]
	return lifetime, ok
}

// AllowsGrantType reports whether the client is registered for the grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.AllowedGrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// SupportsAssertions reports whether the client can authenticate with
// signed assertions.
func (c *Client) SupportsAssertions() bool {
	return len(c.AssertionKey) > 0
}

// AccessToken is an opaque bearer token issued to a client.
type AccessToken struct {
	// Token is the opaque token string, unique across all live access tokens.
	Token string

	ClientPublicID        string
	ResourceOwnerPublicID string
	Scope                 []string
	ExpiresAt             time.Time

	// RefreshToken is a back-reference (not ownership) to the refresh token
	// issued alongside this access token, if any. Revoking the access token
	// cascades to this refresh token when the server is configured to do so.
	RefreshToken string
}

// ExpiresIn returns the remaining lifetime in whole seconds at the given time.
func (t *AccessToken) ExpiresIn(now time.Time) int64 {
	return int64(t.ExpiresAt.Sub(now).Seconds())
}

// RefreshToken is an opaque token that can be exchanged for a new access token.
type RefreshToken struct {
	Token                 string
	ClientPublicID        string
	ResourceOwnerPublicID string
	Scope                 []string
	ExpiresAt             time.Time

	// Used is set when the token has been rotated out. A used refresh token
	// must never again satisfy a refresh grant.
	Used bool
}

// AuthorizationCode is a single-use code issued by the authorization endpoint.
type AuthorizationCode struct {
	Code                  string
	ClientPublicID        string
	ResourceOwnerPublicID string
	RedirectURI           string
	Scope                 []string
	CodeChallenge         string
	CodeChallengeMethod   string
	ExpiresAt             time.Time
	Used                  bool
}

// EndUser is a resource owner known to the authorization server.
type EndUser struct {
	PublicID string

	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string

	LastLoginAt time.Time
}

// AccessTokenManager creates, looks up, and revokes access tokens.
//
// Lookups return (nil, nil) when the token is absent or expired; errors are
// reserved for backend failures. All methods accept context.Context for
// tracing and cancellation. Implementations must provide their own internal
// synchronization: concurrent creates must each yield a globally unique
// token string.
type AccessTokenManager interface {
	// CreateAccessToken generates a new opaque access token for the client
	// and resource owner. refreshToken, when non-empty, is stored as the
	// back-reference to the paired refresh token.
	CreateAccessToken(ctx context.Context, client *Client, resourceOwnerID string, scope []string, refreshToken string) (*AccessToken, error)

	// GetAccessToken looks up a live access token by its string.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// RevokeAccessToken invalidates the token. Revoking an absent token is
	// a no-op, never an error.
	RevokeAccessToken(ctx context.Context, token string) error
}

// RefreshTokenManager creates, looks up, revokes, and rotates refresh tokens.
// Same conventions as AccessTokenManager.
type RefreshTokenManager interface {
	CreateRefreshToken(ctx context.Context, client *Client, resourceOwnerID string, scope []string) (*RefreshToken, error)

	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken invalidates the token. Idempotent.
	RevokeRefreshToken(ctx context.Context, token string) error

	// MarkRefreshTokenUsed flags the token as rotated out. A used token
	// behaves as absent for refresh grants but remains visible to the
	// revocation endpoint until revoked or expired.
	MarkRefreshTokenUsed(ctx context.Context, token string) error
}

// ClientStore manages registered OAuth clients.
// GetClient returns (nil, nil) for unknown clients.
type ClientStore interface {
	SaveClient(ctx context.Context, client *Client) error

	GetClient(ctx context.Context, publicID string) (*Client, error)

	// ValidateClientSecret checks the secret against the stored hash.
	ValidateClientSecret(ctx context.Context, publicID, secret string) error

	ListClients(ctx context.Context) ([]*Client, error)
}

// EndUserStore manages resource owners.
type EndUserStore interface {
	SaveEndUser(ctx context.Context, user *EndUser) error

	GetEndUser(ctx context.Context, publicID string) (*EndUser, error)

	// ValidateEndUserPassword checks the password against the stored hash.
	ValidateEndUserPassword(ctx context.Context, publicID, password string) error
}

// RefreshTokenIssuanceDecider is an optional extension of EndUserStore that
// lets the resource owner veto refresh-token issuance for a given client and
// grant type. ruled reports whether a rule exists; when false the server's
// default policy applies.
type RefreshTokenIssuanceDecider interface {
	RefreshTokenIssuanceAllowed(ctx context.Context, userID string, client *Client, grantType string) (allowed, ruled bool, err error)
}

// AuthorizationCodeStore manages single-use authorization codes.
type AuthorizationCodeStore interface {
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns (nil, nil) for unknown codes.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// AtomicCheckAndMarkAuthCodeUsed atomically checks that the code exists,
	// is unexpired and unused, and marks it used. The operation MUST be
	// atomic so concurrent exchanges of the same code cannot both succeed.
	AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*AuthorizationCode, error)

	DeleteAuthorizationCode(ctx context.Context, code string) error
}
