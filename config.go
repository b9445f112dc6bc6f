package oauth

import (
	"log/slog"

	"github.com/authkit/oauth2-server/security"
)

// ServerConfig holds authorization server configuration
type ServerConfig struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 1209600 (14 days)

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// TokenCharset is the alphabet opaque token strings are drawn from.
	// Default: security.DefaultTokenCharset
	TokenCharset string

	// AccessTokenMinLength / AccessTokenMaxLength bound the generated
	// access token string length. Defaults: 20 / 30.
	AccessTokenMinLength int
	AccessTokenMaxLength int

	// RefreshTokenMinLength / RefreshTokenMaxLength bound the generated
	// refresh token string length. Defaults: 20 / 30.
	RefreshTokenMinLength int
	RefreshTokenMaxLength int

	// DisableRevocationCascade turns off cascade revocation. By default,
	// revoking an access token also revokes its paired refresh token.
	DisableRevocationCascade bool

	// IssueRefreshTokenWithClientCredentialsGrant enables refresh token
	// issuance for the client_credentials and JWT-bearer grants.
	// Default: false (those flows can re-authenticate at will)
	IssueRefreshTokenWithClientCredentialsGrant bool

	// TrustProxy enables trusting X-Forwarded-For, X-Real-IP and
	// X-Forwarded-Proto headers.
	// WARNING: Only enable if behind a trusted reverse proxy.
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used to extract the client IP from X-Forwarded-For.
	// Default: 1
	TrustedProxyCount int

	// ClockSkewGracePeriod is the grace period for token expiration checks
	// (in seconds), preventing false expirations due to clock drift.
	// Default: 5
	ClockSkewGracePeriod int64

	// SupportedScopes lists the scopes that are allowed for clients.
	// If empty, all scopes are allowed.
	SupportedScopes []string

	// ErrorURIBase, when set, is prepended to error codes to build the
	// error_uri member of error responses, as "<base>/<code>".
	ErrorURIBase string
}

// applySecureDefaults applies secure-by-default configuration values.
// Principle: secure by default, opt-in for less secure options.
func applySecureDefaults(config *ServerConfig, logger *slog.Logger) *ServerConfig {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 3600 // 1 hour
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 1209600 // 14 days
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 600 // 10 minutes
	}
	if config.TokenCharset == "" {
		config.TokenCharset = security.DefaultTokenCharset
	}
	if config.AccessTokenMinLength == 0 {
		config.AccessTokenMinLength = 20
	}
	if config.AccessTokenMaxLength == 0 {
		config.AccessTokenMaxLength = 30
	}
	if config.RefreshTokenMinLength == 0 {
		config.RefreshTokenMinLength = 20
	}
	if config.RefreshTokenMaxLength == 0 {
		config.RefreshTokenMaxLength = 30
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5
	}

	if config.DisableRevocationCascade {
		logger.Warn("⚠️  SECURITY NOTICE: Revocation cascade is DISABLED",
			"risk", "Revoking an access token leaves its paired refresh token usable",
			"recommendation", "Leave DisableRevocationCascade=false unless clients manage token pairs themselves")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP and scheme spoofing if the proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"config", "TrustedProxyCount should match your proxy chain length")
	}

	return config
}

// errorURI builds the error_uri for a code, or "" when no base is configured.
func (c *ServerConfig) errorURI(code string) string {
	if c.ErrorURIBase == "" {
		return ""
	}
	return c.ErrorURIBase + "/" + code
}
