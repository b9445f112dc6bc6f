package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/authkit/oauth2-server/storage"
)

// RefreshTokenGrantHandler implements the refresh token grant with
// rotation: the presented token is marked used and revoked, and a fresh
// refresh token is issued alongside the new access token.
type RefreshTokenGrantHandler struct {
	refreshTokens storage.RefreshTokenManager

	// clockSkewGrace extends the expiry check so a token is not rejected
	// over clock drift between the issuing and the validating host.
	clockSkewGrace time.Duration

	logger *slog.Logger
}

// NewRefreshTokenGrantHandler creates the refresh token grant handler.
// graceSeconds is the clock skew tolerance applied to expiry checks.
func NewRefreshTokenGrantHandler(refreshTokens storage.RefreshTokenManager, graceSeconds int64, logger *slog.Logger) *RefreshTokenGrantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTokenGrantHandler{
		refreshTokens:  refreshTokens,
		clockSkewGrace: time.Duration(graceSeconds) * time.Second,
		logger:         logger,
	}
}

// GrantType implements GrantTypeHandler.
func (h *RefreshTokenGrantHandler) GrantType() string {
	return GrantTypeRefreshToken
}

// PrepareGrantTypeResponse implements GrantTypeHandler.
func (h *RefreshTokenGrantHandler) PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error {
	if r.PostFormValue("refresh_token") == "" {
		return ErrInvalidRequest(`Parameter "refresh_token" is missing.`)
	}
	return nil
}

// GrantAccessToken implements GrantTypeHandler.
func (h *RefreshTokenGrantHandler) GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error {
	presented := r.PostFormValue("refresh_token")

	token, err := h.refreshTokens.GetRefreshToken(ctx, presented)
	if err != nil {
		return ErrServerError("Failed to look up refresh token")
	}
	if token == nil || token.Used || !token.ExpiresAt.Add(h.clockSkewGrace).After(time.Now()) {
		return ErrInvalidGrant("Refresh token is invalid or expired")
	}
	if token.ClientPublicID != client.PublicID {
		h.logger.Warn("Refresh token presented by wrong client", "client_id", client.PublicID)
		return ErrInvalidGrant("Refresh token is invalid or expired")
	}

	requested := ParseScope(r.PostFormValue("scope"))
	if !scopeWithin(requested, token.Scope) {
		return ErrInvalidScope("The requested scope exceeds the scope of the refresh token")
	}

	// Rotate: the old token must never satisfy another refresh. Marking it
	// used is enough to block replay; the revoke itself is deferred until the
	// new pair is issued, so a failed issuance does not destroy the token.
	if err := h.refreshTokens.MarkRefreshTokenUsed(ctx, token.Token); err != nil {
		return ErrServerError("Failed to rotate refresh token")
	}

	resp.ResourceOwnerPublicID = token.ResourceOwnerPublicID
	resp.RequestedScope = requested
	resp.AvailableScope = token.Scope
	resp.IssueRefreshToken = true
	resp.RefreshTokenScope = token.Scope
	resp.RevokedRefreshToken = token.Token
	return nil
}
