package oauth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/authkit/oauth2-server/storage"
)

// PasswordGrantHandler implements the resource owner password credentials
// grant. The resource owner's username and password arrive in the request
// body and are checked against the end-user store.
type PasswordGrantHandler struct {
	users  storage.EndUserStore
	logger *slog.Logger
}

// NewPasswordGrantHandler creates the password grant handler.
func NewPasswordGrantHandler(users storage.EndUserStore, logger *slog.Logger) *PasswordGrantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PasswordGrantHandler{users: users, logger: logger}
}

// GrantType implements GrantTypeHandler.
func (h *PasswordGrantHandler) GrantType() string {
	return GrantTypePassword
}

// PrepareGrantTypeResponse implements GrantTypeHandler.
// The password grant learns nothing about the subject before client
// resolution.
func (h *PasswordGrantHandler) PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error {
	return nil
}

// GrantAccessToken implements GrantTypeHandler.
func (h *PasswordGrantHandler) GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error {
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		return ErrInvalidRequest(`Parameters "username" and "password" are required`)
	}

	if err := h.users.ValidateEndUserPassword(ctx, username, password); err != nil {
		h.logger.Warn("Resource owner authentication failed", "username_present", true, "client_id", client.PublicID)
		return ErrInvalidGrant("Invalid username and password combination")
	}

	user, err := h.users.GetEndUser(ctx, username)
	if err != nil {
		return ErrServerError("Failed to load resource owner")
	}
	if user == nil {
		return ErrInvalidGrant("Invalid username and password combination")
	}

	resp.ResourceOwnerPublicID = user.PublicID
	resp.IssueRefreshToken = h.refreshTokenAllowed(ctx, user.PublicID, client)
	return nil
}

// refreshTokenAllowed consults the end-user store's issuance hook when it
// implements one; the default for the password grant is to issue.
func (h *PasswordGrantHandler) refreshTokenAllowed(ctx context.Context, userID string, client *storage.Client) bool {
	decider, ok := h.users.(storage.RefreshTokenIssuanceDecider)
	if !ok {
		return true
	}

	allowed, ruled, err := decider.RefreshTokenIssuanceAllowed(ctx, userID, client, GrantTypePassword)
	if err != nil {
		h.logger.Warn("Refresh token issuance hook failed, issuing by default", "error", err)
		return true
	}
	if !ruled {
		return true
	}
	return allowed
}
