package oauth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/authkit/oauth2-server/storage"
)

// JWTBearerGrantHandler implements the JWT-bearer assertion grant
// (RFC 7523). The assertion's "sub" claim names the client; the token
// endpoint resolves that client and the finalize phase verifies the
// signature against the client's registered key.
type JWTBearerGrantHandler struct {
	loader            AssertionLoader
	issueRefreshToken bool
	logger            *slog.Logger
}

// NewJWTBearerGrantHandler creates the JWT-bearer grant handler.
func NewJWTBearerGrantHandler(loader AssertionLoader, issueRefreshToken bool, logger *slog.Logger) *JWTBearerGrantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTBearerGrantHandler{
		loader:            loader,
		issueRefreshToken: issueRefreshToken,
		logger:            logger,
	}
}

// GrantType implements GrantTypeHandler.
func (h *JWTBearerGrantHandler) GrantType() string {
	return GrantTypeJWTBearer
}

// PrepareGrantTypeResponse implements GrantTypeHandler.
func (h *JWTBearerGrantHandler) PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error {
	assertion := r.PostFormValue("assertion")
	if assertion == "" {
		return ErrInvalidRequest(`Parameter "assertion" is missing.`)
	}

	decoded, err := h.loader.Load(assertion)
	if err != nil {
		return ErrInvalidRequest("Assertion does not contain signed claims.")
	}
	if decoded.Subject == "" {
		return ErrInvalidRequest(`Assertion does not contain "sub" claims.`)
	}

	resp.ClientPublicID = decoded.Subject
	return nil
}

// GrantAccessToken implements GrantTypeHandler.
func (h *JWTBearerGrantHandler) GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error {
	if !client.SupportsAssertions() {
		return NewOAuthError(ErrorCodeInvalidClient, "The client is not a client assertion type", http.StatusBadRequest)
	}

	assertion := r.PostFormValue("assertion")
	if err := h.loader.Verify(assertion, client); err != nil {
		h.logger.Warn("Assertion verification failed", "client_id", client.PublicID, "error", err)
		return NewOAuthError(ErrorCodeInvalidClient, "Invalid assertion", http.StatusBadRequest)
	}

	resp.ResourceOwnerPublicID = client.PublicID
	resp.IssueRefreshToken = h.issueRefreshToken
	return nil
}
