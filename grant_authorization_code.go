package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/authkit/oauth2-server/storage"
)

// AuthorizationCodeGrantHandler exchanges single-use authorization codes
// for access tokens, with PKCE verification when the code carries a
// challenge.
type AuthorizationCodeGrantHandler struct {
	codes  storage.AuthorizationCodeStore
	logger *slog.Logger
}

// NewAuthorizationCodeGrantHandler creates the authorization code grant handler.
func NewAuthorizationCodeGrantHandler(codes storage.AuthorizationCodeStore, logger *slog.Logger) *AuthorizationCodeGrantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizationCodeGrantHandler{codes: codes, logger: logger}
}

// GrantType implements GrantTypeHandler.
func (h *AuthorizationCodeGrantHandler) GrantType() string {
	return GrantTypeAuthorizationCode
}

// PrepareGrantTypeResponse implements GrantTypeHandler.
func (h *AuthorizationCodeGrantHandler) PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error {
	if r.PostFormValue("code") == "" {
		return ErrInvalidRequest(`Parameter "code" is missing.`)
	}
	return nil
}

// GrantAccessToken implements GrantTypeHandler.
func (h *AuthorizationCodeGrantHandler) GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error {
	presented := r.PostFormValue("code")

	// The check-and-mark must be atomic: a replayed code loses the race and
	// fails instead of yielding a second token.
	code, err := h.codes.AtomicCheckAndMarkAuthCodeUsed(ctx, presented)
	if err != nil {
		return ErrServerError("Failed to look up authorization code")
	}
	if code == nil {
		return ErrInvalidGrant("Authorization code is invalid, expired, or already used")
	}

	if code.ClientPublicID != client.PublicID {
		h.logger.Warn("Authorization code presented by wrong client", "client_id", client.PublicID)
		return ErrInvalidGrant("Authorization code is invalid, expired, or already used")
	}

	if code.RedirectURI != "" && r.PostFormValue("redirect_uri") != code.RedirectURI {
		return ErrInvalidGrant("The redirect URI does not match the authorization request")
	}

	if err := verifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, r.PostFormValue("code_verifier")); err != nil {
		h.logger.Warn("PKCE verification failed", "client_id", client.PublicID, "error", err)
		return ErrInvalidGrant("PKCE verification failed")
	}

	resp.ResourceOwnerPublicID = code.ResourceOwnerPublicID
	resp.AvailableScope = code.Scope
	resp.IssueRefreshToken = true
	return nil
}

// verifyPKCE validates the code verifier against the challenge per RFC 7636.
// Codes issued without a challenge skip verification.
func verifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}

	// RFC 7636: code_verifier must be 43-128 characters of [A-Za-z0-9-._~]
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code_verifier must be 43-128 characters (RFC 7636)")
	}
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	if method != "" && method != "S256" {
		return fmt.Errorf("unsupported code_challenge_method: %s (supported: S256)", method)
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}
