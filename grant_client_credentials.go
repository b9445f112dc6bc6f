package oauth

import (
	"context"
	"net/http"

	"github.com/authkit/oauth2-server/storage"
)

// ClientCredentialsGrantHandler implements the client credentials grant.
// Only confidential clients qualify; the client itself is the resource owner.
type ClientCredentialsGrantHandler struct {
	// issueRefreshToken elects refresh token issuance for this grant.
	// Off by default: a confidential client can always re-authenticate.
	issueRefreshToken bool
}

// NewClientCredentialsGrantHandler creates the client credentials grant handler.
func NewClientCredentialsGrantHandler(issueRefreshToken bool) *ClientCredentialsGrantHandler {
	return &ClientCredentialsGrantHandler{issueRefreshToken: issueRefreshToken}
}

// GrantType implements GrantTypeHandler.
func (h *ClientCredentialsGrantHandler) GrantType() string {
	return GrantTypeClientCredentials
}

// PrepareGrantTypeResponse implements GrantTypeHandler.
func (h *ClientCredentialsGrantHandler) PrepareGrantTypeResponse(ctx context.Context, r *http.Request, resp *GrantTypeResponse) error {
	return nil
}

// GrantAccessToken implements GrantTypeHandler.
func (h *ClientCredentialsGrantHandler) GrantAccessToken(ctx context.Context, r *http.Request, client *storage.Client, resp *GrantTypeResponse) error {
	if !client.Confidential {
		return NewOAuthError(ErrorCodeInvalidClient, "The client is not a confidential client", http.StatusBadRequest)
	}

	resp.ResourceOwnerPublicID = client.PublicID
	resp.IssueRefreshToken = h.issueRefreshToken
	return nil
}
