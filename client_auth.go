package oauth

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/authkit/oauth2-server/storage"
)

// PublicClientIDHeader lets public clients identify themselves. Public
// clients hold no secret, so the header is an identification, not an
// authentication.
const PublicClientIDHeader = "X-OAuth2-Public-Client-ID"

// ClientResolver resolves the OAuth client behind a request.
//
// Confidential clients authenticate with HTTP Basic; public clients
// identify themselves with the PublicClientIDHeader header. A request with
// neither resolves to an anonymous (nil, nil) outcome. Presented-but-wrong
// credentials yield an *AuthenticateError carrying the challenge headers.
type ClientResolver struct {
	clients storage.ClientStore
	realm   string
	logger  *slog.Logger
}

// NewClientResolver creates a client resolver. realm appears in the Basic
// authentication challenge.
func NewClientResolver(clients storage.ClientStore, realm string, logger *slog.Logger) *ClientResolver {
	if realm == "" {
		realm = "oauth2"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientResolver{clients: clients, realm: realm, logger: logger}
}

// Resolve returns the client behind the request, nil for an anonymous
// request, or an error when credentials were presented and rejected.
func (cr *ClientResolver) Resolve(r *http.Request) (*storage.Client, error) {
	if id, secret, ok := r.BasicAuth(); ok {
		return cr.resolveConfidential(r, id, secret)
	}

	if id := r.Header.Get(PublicClientIDHeader); id != "" {
		return cr.resolvePublic(r, id)
	}

	return nil, nil
}

func (cr *ClientResolver) resolveConfidential(r *http.Request, id, secret string) (*storage.Client, error) {
	client, err := cr.clients.GetClient(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load client %q: %w", id, err)
	}
	if client == nil || !client.Confidential {
		cr.logger.Warn("Client authentication failed", "client_id", id, "reason", "unknown_client")
		return nil, cr.challenge()
	}

	if err := cr.clients.ValidateClientSecret(r.Context(), id, secret); err != nil {
		cr.logger.Warn("Client authentication failed", "client_id", id, "reason", "bad_secret")
		return nil, cr.challenge()
	}

	return client, nil
}

func (cr *ClientResolver) resolvePublic(r *http.Request, id string) (*storage.Client, error) {
	client, err := cr.clients.GetClient(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to load client %q: %w", id, err)
	}
	if client == nil || client.Confidential {
		cr.logger.Warn("Client identification failed", "client_id", id, "reason", "not_a_public_client")
		return nil, NewAuthenticateError(
			ErrInvalidClient("Client authentication failed"),
			http.Header{},
		)
	}

	return client, nil
}

// challenge builds the Basic authentication challenge error.
func (cr *ClientResolver) challenge() *AuthenticateError {
	headers := http.Header{}
	headers.Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", cr.realm))
	return NewAuthenticateError(ErrInvalidClient("Client authentication failed"), headers)
}
