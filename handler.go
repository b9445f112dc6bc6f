package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/authkit/oauth2-server/instrumentation"
	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
)

// Handler exposes the authorization server over HTTP.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates an HTTP handler for the server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{server: server, logger: logger}
	if server.inst != nil {
		h.tracer = server.inst.Tracer("http")
	}
	return h
}

// RegisterRoutes mounts the endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/token", h.ServeToken)
	mux.HandleFunc("/token/revocation", h.ServeTokenRevocation)
	mux.HandleFunc("/.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
}

// ServeToken handles the OAuth 2.0 token endpoint.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
		r = r.WithContext(ctx)
	}

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest("Failed to parse request"))
		return
	}

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if !h.checkRateLimit(w, ctx, "token", clientIP) {
		h.recordHTTPMetrics("token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	grantType := r.PostFormValue("grant_type")
	if grantType == "" {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "grant_type missing")
		h.writeOAuthError(w, ErrInvalidRequest(`Parameter "grant_type" is missing.`))
		return
	}

	grantHandler, ok := h.server.grantTypes[grantType]
	if !ok {
		h.recordHTTPMetrics("token", r.Method, http.StatusNotImplemented, startTime)
		instrumentation.SetSpanError(span, "unsupported grant type")
		h.writeOAuthError(w, ErrUnsupportedGrantType(fmt.Sprintf("Grant type %q not supported", grantType)))
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	resp := &GrantTypeResponse{
		RequestedScope: ParseScope(r.PostFormValue("scope")),
	}

	if err := grantHandler.PrepareGrantTypeResponse(ctx, r, resp); err != nil {
		h.recordHTTPMetrics("token", r.Method, statusOf(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeGrantError(w, err)
		return
	}

	client, err := h.resolveTokenRequestClient(w, r, resp, clientIP)
	if err != nil {
		h.recordHTTPMetrics("token", r.Method, statusOf(err), startTime)
		instrumentation.RecordError(span, err)
		return
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.PublicID))

	if !client.AllowsGrantType(grantType) {
		h.recordHTTPMetrics("token", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "grant type unauthorized for client")
		h.writeOAuthError(w, ErrUnauthorizedClient(fmt.Sprintf("The grant type %q is unauthorized for this client", grantType)))
		return
	}

	if h.server.inst != nil {
		h.server.inst.Metrics().RecordGrantDispatched(ctx, grantType, client.PublicID)
	}

	if err := grantHandler.GrantAccessToken(ctx, r, client, resp); err != nil {
		h.recordHTTPMetrics("token", r.Method, statusOf(err), startTime)
		instrumentation.RecordError(span, err)
		if h.server.auditor != nil {
			h.server.auditor.LogAuthFailure(resp.ResourceOwnerPublicID, client.PublicID, clientIP, "grant_rejected")
		}
		h.writeGrantError(w, err)
		return
	}

	// A grant that imposes no scope restriction of its own falls back to
	// the client's registered scopes.
	if resp.AvailableScope == nil && len(client.Scopes) > 0 {
		resp.AvailableScope = client.Scopes
	}

	tokenResp, err := h.server.issueTokens(ctx, client, resp)
	if err != nil {
		h.recordHTTPMetrics("token", r.Method, statusOf(err), startTime)
		instrumentation.RecordError(span, err)
		h.writeGrantError(w, err)
		return
	}

	h.logger.Info("Access token issued", "client_id", client.PublicID, "grant_type", grantType, "ip", clientIP)
	if h.server.auditor != nil {
		h.server.auditor.LogTokenIssued(resp.ResourceOwnerPublicID, client.PublicID, clientIP, grantType, tokenResp.Scope)
	}
	if h.server.inst != nil {
		h.server.inst.Metrics().RecordTokenIssued(ctx, grantType, client.PublicID, tokenResp.RefreshToken != "")
	}

	h.recordHTTPMetrics("token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, tokenResp)
}

// resolveTokenRequestClient resolves the client for a token request. When
// credentials resolved nothing but the grant named a subject (JWT-bearer),
// the client is fetched by that public ID. Errors are written to w; the
// caller only propagates them for metrics.
func (h *Handler) resolveTokenRequestClient(w http.ResponseWriter, r *http.Request, resp *GrantTypeResponse, clientIP string) (*storage.Client, error) {
	client, err := h.server.resolver.Resolve(r)
	if err != nil {
		if h.server.auditor != nil {
			h.server.auditor.LogAuthFailure("", "", clientIP, "client_authentication_failed")
		}
		if h.server.inst != nil {
			h.server.inst.Metrics().RecordAuthFailure(r.Context(), "client")
		}

		var authErr *AuthenticateError
		if errors.As(err, &authErr) {
			h.writeAuthenticateError(w, authErr)
			return nil, authErr.OAuthError
		}
		serverErr := ErrServerError("Failed to resolve client")
		h.writeOAuthError(w, serverErr)
		return nil, serverErr
	}

	if client == nil && resp.ClientPublicID != "" {
		client, err = h.server.GetClient(r.Context(), resp.ClientPublicID)
		if err != nil {
			serverErr := ErrServerError("Failed to load client")
			h.writeOAuthError(w, serverErr)
			return nil, serverErr
		}
		if client == nil {
			oauthErr := NewOAuthError(ErrorCodeInvalidClient, "Unknown client", http.StatusBadRequest)
			h.writeOAuthError(w, oauthErr)
			return nil, oauthErr
		}
		return client, nil
	}

	if client == nil {
		authErr := h.server.resolver.challenge()
		h.writeAuthenticateError(w, authErr)
		return nil, authErr.OAuthError
	}
	return client, nil
}

// checkRateLimit enforces the per-IP rate limit when one is configured.
// It writes the 429 response itself and returns false when the request is
// over the limit.
func (h *Handler) checkRateLimit(w http.ResponseWriter, ctx context.Context, endpoint, clientIP string) bool {
	if h.server.rateLimiter == nil {
		return true
	}
	if h.server.rateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "endpoint", endpoint, "ip", clientIP)
	if h.server.auditor != nil {
		h.server.auditor.LogRateLimitExceeded(clientIP, "")
	}
	if h.server.inst != nil {
		h.server.inst.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}

	h.writeOAuthError(w, NewOAuthError(ErrorCodeRateLimitExceeded, "Too many requests", http.StatusTooManyRequests))
	return false
}

// ServeAuthorizationServerMetadata serves RFC 8414 discovery metadata.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	grantTypes := make([]string, 0, len(h.server.grantTypes))
	for gt := range h.server.grantTypes {
		grantTypes = append(grantTypes, gt)
	}
	responseTypes := make([]string, 0, len(h.server.responseTypes))
	for rt := range h.server.responseTypes {
		responseTypes = append(responseTypes, rt)
	}

	metadata := AuthorizationServerMetadata{
		Issuer:                 h.server.config.Issuer,
		AuthorizationEndpoint:  h.server.config.Issuer + "/authorize",
		TokenEndpoint:          h.server.config.Issuer + "/token",
		RevocationEndpoint:     h.server.config.Issuer + "/token/revocation",
		ScopesSupported:        h.server.config.SupportedScopes,
		ResponseTypesSupported: responseTypes,
		GrantTypesSupported:    grantTypes,
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
		},
	}

	security.SetSecurityHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metadata)
}

// ServeAuthorization handles the authorization endpoint for an already
// authenticated resource owner. Authenticating the user (login, consent) is
// the embedding application's job; it calls this once the user is known.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request, user *storage.EndUser) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	if clientID == "" {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidRequest(`Parameter "client_id" is missing.`))
		return
	}

	client, err := h.server.GetClient(ctx, clientID)
	if err != nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, ErrServerError("Failed to load client"))
		return
	}
	if client == nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidClient, "Unknown client", http.StatusBadRequest))
		return
	}

	auth := &Authorization{
		Client:       client,
		EndUser:      user,
		Scope:        ParseScope(query.Get("scope")),
		State:        query.Get("state"),
		RedirectURI:  query.Get("redirect_uri"),
		ResponseType: query.Get("response_type"),
	}

	location, err := h.server.GrantAuthorization(ctx, auth)
	if err != nil {
		instrumentation.RecordError(span, err)

		var redirectErr *RedirectError
		if errors.As(err, &redirectErr) {
			loc, buildErr := BuildRedirectURI(redirectErr.RedirectURI, redirectErr.TransportMode, redirectErr.Params())
			if buildErr == nil {
				h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
				WriteRedirect(w, r, loc)
				return
			}
			err = ErrServerError("Failed to build the redirect URI")
		}
		h.recordHTTPMetrics("authorize", r.Method, statusOf(err), startTime)
		h.writeGrantError(w, err)
		return
	}

	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)
	WriteRedirect(w, r, location)
}

// writeTokenResponse writes a successful token response. Token material must
// never be cached.
func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *TokenResponse) {
	security.SetSecurityHeaders(w)
	security.SetTokenCacheHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// writeOAuthError writes an OAuth error as JSON, filling in the error_uri
// from configuration when the error does not carry one.
func (h *Handler) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	if oauthErr.URI == "" {
		oauthErr = oauthErr.WithURI(h.server.config.errorURI(oauthErr.Code))
	}

	security.SetSecurityHeaders(w)
	security.SetTokenCacheHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(oauthErr.Response())
}

// writeAuthenticateError writes a challenge error with its headers.
func (h *Handler) writeAuthenticateError(w http.ResponseWriter, authErr *AuthenticateError) {
	for key, values := range authErr.Headers {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	h.writeOAuthError(w, authErr.OAuthError)
}

// writeGrantError maps any grant failure onto the wire. Untyped errors never
// leak internals.
func (h *Handler) writeGrantError(w http.ResponseWriter, err error) {
	var authErr *AuthenticateError
	if errors.As(err, &authErr) {
		h.writeAuthenticateError(w, authErr)
		return
	}
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		h.writeOAuthError(w, oauthErr)
		return
	}
	h.writeOAuthError(w, ErrServerError("Internal server error"))
}

// statusOf extracts the HTTP status carried by an error, defaulting to 500.
func statusOf(err error) int {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr.Status
	}
	return http.StatusInternalServerError
}

func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.inst == nil {
		return
	}
	durationMs := float64(time.Since(startTime).Milliseconds())
	h.server.inst.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, durationMs)
}
