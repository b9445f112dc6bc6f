package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/authkit/oauth2-server/instrumentation"
	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
)

// callbackPattern accepts JavaScript callback names for JSONP responses,
// including dotted paths ("foo.bar"). Anything else is treated as if no
// callback was given.
var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// revocationKindOrder fixes the order kinds are tried in when the request
// carries no token_type_hint.
var revocationKindOrder = []string{storage.TokenKindAccessToken, storage.TokenKindRefreshToken}

// ServeTokenRevocation handles the RFC 7009 token revocation endpoint.
//
// For every parameter the query string wins over the body. Responses are
// JSON; a valid callback parameter wraps the body JSONP-style, including the
// empty success body ("cb()"). Unknown tokens and ownership mismatches are
// silent successes so the endpoint cannot be used as a token oracle.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusBadRequest, startTime)
		h.writeRevocationError(w, "", ErrInvalidRequest("Failed to parse request"))
		return
	}

	callback := firstParam(r, "callback")
	if callback != "" && !callbackPattern.MatchString(callback) {
		callback = ""
	}
	instrumentation.SetSpanAttributes(span, attribute.Bool(instrumentation.AttrCallbackPresent, callback != ""))

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if !h.checkRateLimit(w, ctx, "revoke", clientIP) {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	// Transport security is checked before any parameter validation, even a
	// missing token.
	if !h.isRequestSecured(r) {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "insecure transport")
		h.writeRevocationError(w, callback, ErrInvalidRequest("Request must be secured"))
		return
	}

	token := firstParam(r, "token")
	if token == "" {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusBadRequest, startTime)
		instrumentation.SetSpanError(span, "token missing")
		h.writeRevocationError(w, callback, ErrInvalidRequest(`Parameter "token" is missing`))
		return
	}

	client, err := h.server.resolver.Resolve(r)
	if err != nil {
		instrumentation.RecordError(span, err)
		if h.server.auditor != nil {
			h.server.auditor.LogAuthFailure("", "", clientIP, "revocation_auth_failed")
		}

		var authErr *AuthenticateError
		if errors.As(err, &authErr) {
			h.recordHTTPMetrics("revoke", r.Method, authErr.Status, startTime)
			for key, values := range authErr.Headers {
				for _, v := range values {
					w.Header().Add(key, v)
				}
			}
			h.writeRevocationError(w, callback, authErr.OAuthError)
			return
		}

		h.recordHTTPMetrics("revoke", r.Method, http.StatusInternalServerError, startTime)
		h.writeRevocationError(w, callback, ErrServerError("Failed to resolve client"))
		return
	}
	if client != nil {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.PublicID))
	}

	hint := firstParam(r, "token_type_hint")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrTokenTypeHint, hint))

	revoked, err := h.revokeByHint(ctx, token, hint, client)
	if err != nil {
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			h.recordHTTPMetrics("revoke", r.Method, oauthErr.Status, startTime)
			instrumentation.SetSpanError(span, oauthErr.Code)
			h.recordRevocationOutcome(ctx, "error")
			h.writeRevocationError(w, callback, oauthErr)
			return
		}

		h.logger.Error("Token revocation failed", "ip", clientIP, "error", err)
		h.recordHTTPMetrics("revoke", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.recordRevocationOutcome(ctx, "error")
		h.writeRevocationError(w, callback, ErrServerError("Failed to revoke token"))
		return
	}

	if revoked {
		h.logger.Info("Token revoked", "ip", clientIP)
		if h.server.auditor != nil {
			clientID := ""
			if client != nil {
				clientID = client.PublicID
			}
			h.server.auditor.LogTokenRevoked("", clientID, clientIP, hint)
		}
		h.recordRevocationOutcome(ctx, "revoked")
	} else {
		h.recordRevocationOutcome(ctx, "ignored")
	}

	h.recordHTTPMetrics("revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeRevocationSuccess(w, callback)
}

// revokeByHint dispatches to the revoker selected by the hint, or tries
// every kind in order when there is no hint. A hint naming a configured kind
// that doesn't match the token is a silent no-op; a hint naming an
// unconfigured kind is an error.
func (h *Handler) revokeByHint(ctx context.Context, token, hint string, client *storage.Client) (bool, error) {
	if hint == "" {
		for _, kind := range revocationKindOrder {
			revoke, ok := h.server.revokers[kind]
			if !ok {
				continue
			}
			revoked, err := revoke(ctx, token, client)
			if err != nil || revoked {
				return revoked, err
			}
		}
		return false, nil
	}

	revoke, ok := h.server.revokers[hint]
	if !ok {
		return false, ErrUnsupportedTokenType(fmt.Sprintf("Token type %q not supported", hint))
	}
	return revoke(ctx, token, client)
}

// isRequestSecured reports whether the request arrived over a secure
// transport, accepting a forwarded scheme only from trusted proxies.
func (h *Handler) isRequestSecured(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return h.server.config.TrustProxy && r.Header.Get("X-Forwarded-Proto") == "https"
}

// firstParam reads a request parameter with query-over-body precedence.
// This is deliberate: http.Request.FormValue prefers the body.
func firstParam(r *http.Request, key string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return r.PostForm.Get(key)
}

// writeRevocationSuccess writes the empty 200 body, wrapped for JSONP when a
// callback is present.
func (h *Handler) writeRevocationSuccess(w http.ResponseWriter, callback string) {
	security.SetSecurityHeaders(w)
	security.SetTokenCacheHeaders(w)
	h.writeWrapped(w, callback, http.StatusOK, "")
}

// writeRevocationError writes an error body, wrapped for JSONP when a
// callback is present.
func (h *Handler) writeRevocationError(w http.ResponseWriter, callback string, oauthErr *OAuthError) {
	if oauthErr.URI == "" {
		oauthErr = oauthErr.WithURI(h.server.config.errorURI(oauthErr.Code))
	}

	security.SetSecurityHeaders(w)
	security.SetTokenCacheHeaders(w)

	body, err := json.Marshal(oauthErr.Response())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeWrapped(w, callback, oauthErr.Status, string(body))
}

// writeWrapped writes body as-is, or as callback(body) with a JavaScript
// content type when a callback is present.
func (h *Handler) writeWrapped(w http.ResponseWriter, callback string, status int, body string) {
	if callback != "" {
		w.Header().Set("Content-Type", "application/javascript")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, "%s(%s)", callback, body)
		return
	}

	if body != "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (h *Handler) recordRevocationOutcome(ctx context.Context, outcome string) {
	if h.server.inst == nil {
		return
	}
	h.server.inst.Metrics().RecordRevocationRequest(ctx, outcome)
}
