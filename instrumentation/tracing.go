package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never put actual credential values (tokens, codes, secrets) in traces.
// Only metadata: kinds, hints, expiry, validation results.
const (
	AttrClientID         = "oauth.client_id"
	AttrUserID           = "oauth.user_id"
	AttrScope            = "oauth.scope"
	AttrGrantType        = "oauth.grant_type"
	AttrResponseType     = "oauth.response_type"
	AttrClientType       = "oauth.client_type"
	AttrTokenTypeHint    = "oauth.token_type_hint" //nolint:gosec // hint name, not a token
	AttrTokenKind        = "oauth.token_kind"      //nolint:gosec // kind name, not a token
	AttrCallbackPresent  = "oauth.callback_present"
	AttrExpiresIn        = "oauth.expires_in"
	AttrError            = "oauth.error"
	AttrErrorDescription = "oauth.error_description"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds common grant dispatch attributes to a span (nil-safe)
func AddGrantAttributes(span trace.Span, grantType, clientID, scope string) {
	if grantType != "" {
		SetSpanAttributes(span, attribute.String(AttrGrantType, grantType))
	}
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}
