package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authkit/oauth2-server/internal/testutil"
	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
	"github.com/authkit/oauth2-server/storage/memory"
)

func newTestHandler(t *testing.T, config *ServerConfig) (*Handler, *memory.Store) {
	t.Helper()

	store := testutil.NewSeededStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server, err := NewServer(store, store, store, store, store, config, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return NewHandler(server, logger), store
}

// postForm builds a form-encoded POST over TLS.
func postForm(target string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response %q: %v", w.Body.String(), err)
	}
	return resp
}

func decodeTokenResponse(t *testing.T, w *httptest.ResponseRecorder) TokenResponse {
	t.Helper()
	var resp TokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode token response %q: %v", w.Body.String(), err)
	}
	return resp
}

func signAssertion(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testutil.AssertionKey)
	if err != nil {
		t.Fatalf("failed to sign assertion: %v", err)
	}
	return signed
}

func TestServeTokenMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeToken(w, httptest.NewRequest(http.MethodGet, "https://auth.example.com/token", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestServeTokenMissingGrantType(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeToken(w, postForm("https://auth.example.com/token", url.Values{}))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidRequest)
	}
	if resp.ErrorDescription != `Parameter "grant_type" is missing.` {
		t.Errorf("error_description = %q", resp.ErrorDescription)
	}
}

func TestServeTokenUnsupportedGrantType(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeToken(w, postForm("https://auth.example.com/token", url.Values{
		"grant_type": {"telepathy"},
	}))

	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotImplemented)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnsupportedGrantType)
	}
	if resp.ErrorDescription != `Grant type "telepathy" not supported` {
		t.Errorf("error_description = %q", resp.ErrorDescription)
	}
}

func TestServeTokenAnonymousChallenge(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	w := httptest.NewRecorder()
	h.ServeToken(w, postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
	}))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Basic realm=") {
		t.Errorf("WWW-Authenticate = %q, want a Basic challenge", got)
	}
}

func TestServeTokenClientCredentials(t *testing.T) {
	h, store := newTestHandler(t, nil)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeTokenResponse(t, w)
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.AccessToken == "" {
		t.Fatal("access_token missing")
	}
	if resp.RefreshToken != "" {
		t.Errorf("refresh_token = %q, want none for client_credentials", resp.RefreshToken)
	}
	if resp.ExpiresIn <= 0 || resp.ExpiresIn > 3600 {
		t.Errorf("expires_in = %d, want within (0, 3600]", resp.ExpiresIn)
	}

	token, err := store.GetAccessToken(context.Background(), resp.AccessToken)
	if err != nil || token == nil {
		t.Fatalf("issued token not in store: %v, %v", token, err)
	}
	if token.ResourceOwnerPublicID != testutil.ConfidentialClientID {
		t.Errorf("resource owner = %q, want the client itself", token.ResourceOwnerPublicID)
	}

	if got := w.Header().Get("Cache-Control"); got != "no-store, private" {
		t.Errorf("Cache-Control = %q, want %q", got, "no-store, private")
	}
	if got := w.Header().Get("Pragma"); got != "no-cache" {
		t.Errorf("Pragma = %q, want %q", got, "no-cache")
	}
}

func TestServeTokenClientCredentialsWithRefreshToken(t *testing.T) {
	h, _ := newTestHandler(t, &ServerConfig{IssueRefreshTokenWithClientCredentialsGrant: true})

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decodeTokenResponse(t, w); resp.RefreshToken == "" {
		t.Error("refresh_token missing despite opting in")
	}
}

func TestServeTokenBadClientSecret(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, "wrong")

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
	}
}

func TestServeTokenUnauthorizedGrantType(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	// The assertion client is registered for the JWT-bearer grant only.
	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
	})
	r.SetBasicAuth(testutil.AssertionClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeUnauthorizedClient {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnauthorizedClient)
	}
}

func TestServeTokenPasswordGrant(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypePassword},
		"username":   {testutil.UserID},
		"password":   {testutil.UserPassword},
	})
	r.Header.Set(PublicClientIDHeader, testutil.PublicClientID)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeTokenResponse(t, w)
	if resp.AccessToken == "" {
		t.Error("access_token missing")
	}
	if resp.RefreshToken == "" {
		t.Error("refresh_token missing, password grant issues one by default")
	}
}

func TestServeTokenPasswordGrantFailures(t *testing.T) {
	tests := []struct {
		name            string
		form            url.Values
		wantError       string
		wantDescription string
	}{
		{
			name: "wrong password",
			form: url.Values{
				"grant_type": {GrantTypePassword},
				"username":   {testutil.UserID},
				"password":   {"wrong"},
			},
			wantError:       ErrorCodeInvalidGrant,
			wantDescription: "Invalid username and password combination",
		},
		{
			name: "unknown user",
			form: url.Values{
				"grant_type": {GrantTypePassword},
				"username":   {"nobody"},
				"password":   {"whatever"},
			},
			wantError:       ErrorCodeInvalidGrant,
			wantDescription: "Invalid username and password combination",
		},
		{
			name: "missing credentials",
			form: url.Values{
				"grant_type": {GrantTypePassword},
			},
			wantError:       ErrorCodeInvalidRequest,
			wantDescription: `Parameters "username" and "password" are required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, nil)

			r := postForm("https://auth.example.com/token", tt.form)
			r.Header.Set(PublicClientIDHeader, testutil.PublicClientID)

			w := httptest.NewRecorder()
			h.ServeToken(w, r)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			resp := decodeErrorResponse(t, w)
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if resp.ErrorDescription != tt.wantDescription {
				t.Errorf("error_description = %q, want %q", resp.ErrorDescription, tt.wantDescription)
			}
		})
	}
}

func TestServeTokenRefreshGrantRotation(t *testing.T) {
	h, store := newTestHandler(t, nil)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {testutil.StandaloneRefreshToken},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeTokenResponse(t, w)
	if resp.RefreshToken == "" || resp.RefreshToken == testutil.StandaloneRefreshToken {
		t.Errorf("refresh_token = %q, want a fresh rotated token", resp.RefreshToken)
	}
	if resp.Scope != "read write" {
		t.Errorf("scope = %q, want the refresh token's scope", resp.Scope)
	}

	// The new access token keeps the resource owner from the old grant.
	token, _ := store.GetAccessToken(context.Background(), resp.AccessToken)
	if token == nil || token.ResourceOwnerPublicID != testutil.UserID {
		t.Errorf("access token resource owner = %+v, want %q", token, testutil.UserID)
	}

	// Successful issuance finishes the rotation: the old token is gone.
	if old, _ := store.GetRefreshToken(context.Background(), testutil.StandaloneRefreshToken); old != nil {
		t.Error("the rotated-out token should be revoked after issuance")
	}

	// The rotated-out token must never satisfy another refresh.
	w2 := httptest.NewRecorder()
	r2 := postForm("https://auth.example.com/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {testutil.StandaloneRefreshToken},
	})
	r2.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)
	h.ServeToken(w2, r2)

	if w2.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want %d", w2.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w2); resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("replay error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
	}
}

// refreshCreateFailingStore simulates a refresh token backend that fails on
// creation only.
type refreshCreateFailingStore struct {
	*memory.Store
}

func (s *refreshCreateFailingStore) CreateRefreshToken(ctx context.Context, client *storage.Client, resourceOwnerID string, scope []string) (*storage.RefreshToken, error) {
	return nil, errors.New("refresh token backend unavailable")
}

func TestServeTokenRefreshGrantKeepsOldTokenOnIssuanceFailure(t *testing.T) {
	store := testutil.NewSeededStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server, err := NewServer(store, store, store, &refreshCreateFailingStore{Store: store}, store, nil, logger)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	h := NewHandler(server, logger)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {testutil.StandaloneRefreshToken},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusInternalServerError, w.Body.String())
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeServerError {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeServerError)
	}

	// A failed issuance must not destroy the presented token. It stays in
	// the store flagged as used: replay is blocked, but the token remains
	// visible to the revocation endpoint.
	old, err := store.GetRefreshToken(context.Background(), testutil.StandaloneRefreshToken)
	if err != nil || old == nil {
		t.Fatalf("GetRefreshToken() = %v, %v, want the token to survive", old, err)
	}
	if !old.Used {
		t.Error("the presented token should stay flagged as used")
	}
}

func TestServeTokenRefreshGrantWrongClient(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	// StandaloneRefreshToken belongs to the confidential client.
	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {testutil.StandaloneRefreshToken},
	})
	r.Header.Set(PublicClientIDHeader, testutil.PublicClientID)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
	}
}

func TestServeTokenRefreshGrantScopeEscalation(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type":    {GrantTypeRefreshToken},
		"refresh_token": {testutil.StandaloneRefreshToken},
		"scope":         {"admin"},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidScope {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidScope)
	}
}

func TestServeTokenJWTBearerGrant(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	assertion := signAssertion(t, jwt.MapClaims{
		"sub": testutil.AssertionClientID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeJWTBearer},
		"assertion":  {assertion},
	})

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if resp := decodeTokenResponse(t, w); resp.AccessToken == "" {
		t.Error("access_token missing")
	}
}

func TestServeTokenJWTBearerGrantFailures(t *testing.T) {
	badSignature, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testutil.AssertionClientID,
	}).SignedString([]byte("not-the-registered-key"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name            string
		form            url.Values
		wantStatus      int
		wantError       string
		wantDescription string
	}{
		{
			name:            "missing assertion",
			form:            url.Values{"grant_type": {GrantTypeJWTBearer}},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidRequest,
			wantDescription: `Parameter "assertion" is missing.`,
		},
		{
			name: "garbage assertion",
			form: url.Values{
				"grant_type": {GrantTypeJWTBearer},
				"assertion":  {"not.a.jwt"},
			},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidRequest,
			wantDescription: "Assertion does not contain signed claims.",
		},
		{
			name: "assertion without subject",
			form: url.Values{
				"grant_type": {GrantTypeJWTBearer},
				"assertion":  {mustSign(jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
			},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidRequest,
			wantDescription: `Assertion does not contain "sub" claims.`,
		},
		{
			name: "unknown subject",
			form: url.Values{
				"grant_type": {GrantTypeJWTBearer},
				"assertion":  {mustSign(jwt.MapClaims{"sub": "ghost"})},
			},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidClient,
			wantDescription: "Unknown client",
		},
		{
			name: "subject without assertion key",
			form: url.Values{
				"grant_type": {GrantTypeJWTBearer},
				"assertion":  {mustSign(jwt.MapClaims{"sub": testutil.ConfidentialClientID, "exp": time.Now().Add(time.Hour).Unix()})},
			},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidClient,
			wantDescription: "The client is not a client assertion type",
		},
		{
			name: "bad signature",
			form: url.Values{
				"grant_type": {GrantTypeJWTBearer},
				"assertion":  {badSignature},
			},
			wantStatus:      http.StatusBadRequest,
			wantError:       ErrorCodeInvalidClient,
			wantDescription: "Invalid assertion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, nil)

			w := httptest.NewRecorder()
			h.ServeToken(w, postForm("https://auth.example.com/token", tt.form))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			resp := decodeErrorResponse(t, w)
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if resp.ErrorDescription != tt.wantDescription {
				t.Errorf("error_description = %q, want %q", resp.ErrorDescription, tt.wantDescription)
			}
		})
	}
}

// mustSign is for table entries where a *testing.T is not yet in scope.
func mustSign(claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testutil.AssertionKey)
	if err != nil {
		panic(err)
	}
	return signed
}

func TestServeTokenAuthorizationCodeGrant(t *testing.T) {
	h, store := newTestHandler(t, nil)
	ctx := context.Background()

	code := &storage.AuthorizationCode{
		ClientPublicID:        testutil.PublicClientID,
		ResourceOwnerPublicID: testutil.UserID,
		RedirectURI:           "https://client.example.com/cb",
		Scope:                 []string{"read"},
		ExpiresAt:             time.Now().Add(time.Minute),
	}
	if err := store.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatal(err)
	}

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {code.Code},
		"redirect_uri": {"https://client.example.com/cb"},
	})
	r.Header.Set(PublicClientIDHeader, testutil.PublicClientID)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeTokenResponse(t, w)
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want %q", resp.Scope, "read")
	}
	if resp.RefreshToken == "" {
		t.Error("refresh_token missing for the authorization code grant")
	}

	// A code is single use.
	w2 := httptest.NewRecorder()
	r2 := postForm("https://auth.example.com/token", url.Values{
		"grant_type":   {GrantTypeAuthorizationCode},
		"code":         {code.Code},
		"redirect_uri": {"https://client.example.com/cb"},
	})
	r2.Header.Set(PublicClientIDHeader, testutil.PublicClientID)
	h.ServeToken(w2, r2)

	if w2.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want %d", w2.Code, http.StatusBadRequest)
	}
}

func TestServeTokenAuthorizationCodePKCE(t *testing.T) {
	verifier := strings.Repeat("v", 43)
	hash := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(hash[:])

	tests := []struct {
		name       string
		verifier   string
		wantStatus int
	}{
		{"matching verifier", verifier, http.StatusOK},
		{"wrong verifier", strings.Repeat("w", 43), http.StatusBadRequest},
		{"missing verifier", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := newTestHandler(t, nil)

			code := &storage.AuthorizationCode{
				ClientPublicID:        testutil.PublicClientID,
				ResourceOwnerPublicID: testutil.UserID,
				CodeChallenge:         challenge,
				CodeChallengeMethod:   "S256",
				ExpiresAt:             time.Now().Add(time.Minute),
			}
			if err := store.SaveAuthorizationCode(context.Background(), code); err != nil {
				t.Fatal(err)
			}

			form := url.Values{
				"grant_type": {GrantTypeAuthorizationCode},
				"code":       {code.Code},
			}
			if tt.verifier != "" {
				form.Set("code_verifier", tt.verifier)
			}
			r := postForm("https://auth.example.com/token", form)
			r.Header.Set(PublicClientIDHeader, testutil.PublicClientID)

			w := httptest.NewRecorder()
			h.ServeToken(w, r)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestServeTokenSupportedScopes(t *testing.T) {
	h, _ := newTestHandler(t, &ServerConfig{SupportedScopes: []string{"read"}})

	r := postForm("https://auth.example.com/token", url.Values{
		"grant_type": {GrantTypeClientCredentials},
		"scope":      {"write"},
	})
	r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)

	w := httptest.NewRecorder()
	h.ServeToken(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidScope {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidScope)
	}
}

func TestServeTokenRateLimit(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rl := security.NewRateLimiter(1, 1, 100, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer rl.Stop()
	h.server.SetRateLimiter(rl)

	send := func() *httptest.ResponseRecorder {
		r := postForm("https://auth.example.com/token", url.Values{
			"grant_type": {GrantTypeClientCredentials},
		})
		r.SetBasicAuth(testutil.ConfidentialClientID, testutil.ClientSecret)
		w := httptest.NewRecorder()
		h.ServeToken(w, r)
		return w
	}

	if w := send(); w.Code != http.StatusOK {
		t.Fatalf("first request status = %d, body = %s", w.Code, w.Body.String())
	}
	w := send()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeRateLimitExceeded)
	}
}

func TestServeTokenErrorURI(t *testing.T) {
	h, _ := newTestHandler(t, &ServerConfig{ErrorURIBase: "https://errors.example.com"})

	w := httptest.NewRecorder()
	h.ServeToken(w, postForm("https://auth.example.com/token", url.Values{}))

	resp := decodeErrorResponse(t, w)
	want := url.QueryEscape("https://errors.example.com/invalid_request")
	if resp.ErrorURI != want {
		t.Errorf("error_uri = %q, want %q", resp.ErrorURI, want)
	}
}

func TestServeAuthorizationServerMetadata(t *testing.T) {
	h, _ := newTestHandler(t, &ServerConfig{Issuer: "https://auth.example.com"})

	w := httptest.NewRecorder()
	h.ServeAuthorizationServerMetadata(w, httptest.NewRequest(http.MethodGet, "https://auth.example.com/.well-known/oauth-authorization-server", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var metadata AuthorizationServerMetadata
	if err := json.Unmarshal(w.Body.Bytes(), &metadata); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if metadata.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", metadata.Issuer)
	}
	if metadata.TokenEndpoint != "https://auth.example.com/token" {
		t.Errorf("token_endpoint = %q", metadata.TokenEndpoint)
	}
	if len(metadata.GrantTypesSupported) == 0 {
		t.Error("grant_types_supported is empty")
	}
}
