// Package memory provides the in-memory reference implementation of every
// storage interface. It is suitable for tests and single-process
// deployments; tokens do not survive a restart.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/authkit/oauth2-server/instrumentation"
	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
)

// maxGenerateAttempts bounds the collision retries when generating a token
// string. Collisions are astronomically rare at the configured lengths; the
// bound only guards against a broken charset configuration.
const maxGenerateAttempts = 5

// Options configures a Store. The zero value is usable; empty fields take
// the defaults noted on each field.
type Options struct {
	// TokenCharset is the alphabet for generated token strings.
	// Default: security.DefaultTokenCharset
	TokenCharset string

	// AccessTokenMinLength / AccessTokenMaxLength bound the access token
	// string length. Defaults: 20 / 30.
	AccessTokenMinLength int
	AccessTokenMaxLength int

	// RefreshTokenMinLength / RefreshTokenMaxLength bound the refresh token
	// string length. Defaults: 20 / 30.
	RefreshTokenMinLength int
	RefreshTokenMaxLength int

	// AccessTokenTTL / RefreshTokenTTL / AuthorizationCodeTTL are the
	// server-wide lifetimes in seconds, overridable per client for tokens.
	// Defaults: 3600 / 1209600 / 600.
	AccessTokenTTL       int64
	RefreshTokenTTL      int64
	AuthorizationCodeTTL int64

	// Logger for storage events. Default: slog.Default().
	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.TokenCharset == "" {
		o.TokenCharset = security.DefaultTokenCharset
	}
	if o.AccessTokenMinLength == 0 {
		o.AccessTokenMinLength = 20
	}
	if o.AccessTokenMaxLength == 0 {
		o.AccessTokenMaxLength = 30
	}
	if o.RefreshTokenMinLength == 0 {
		o.RefreshTokenMinLength = 20
	}
	if o.RefreshTokenMaxLength == 0 {
		o.RefreshTokenMaxLength = 30
	}
	if o.AccessTokenTTL == 0 {
		o.AccessTokenTTL = 3600
	}
	if o.RefreshTokenTTL == 0 {
		o.RefreshTokenTTL = 1209600
	}
	if o.AuthorizationCodeTTL == 0 {
		o.AuthorizationCodeTTL = 600
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Store is the in-memory implementation of the storage interfaces.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client
	users         map[string]*storage.EndUser
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	authCodes     map[string]*storage.AuthorizationCode

	opts Options

	inst *instrumentation.Instrumentation

	// Lock-free counters for the storage size gauges.
	clientsCount       atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64
	authCodesCount     atomic.Int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Compile-time interface checks
var (
	_ storage.ClientStore            = (*Store)(nil)
	_ storage.EndUserStore           = (*Store)(nil)
	_ storage.AccessTokenManager     = (*Store)(nil)
	_ storage.RefreshTokenManager    = (*Store)(nil)
	_ storage.AuthorizationCodeStore = (*Store)(nil)
)

// New creates an in-memory store with expired entries reaped every five
// minutes. Call Stop when done with it.
func New(opts Options) *Store {
	return NewWithInterval(opts, 5*time.Minute)
}

// NewWithInterval creates an in-memory store with a custom cleanup interval.
// A non-positive interval disables the background cleanup; expired entries
// are then reaped only lazily on lookup.
func NewWithInterval(opts Options, cleanupInterval time.Duration) *Store {
	opts.applyDefaults()
	s := &Store{
		clients:       make(map[string]*storage.Client),
		users:         make(map[string]*storage.EndUser),
		accessTokens:  make(map[string]*storage.AccessToken),
		refreshTokens: make(map[string]*storage.RefreshToken),
		authCodes:     make(map[string]*storage.AuthorizationCode),
		opts:          opts,
		stopCleanup:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop(cleanupInterval)
	}
	return s
}

// Stop terminates the background cleanup goroutine. Safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired tokens and authorization codes.
func (s *Store) cleanupExpired() {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, t := range s.accessTokens {
		if !t.ExpiresAt.After(now) {
			delete(s.accessTokens, key)
			removed++
		}
	}
	for key, t := range s.refreshTokens {
		if !t.ExpiresAt.After(now) {
			delete(s.refreshTokens, key)
			removed++
		}
	}
	for key, c := range s.authCodes {
		if !c.ExpiresAt.After(now) {
			delete(s.authCodes, key)
			removed++
		}
	}

	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))

	if removed > 0 {
		s.opts.Logger.Debug("Cleaned up expired entries", "removed", removed)
	}
}

// SetInstrumentation registers the storage size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.inst = inst
	s.clientsCount.Store(int64(len(s.clients)))
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	s.authCodesCount.Store(int64(len(s.authCodes)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCount.Load() },
			func() int64 { return s.accessTokensCount.Load() },
			func() int64 { return s.refreshTokensCount.Load() },
			func() int64 { return s.authCodesCount.Load() },
		)
		if err != nil {
			s.opts.Logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient stores or replaces a client.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.PublicID == "" {
		return fmt.Errorf("client with a public ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.PublicID] = client
	s.clientsCount.Store(int64(len(s.clients)))
	return nil
}

// GetClient returns (nil, nil) for unknown clients.
func (s *Store) GetClient(ctx context.Context, publicID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[publicID], nil
}

// ValidateClientSecret checks the secret against the stored bcrypt hash.
func (s *Store) ValidateClientSecret(ctx context.Context, publicID, secret string) error {
	s.mu.RLock()
	client := s.clients[publicID]
	s.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("unknown client %q", publicID)
	}
	if !client.Confidential || client.SecretHash == "" {
		return fmt.Errorf("client %q holds no secret", publicID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)); err != nil {
		return fmt.Errorf("invalid client secret: %w", err)
	}
	return nil
}

// ListClients returns all registered clients.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

// RegisterClient creates and saves a client with a generated public ID and,
// for confidential clients, a generated secret. The plaintext secret is
// returned once and only its bcrypt hash is stored.
func (s *Store) RegisterClient(ctx context.Context, confidential bool, grantTypes, redirectURIs, scopes []string) (*storage.Client, string, error) {
	client := &storage.Client{
		PublicID:          oauth2.GenerateVerifier(),
		Confidential:      confidential,
		AllowedGrantTypes: grantTypes,
		RedirectURIs:      redirectURIs,
		Scopes:            scopes,
		CreatedAt:         s.opts.Now(),
	}

	secret := ""
	if confidential {
		secret = oauth2.GenerateVerifier()
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", fmt.Errorf("failed to hash client secret: %w", err)
		}
		client.SecretHash = string(hash)
	}

	if err := s.SaveClient(ctx, client); err != nil {
		return nil, "", err
	}
	return client, secret, nil
}

// ============================================================
// EndUserStore
// ============================================================

// SaveEndUser stores or replaces a resource owner.
func (s *Store) SaveEndUser(ctx context.Context, user *storage.EndUser) error {
	if user == nil || user.PublicID == "" {
		return fmt.Errorf("end user with a public ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.PublicID] = user
	return nil
}

// GetEndUser returns (nil, nil) for unknown users.
func (s *Store) GetEndUser(ctx context.Context, publicID string) (*storage.EndUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[publicID], nil
}

// ValidateEndUserPassword checks the password against the stored bcrypt hash.
func (s *Store) ValidateEndUserPassword(ctx context.Context, publicID, password string) error {
	s.mu.RLock()
	user := s.users[publicID]
	s.mu.RUnlock()

	if user == nil {
		return fmt.Errorf("unknown end user %q", publicID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return fmt.Errorf("invalid password: %w", err)
	}

	s.mu.Lock()
	user.LastLoginAt = s.opts.Now()
	s.mu.Unlock()
	return nil
}

// RegisterEndUser creates and saves a resource owner with a bcrypt-hashed
// password.
func (s *Store) RegisterEndUser(ctx context.Context, publicID, password string) (*storage.EndUser, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.EndUser{PublicID: publicID, PasswordHash: string(hash)}
	if err := s.SaveEndUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ============================================================
// AccessTokenManager
// ============================================================

// CreateAccessToken generates and stores a new access token.
func (s *Store) CreateAccessToken(ctx context.Context, client *storage.Client, resourceOwnerID string, scope []string, refreshToken string) (*storage.AccessToken, error) {
	lifetime := s.opts.AccessTokenTTL
	if override, ok := client.TokenLifetime(storage.TokenKindAccessToken); ok {
		lifetime = override
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenStr, err := s.generateUniqueLocked(s.opts.AccessTokenMinLength, s.opts.AccessTokenMaxLength, func(t string) bool {
		_, exists := s.accessTokens[t]
		return exists
	})
	if err != nil {
		return nil, err
	}

	token := &storage.AccessToken{
		Token:                 tokenStr,
		ClientPublicID:        client.PublicID,
		ResourceOwnerPublicID: resourceOwnerID,
		Scope:                 scope,
		ExpiresAt:             s.opts.Now().Add(time.Duration(lifetime) * time.Second),
		RefreshToken:          refreshToken,
	}
	s.accessTokens[tokenStr] = token
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return token, nil
}

// PutAccessToken stores a fully-formed access token as-is, for imports and
// test fixtures. The token string must be set.
func (s *Store) PutAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("access token with a token string is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[token.Token] = token
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// GetAccessToken returns (nil, nil) for unknown or expired tokens. Expired
// entries are reaped lazily.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.accessTokens[token]
	if t == nil {
		return nil, nil
	}
	if !t.ExpiresAt.After(s.opts.Now()) {
		delete(s.accessTokens, token)
		s.accessTokensCount.Store(int64(len(s.accessTokens)))
		return nil, nil
	}
	return t, nil
}

// RevokeAccessToken invalidates the token. Idempotent.
func (s *Store) RevokeAccessToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accessTokens, token)
	s.accessTokensCount.Store(int64(len(s.accessTokens)))
	return nil
}

// ============================================================
// RefreshTokenManager
// ============================================================

// CreateRefreshToken generates and stores a new refresh token.
func (s *Store) CreateRefreshToken(ctx context.Context, client *storage.Client, resourceOwnerID string, scope []string) (*storage.RefreshToken, error) {
	lifetime := s.opts.RefreshTokenTTL
	if override, ok := client.TokenLifetime(storage.TokenKindRefreshToken); ok {
		lifetime = override
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenStr, err := s.generateUniqueLocked(s.opts.RefreshTokenMinLength, s.opts.RefreshTokenMaxLength, func(t string) bool {
		_, exists := s.refreshTokens[t]
		return exists
	})
	if err != nil {
		return nil, err
	}

	token := &storage.RefreshToken{
		Token:                 tokenStr,
		ClientPublicID:        client.PublicID,
		ResourceOwnerPublicID: resourceOwnerID,
		Scope:                 scope,
		ExpiresAt:             s.opts.Now().Add(time.Duration(lifetime) * time.Second),
	}
	s.refreshTokens[tokenStr] = token
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return token, nil
}

// PutRefreshToken stores a fully-formed refresh token as-is, for imports and
// test fixtures.
func (s *Store) PutRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("refresh token with a token string is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[token.Token] = token
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// GetRefreshToken returns (nil, nil) for unknown or expired tokens.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.refreshTokens[token]
	if t == nil {
		return nil, nil
	}
	if !t.ExpiresAt.After(s.opts.Now()) {
		delete(s.refreshTokens, token)
		s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
		return nil, nil
	}
	return t, nil
}

// RevokeRefreshToken invalidates the token. Idempotent.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, token)
	s.refreshTokensCount.Store(int64(len(s.refreshTokens)))
	return nil
}

// MarkRefreshTokenUsed flags the token as rotated out.
func (s *Store) MarkRefreshTokenUsed(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.refreshTokens[token]; t != nil {
		t.Used = true
	}
	return nil
}

// ============================================================
// AuthorizationCodeStore
// ============================================================

// SaveAuthorizationCode stores a code, generating its string when empty.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil {
		return fmt.Errorf("authorization code is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if code.Code == "" {
		code.Code = oauth2.GenerateVerifier()
	}
	if code.ExpiresAt.IsZero() {
		code.ExpiresAt = s.opts.Now().Add(time.Duration(s.opts.AuthorizationCodeTTL) * time.Second)
	}
	s.authCodes[code.Code] = code
	s.authCodesCount.Store(int64(len(s.authCodes)))
	return nil
}

// GetAuthorizationCode returns (nil, nil) for unknown codes.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authCodes[code], nil
}

// AtomicCheckAndMarkAuthCodeUsed atomically validates and consumes a code.
// Expired, used, or unknown codes return (nil, nil); concurrent exchanges of
// the same code cannot both succeed.
func (s *Store) AtomicCheckAndMarkAuthCodeUsed(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.authCodes[code]
	if c == nil || c.Used || !c.ExpiresAt.After(s.opts.Now()) {
		return nil, nil
	}
	c.Used = true
	return c, nil
}

// DeleteAuthorizationCode removes a code. Idempotent.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.authCodes, code)
	s.authCodesCount.Store(int64(len(s.authCodes)))
	return nil
}

// ============================================================
// Token generation
// ============================================================

// generateUniqueLocked generates a token string of random length within the
// bounds, retrying only on collision. A generation failure is returned
// as-is and never retried. Must be called with the mutex held.
func (s *Store) generateUniqueLocked(minLength, maxLength int, exists func(string) bool) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		length, err := security.TokenLength(minLength, maxLength)
		if err != nil {
			return "", fmt.Errorf("failed to pick token length: %w", err)
		}
		token, err := security.GenerateToken(length, s.opts.TokenCharset)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		if !exists(token) {
			return token, nil
		}
		s.opts.Logger.Warn("Token collision, regenerating", "attempt", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique token after %d attempts", maxGenerateAttempts)
}

// Sizes returns the current entry counts, mostly for tests.
func (s *Store) Sizes() (clients, accessTokens, refreshTokens, authCodes int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients), len(s.accessTokens), len(s.refreshTokens), len(s.authCodes)
}
