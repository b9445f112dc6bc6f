package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/authkit/oauth2-server/instrumentation"
	"github.com/authkit/oauth2-server/security"
	"github.com/authkit/oauth2-server/storage"
)

// revokeFunc revokes one kind of token on behalf of the calling client
// (nil for anonymous callers). It reports whether a token was actually
// revoked; ownership mismatches and unknown tokens are silent no-ops.
type revokeFunc func(ctx context.Context, token string, client *storage.Client) (bool, error)

// Server is the authorization server core: grant and response type
// dispatch, token issuance, and revocation.
type Server struct {
	config *ServerConfig
	logger *slog.Logger

	clients       storage.ClientStore
	users         storage.EndUserStore
	accessTokens  storage.AccessTokenManager
	refreshTokens storage.RefreshTokenManager
	authCodes     storage.AuthorizationCodeStore

	resolver *ClientResolver

	grantTypes    map[string]GrantTypeHandler
	responseTypes map[string]ResponseTypeHandler

	// revokers maps token_type_hint values to their revocation routine,
	// resolved once at startup from the configured managers.
	revokers map[string]revokeFunc

	auditor     *security.Auditor
	rateLimiter *security.RateLimiter
	inst        *instrumentation.Instrumentation
}

// NewServer creates an authorization server. clients and accessTokens are
// required; users, refreshTokens, and authCodes enable the grant types that
// need them. The default grant and response type handlers are registered for
// whatever stores are present; RegisterGrantType and RegisterResponseType
// extend or replace them.
func NewServer(
	clients storage.ClientStore,
	users storage.EndUserStore,
	accessTokens storage.AccessTokenManager,
	refreshTokens storage.RefreshTokenManager,
	authCodes storage.AuthorizationCodeStore,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if accessTokens == nil {
		return nil, fmt.Errorf("access token manager is required")
	}
	if config == nil {
		config = &ServerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	s := &Server{
		config:        config,
		logger:        logger,
		clients:       clients,
		users:         users,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		authCodes:     authCodes,
		resolver:      NewClientResolver(clients, config.Issuer, logger),
		grantTypes:    make(map[string]GrantTypeHandler),
		responseTypes: make(map[string]ResponseTypeHandler),
	}

	s.registerDefaultHandlers()
	s.revokers = s.buildRevokers()

	return s, nil
}

// registerDefaultHandlers wires the built-in grant and response types,
// skipping those whose backing store is absent.
func (s *Server) registerDefaultHandlers() {
	issueRefreshWithClientGrants := s.config.IssueRefreshTokenWithClientCredentialsGrant

	s.RegisterGrantType(NewClientCredentialsGrantHandler(issueRefreshWithClientGrants))
	s.RegisterGrantType(NewJWTBearerGrantHandler(NewJWTAssertionLoader(), issueRefreshWithClientGrants, s.logger))

	if s.users != nil {
		s.RegisterGrantType(NewPasswordGrantHandler(s.users, s.logger))
	}
	if s.refreshTokens != nil {
		s.RegisterGrantType(NewRefreshTokenGrantHandler(s.refreshTokens, s.config.ClockSkewGracePeriod, s.logger))
	}
	if s.authCodes != nil {
		s.RegisterGrantType(NewAuthorizationCodeGrantHandler(s.authCodes, s.logger))
	}

	s.RegisterResponseType(NewNoneResponseType(s.accessTokens))
	s.RegisterResponseType(NewTokenResponseType(s.accessTokens))
}

// buildRevokers resolves the token_type_hint dispatch table. Access tokens
// are always revocable; refresh tokens only when a manager is configured.
func (s *Server) buildRevokers() map[string]revokeFunc {
	revokers := map[string]revokeFunc{
		storage.TokenKindAccessToken: s.tryRevokeAccessToken,
	}
	if s.refreshTokens != nil {
		revokers[storage.TokenKindRefreshToken] = s.tryRevokeRefreshToken
	}
	return revokers
}

// RegisterGrantType registers (or replaces) a grant type handler.
func (s *Server) RegisterGrantType(h GrantTypeHandler) {
	s.grantTypes[h.GrantType()] = h
}

// RegisterResponseType registers (or replaces) a response type handler.
func (s *Server) RegisterResponseType(h ResponseTypeHandler) {
	s.responseTypes[h.ResponseType()] = h
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetRateLimiter sets the rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.rateLimiter = rl
}

// SetInstrumentation sets the OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Config returns the server configuration after defaults were applied.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// GetClient looks up a client by public ID. Unknown clients return (nil, nil).
func (s *Server) GetClient(ctx context.Context, publicID string) (*storage.Client, error) {
	return s.clients.GetClient(ctx, publicID)
}

// issueTokens computes the granted scope and creates the refresh and access
// tokens the grant elected. The refresh token is created first so the access
// token can carry the back-reference for cascade revocation.
func (s *Server) issueTokens(ctx context.Context, client *storage.Client, resp *GrantTypeResponse) (*TokenResponse, error) {
	scope, oerr := grantedScope(resp.RequestedScope, resp.AvailableScope)
	if oerr != nil {
		return nil, oerr
	}
	if len(s.config.SupportedScopes) > 0 && !scopeWithin(scope, s.config.SupportedScopes) {
		return nil, ErrInvalidScope("The requested scope is not supported by this server")
	}

	var refreshTokenStr string
	if resp.IssueRefreshToken && s.refreshTokens != nil {
		refreshScope := resp.RefreshTokenScope
		if refreshScope == nil {
			refreshScope = scope
		}
		refreshToken, err := s.refreshTokens.CreateRefreshToken(ctx, client, resp.ResourceOwnerPublicID, refreshScope)
		if err != nil {
			s.logger.Error("Failed to create refresh token", "client_id", client.PublicID, "error", err)
			return nil, ErrServerError("Failed to create refresh token")
		}
		refreshTokenStr = refreshToken.Token
	}

	accessToken, err := s.accessTokens.CreateAccessToken(ctx, client, resp.ResourceOwnerPublicID, scope, refreshTokenStr)
	if err != nil {
		s.logger.Error("Failed to create access token", "client_id", client.PublicID, "error", err)
		return nil, ErrServerError("Failed to create access token")
	}

	// Finish the rotation only after the new pair exists. The rotated-out
	// token is already marked used, so a failed revoke cannot enable replay.
	if resp.RevokedRefreshToken != "" && s.refreshTokens != nil {
		if err := s.refreshTokens.RevokeRefreshToken(ctx, resp.RevokedRefreshToken); err != nil {
			s.logger.Warn("Failed to revoke rotated refresh token", "client_id", client.PublicID, "error", err)
		}
	}

	return &TokenResponse{
		AccessToken:  accessToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    accessToken.ExpiresIn(time.Now()),
		RefreshToken: refreshTokenStr,
		Scope:        JoinScope(scope),
	}, nil
}

// revocationAllowed decides whether the calling client may revoke a token
// owned by ownerClientID. Authenticated callers must own the token exactly;
// anonymous callers may only touch tokens of public clients. An owner that
// no longer exists is treated as public.
func (s *Server) revocationAllowed(ctx context.Context, ownerClientID string, caller *storage.Client) (bool, error) {
	if caller != nil {
		return ownerClientID == caller.PublicID, nil
	}

	owner, err := s.clients.GetClient(ctx, ownerClientID)
	if err != nil {
		return false, fmt.Errorf("failed to load token owner %q: %w", ownerClientID, err)
	}
	if owner == nil {
		return true, nil
	}
	return !owner.Confidential, nil
}

// tryRevokeAccessToken revokes an access token and, when cascade is on, its
// paired refresh token.
func (s *Server) tryRevokeAccessToken(ctx context.Context, token string, client *storage.Client) (bool, error) {
	accessToken, err := s.accessTokens.GetAccessToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("failed to look up access token: %w", err)
	}
	if accessToken == nil {
		return false, nil
	}

	allowed, err := s.revocationAllowed(ctx, accessToken.ClientPublicID, client)
	if err != nil {
		return false, err
	}
	if !allowed {
		if s.auditor != nil {
			s.auditor.LogRevocationIgnored(accessToken.ClientPublicID, "", "ownership_mismatch")
		}
		return false, nil
	}

	if err := s.accessTokens.RevokeAccessToken(ctx, token); err != nil {
		return false, fmt.Errorf("failed to revoke access token: %w", err)
	}

	cascaded := false
	if !s.config.DisableRevocationCascade && accessToken.RefreshToken != "" && s.refreshTokens != nil {
		if err := s.refreshTokens.RevokeRefreshToken(ctx, accessToken.RefreshToken); err != nil {
			return false, fmt.Errorf("failed to cascade revocation to refresh token: %w", err)
		}
		cascaded = true
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokenRevoked(ctx, storage.TokenKindAccessToken, cascaded)
	}
	return true, nil
}

// tryRevokeRefreshToken revokes a refresh token.
func (s *Server) tryRevokeRefreshToken(ctx context.Context, token string, client *storage.Client) (bool, error) {
	refreshToken, err := s.refreshTokens.GetRefreshToken(ctx, token)
	if err != nil {
		return false, fmt.Errorf("failed to look up refresh token: %w", err)
	}
	if refreshToken == nil {
		return false, nil
	}

	allowed, err := s.revocationAllowed(ctx, refreshToken.ClientPublicID, client)
	if err != nil {
		return false, err
	}
	if !allowed {
		if s.auditor != nil {
			s.auditor.LogRevocationIgnored(refreshToken.ClientPublicID, "", "ownership_mismatch")
		}
		return false, nil
	}

	if err := s.refreshTokens.RevokeRefreshToken(ctx, token); err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	if s.inst != nil {
		s.inst.Metrics().RecordTokenRevoked(ctx, storage.TokenKindRefreshToken, false)
	}
	return true, nil
}
