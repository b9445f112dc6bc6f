package oauth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/authkit/oauth2-server/storage"
)

// Response type identifiers
const (
	ResponseTypeNone  = "none"
	ResponseTypeToken = "token"
)

// NoneResponseType issues an access token server-side without handing it to
// the user agent: the redirect carries only the state. Useful when the
// client retrieves the token out of band.
type NoneResponseType struct {
	accessTokens storage.AccessTokenManager
}

// NewNoneResponseType creates the "none" response type handler.
func NewNoneResponseType(accessTokens storage.AccessTokenManager) *NoneResponseType {
	return &NoneResponseType{accessTokens: accessTokens}
}

// ResponseType implements ResponseTypeHandler.
func (rt *NoneResponseType) ResponseType() string { return ResponseTypeNone }

// ResponseMode implements ResponseTypeHandler.
func (rt *NoneResponseType) ResponseMode() string { return ResponseModeQuery }

// GrantAuthorization implements ResponseTypeHandler.
func (rt *NoneResponseType) GrantAuthorization(ctx context.Context, auth *Authorization) (map[string]string, error) {
	_, err := rt.accessTokens.CreateAccessToken(ctx, auth.Client, auth.EndUser.PublicID, auth.Scope, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}
	return map[string]string{}, nil
}

// TokenResponseType is the implicit grant: the access token travels in the
// fragment part of the redirect URI.
type TokenResponseType struct {
	accessTokens storage.AccessTokenManager
}

// NewTokenResponseType creates the "token" (implicit) response type handler.
func NewTokenResponseType(accessTokens storage.AccessTokenManager) *TokenResponseType {
	return &TokenResponseType{accessTokens: accessTokens}
}

// ResponseType implements ResponseTypeHandler.
func (rt *TokenResponseType) ResponseType() string { return ResponseTypeToken }

// ResponseMode implements ResponseTypeHandler.
func (rt *TokenResponseType) ResponseMode() string { return ResponseModeFragment }

// GrantAuthorization implements ResponseTypeHandler.
func (rt *TokenResponseType) GrantAuthorization(ctx context.Context, auth *Authorization) (map[string]string, error) {
	token, err := rt.accessTokens.CreateAccessToken(ctx, auth.Client, auth.EndUser.PublicID, auth.Scope, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	params := map[string]string{
		"access_token": token.Token,
		"token_type":   "Bearer",
		"expires_in":   strconv.FormatInt(token.ExpiresIn(time.Now()), 10),
	}
	if len(token.Scope) > 0 {
		params["scope"] = JoinScope(token.Scope)
	}
	return params, nil
}
