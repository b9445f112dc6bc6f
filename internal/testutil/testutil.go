// Package testutil provides a pre-seeded in-memory store for tests.
package testutil

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/authkit/oauth2-server/storage"
	"github.com/authkit/oauth2-server/storage/memory"
)

// Fixture identifiers and credentials seeded by NewSeededStore.
const (
	PublicClientID       = "foo"
	ConfidentialClientID = "bar"
	BareClientID         = "baz"
	AssertionClientID    = "qux"

	ClientSecret = "secret"

	UserID       = "john"
	UserPassword = "secret"

	// PublicAccessToken belongs to the public client and is paired with
	// PublicRefreshToken.
	PublicAccessToken  = "EFGH"
	PublicRefreshToken = "REFRESH_EFGH"

	// ConfidentialAccessToken belongs to the confidential client, no
	// refresh token attached.
	ConfidentialAccessToken = "ABCD"

	// StandaloneRefreshToken belongs to the confidential client.
	StandaloneRefreshToken = "VALID_REFRESH_TOKEN"
)

// AssertionKey is the HMAC secret registered for the assertion client.
var AssertionKey = []byte("assertion-hmac-secret")

// NewSeededStore returns a memory store populated with the fixture clients,
// user, and tokens above. It panics on seeding failures since those can only
// come from broken fixtures.
func NewSeededStore() *memory.Store {
	ctx := context.Background()
	s := memory.New(memory.Options{})

	secretHash, err := bcrypt.GenerateFromPassword([]byte(ClientSecret), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(UserPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	clients := []*storage.Client{
		{
			PublicID:     PublicClientID,
			Confidential: false,
			AllowedGrantTypes: []string{
				"password", "refresh_token", "authorization_code",
			},
			RedirectURIs: []string{"https://client.example.com/cb"},
		},
		{
			PublicID:     ConfidentialClientID,
			Confidential: true,
			SecretHash:   string(secretHash),
			AllowedGrantTypes: []string{
				"password", "client_credentials", "refresh_token", "authorization_code",
			},
			RedirectURIs: []string{"https://client.example.com/cb"},
		},
		{
			PublicID:     BareClientID,
			Confidential: true,
			SecretHash:   string(secretHash),
		},
		{
			PublicID:     AssertionClientID,
			Confidential: true,
			SecretHash:   string(secretHash),
			AllowedGrantTypes: []string{
				"urn:ietf:params:oauth:grant-type:jwt-bearer",
			},
			AssertionKey: AssertionKey,
		},
	}
	for _, c := range clients {
		if err := s.SaveClient(ctx, c); err != nil {
			panic(err)
		}
	}

	if err := s.SaveEndUser(ctx, &storage.EndUser{
		PublicID:     UserID,
		PasswordHash: string(passwordHash),
	}); err != nil {
		panic(err)
	}

	expiry := time.Now().Add(time.Hour)
	tokens := []*storage.AccessToken{
		{
			Token:                 ConfidentialAccessToken,
			ClientPublicID:        ConfidentialClientID,
			ResourceOwnerPublicID: UserID,
			Scope:                 []string{"read"},
			ExpiresAt:             expiry,
		},
		{
			Token:                 PublicAccessToken,
			ClientPublicID:        PublicClientID,
			ResourceOwnerPublicID: UserID,
			Scope:                 []string{"read"},
			ExpiresAt:             expiry,
			RefreshToken:          PublicRefreshToken,
		},
	}
	for _, tok := range tokens {
		if err := s.PutAccessToken(ctx, tok); err != nil {
			panic(err)
		}
	}

	refreshTokens := []*storage.RefreshToken{
		{
			Token:                 PublicRefreshToken,
			ClientPublicID:        PublicClientID,
			ResourceOwnerPublicID: UserID,
			Scope:                 []string{"read"},
			ExpiresAt:             expiry,
		},
		{
			Token:                 StandaloneRefreshToken,
			ClientPublicID:        ConfidentialClientID,
			ResourceOwnerPublicID: UserID,
			Scope:                 []string{"read", "write"},
			ExpiresAt:             expiry,
		},
	}
	for _, tok := range refreshTokens {
		if err := s.PutRefreshToken(ctx, tok); err != nil {
			panic(err)
		}
	}

	return s
}
