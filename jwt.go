package oauth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authkit/oauth2-server/storage"
)

// Assertion is a decoded (not yet verified) signed assertion.
type Assertion struct {
	// Subject is the "sub" claim, naming the client the assertion speaks for.
	Subject string

	// Claims holds the full claim set.
	Claims jwt.MapClaims
}

// AssertionLoader decodes and verifies compact signed assertions presented
// on the JWT-bearer grant.
type AssertionLoader interface {
	// Load decodes the assertion without verifying the signature, enough to
	// learn which client it speaks for.
	Load(assertion string) (*Assertion, error)

	// Verify checks the assertion's signature and registered claims against
	// the client's assertion key and allowed algorithms.
	Verify(assertion string, client *storage.Client) error
}

// defaultAssertionAlgorithms are accepted when a client does not restrict
// its assertion algorithms.
var defaultAssertionAlgorithms = []string{"HS256", "HS384", "HS512", "RS256", "ES256"}

// JWTAssertionLoader is the AssertionLoader backed by golang-jwt.
type JWTAssertionLoader struct {
	parser *jwt.Parser
}

// NewJWTAssertionLoader creates an assertion loader.
func NewJWTAssertionLoader() *JWTAssertionLoader {
	return &JWTAssertionLoader{parser: jwt.NewParser()}
}

// Load implements AssertionLoader.
func (l *JWTAssertionLoader) Load(assertion string) (*Assertion, error) {
	claims := jwt.MapClaims{}
	if _, _, err := l.parser.ParseUnverified(assertion, claims); err != nil {
		return nil, fmt.Errorf("failed to decode assertion: %w", err)
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("failed to read assertion subject: %w", err)
	}

	return &Assertion{Subject: subject, Claims: claims}, nil
}

// Verify implements AssertionLoader.
func (l *JWTAssertionLoader) Verify(assertion string, client *storage.Client) error {
	if !client.SupportsAssertions() {
		return fmt.Errorf("client %q holds no assertion key", client.PublicID)
	}

	algorithms := client.AssertionAlgorithms
	if len(algorithms) == 0 {
		algorithms = defaultAssertionAlgorithms
	}

	_, err := jwt.Parse(assertion, func(t *jwt.Token) (any, error) {
		return assertionKey(t, client)
	}, jwt.WithValidMethods(algorithms))
	if err != nil {
		return fmt.Errorf("assertion verification failed: %w", err)
	}
	return nil
}

// assertionKey resolves the verification key for the assertion's signing
// method. HMAC methods use the raw key bytes; asymmetric methods expect a
// PEM-encoded public key.
func assertionKey(t *jwt.Token, client *storage.Client) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return client.AssertionKey, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		return jwt.ParseRSAPublicKeyFromPEM(client.AssertionKey)
	case *jwt.SigningMethodECDSA:
		return jwt.ParseECPublicKeyFromPEM(client.AssertionKey)
	default:
		return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
	}
}
