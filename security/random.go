package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// DefaultTokenCharset is the unreserved URI character superset used for
// opaque token strings when no custom charset is configured.
const DefaultTokenCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~+/"

// GenerateToken returns a cryptographically strong random string of exactly
// length characters drawn uniformly from charset. It never silently retries
// or truncates: any failure of the system RNG, or a result of the wrong
// length, is returned as an error for the caller to surface as a server
// error.
func GenerateToken(length int, charset string) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive, got %d", length)
	}
	if len(charset) < 2 {
		return "", fmt.Errorf("token charset must contain at least 2 characters")
	}

	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random token: %w", err)
		}
		out[i] = charset[n.Int64()]
	}

	if len(out) != length {
		return "", fmt.Errorf("generated token has length %d, want %d", len(out), length)
	}
	return string(out), nil
}

// TokenLength returns a length drawn uniformly from [minLength, maxLength].
// Randomizing the length avoids a fixed-width oracle and cheaply increases
// entropy variance without weakening the minimum guarantee. The bounds are
// swapped if given in the wrong order.
func TokenLength(minLength, maxLength int) (int, error) {
	if minLength > maxLength {
		minLength, maxLength = maxLength, minLength
	}
	if minLength == maxLength {
		return minLength, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxLength-minLength+1)))
	if err != nil {
		return 0, fmt.Errorf("failed to pick random token length: %w", err)
	}
	return minLength + int(n.Int64()), nil
}
