package security

import (
	"strings"
	"testing"
)

func TestGenerateToken_Length(t *testing.T) {
	for _, length := range []int{1, 20, 30, 64} {
		token, err := GenerateToken(length, DefaultTokenCharset)
		if err != nil {
			t.Fatalf("GenerateToken(%d) error: %v", length, err)
		}
		if len(token) != length {
			t.Errorf("GenerateToken(%d) length = %d, want %d", length, len(token), length)
		}
	}
}

func TestGenerateToken_Charset(t *testing.T) {
	const charset = "abc123"

	token, err := GenerateToken(100, charset)
	if err != nil {
		t.Fatalf("GenerateToken() error: %v", err)
	}

	for _, c := range token {
		if !strings.ContainsRune(charset, c) {
			t.Errorf("token contains %q, not in charset %q", c, charset)
		}
	}
}

func TestGenerateToken_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken(30, DefaultTokenCharset)
		if err != nil {
			t.Fatalf("GenerateToken() error: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token generated: %q", token)
		}
		seen[token] = true
	}
}

func TestGenerateToken_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		charset string
	}{
		{"zero length", 0, DefaultTokenCharset},
		{"negative length", -5, DefaultTokenCharset},
		{"empty charset", 10, ""},
		{"single char charset", 10, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GenerateToken(tt.length, tt.charset); err == nil {
				t.Error("GenerateToken() expected error, got nil")
			}
		})
	}
}

func TestTokenLength_Bounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		n, err := TokenLength(20, 30)
		if err != nil {
			t.Fatalf("TokenLength() error: %v", err)
		}
		if n < 20 || n > 30 {
			t.Errorf("TokenLength(20, 30) = %d, want in [20, 30]", n)
		}
	}
}

func TestTokenLength_Degenerate(t *testing.T) {
	n, err := TokenLength(25, 25)
	if err != nil {
		t.Fatalf("TokenLength() error: %v", err)
	}
	if n != 25 {
		t.Errorf("TokenLength(25, 25) = %d, want 25", n)
	}

	// Swapped bounds are tolerated.
	n, err = TokenLength(30, 20)
	if err != nil {
		t.Fatalf("TokenLength() error: %v", err)
	}
	if n < 20 || n > 30 {
		t.Errorf("TokenLength(30, 20) = %d, want in [20, 30]", n)
	}
}
