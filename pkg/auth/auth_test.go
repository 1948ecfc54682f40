package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

// fastPolicy builds a hash policy at the minimum bcrypt cost.
func fastPolicy(t *testing.T, secret string) TokenPolicy {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword error = %v", err)
	}
	p, err := NewTokenPolicy("", string(hash))
	if err != nil {
		t.Fatalf("NewTokenPolicy error = %v", err)
	}
	return p
}

func TestTokenPolicy_Disabled(t *testing.T) {
	t.Parallel()

	p, err := NewTokenPolicy("", "")
	if err != nil {
		t.Fatalf("NewTokenPolicy error = %v", err)
	}
	if p.Enabled() {
		t.Error("policy without secret should be disabled")
	}
	if !p.Verify("") || !p.Verify("anything") {
		t.Error("disabled policy should accept every token")
	}
	if !(TokenPolicy{}).Verify("") {
		t.Error("zero TokenPolicy should accept every token")
	}
}

func TestTokenPolicy_Secret(t *testing.T) {
	t.Parallel()

	p, err := NewTokenPolicy("s3cret", "")
	if err != nil {
		t.Fatalf("NewTokenPolicy error = %v", err)
	}

	tests := []struct {
		token string
		want  bool
	}{
		{"s3cret", true},
		{"", false},
		{"S3CRET", false},
		{"s3cret ", false},
		{"s3cre", false},
	}
	for _, tt := range tests {
		if got := p.Verify(tt.token); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestTokenPolicy_Hash(t *testing.T) {
	t.Parallel()

	hash, err := HashToken("s3cret")
	if err != nil {
		t.Fatalf("HashToken error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash %q is not bcrypt", hash)
	}

	// The hash wins over a plaintext secret.
	p, err := NewTokenPolicy("other", hash)
	if err != nil {
		t.Fatalf("NewTokenPolicy error = %v", err)
	}
	if !p.Verify("s3cret") {
		t.Error("Verify with the hashed token should succeed")
	}
	if p.Verify("other") || p.Verify("") {
		t.Error("Verify should fail for any other token")
	}
}

func TestTokenPolicy_HashRejectsSuffixPastBcryptLimit(t *testing.T) {
	t.Parallel()

	secret := strings.Repeat("a", MaxTokenBytes)
	p := fastPolicy(t, secret)

	if !p.Verify(secret) {
		t.Fatal("Verify with the exact 72-byte token should succeed")
	}
	if p.Verify(secret + "JUNK") {
		t.Error("a token extending the secret must not match")
	}
	if VerifyToken(string(p.hash), secret+"JUNK") {
		t.Error("VerifyToken must refuse tokens over the bcrypt limit")
	}
}

func TestTokenPolicy_HashCachesAcceptedToken(t *testing.T) {
	t.Parallel()

	p := fastPolicy(t, "s3cret")
	if !p.Verify("s3cret") {
		t.Fatal("Verify should accept the hashed token")
	}

	// A copy with an unusable hash still accepts the cached token, so the
	// second check never reaches bcrypt.
	q := p
	q.hash = []byte("$2a$04$unusable")
	if !q.Verify("s3cret") {
		t.Error("accepted token should be served from the cache")
	}
	if q.Verify("other") {
		t.Error("an uncached token must go through bcrypt and fail")
	}
	if !p.Verify("s3cret") {
		t.Error("cache must keep accepting the token")
	}
}

func TestHashToken_TooLong(t *testing.T) {
	t.Parallel()

	if _, err := HashToken(strings.Repeat("a", MaxTokenBytes+1)); err == nil {
		t.Error("HashToken should refuse tokens over the bcrypt limit")
	}
}

func TestNewTokenPolicy_InvalidHash(t *testing.T) {
	t.Parallel()

	_, err := NewTokenPolicy("", "not-a-bcrypt-hash")
	if !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}
}

func TestHashToken_Empty(t *testing.T) {
	t.Parallel()

	if _, err := HashToken(""); err == nil {
		t.Error("HashToken(\"\") should fail")
	}
}

func TestVerifyToken_MalformedHash(t *testing.T) {
	t.Parallel()

	if VerifyToken("garbage", "token") {
		t.Error("VerifyToken should be false for a malformed hash")
	}
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken error = %v", err)
	}
	b, _ := GenerateToken()
	if len(a) != 2*tokenBytes {
		t.Errorf("len = %d, want %d", len(a), 2*tokenBytes)
	}
	if a == b {
		t.Error("two generated tokens are equal")
	}
}
