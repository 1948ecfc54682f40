// Package auth implements the relay's shared-secret access token.
// The token is opaque: it is either compared to a configured secret or
// checked against a bcrypt hash of that secret. It is a leaf package used by
// the relay validator and the `velune token` command.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BCryptCost is the work factor for token hashes.
const BCryptCost = 12

// tokenBytes is the entropy of generated tokens.
const tokenBytes = 32

// MaxTokenBytes is the longest token a bcrypt hash can tell apart: bcrypt
// ignores input past 72 bytes, so longer tokens are refused outright.
const MaxTokenBytes = 72

// ErrInvalidHash is returned by NewTokenPolicy for a malformed bcrypt hash.
var ErrInvalidHash = errors.New("auth: invalid token hash")

// TokenPolicy decides whether a presented token grants access.
// The zero value is disabled and accepts every request.
type TokenPolicy struct {
	secret []byte
	hash   []byte
	cache  *verifiedToken
}

// verifiedToken holds the digest of the last token that passed the bcrypt
// check. Copies of a policy share it.
type verifiedToken struct {
	mu     sync.Mutex
	digest [sha256.Size]byte
	set    bool
}

func (v *verifiedToken) matches(sum [sha256.Size]byte) bool {
	if v == nil {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set && subtle.ConstantTimeCompare(v.digest[:], sum[:]) == 1
}

func (v *verifiedToken) store(sum [sha256.Size]byte) {
	if v == nil {
		return
	}
	v.mu.Lock()
	v.digest, v.set = sum, true
	v.mu.Unlock()
}

// NewTokenPolicy builds a policy from a plaintext secret or a bcrypt hash.
// The hash wins when both are set; neither set disables the policy.
func NewTokenPolicy(secret, hash string) (TokenPolicy, error) {
	if hash != "" {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return TokenPolicy{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
		}
		return TokenPolicy{hash: []byte(hash), cache: &verifiedToken{}}, nil
	}
	if secret != "" {
		return TokenPolicy{secret: []byte(secret)}, nil
	}
	return TokenPolicy{}, nil
}

// Enabled reports whether requests must present a token.
func (p TokenPolicy) Enabled() bool {
	return len(p.secret) > 0 || len(p.hash) > 0
}

// Verify reports whether presented matches exactly. An empty token never matches an enabled policy.
// In hash mode the work factor is paid once per distinct accepted token.
func (p TokenPolicy) Verify(presented string) bool {
	switch {
	case !p.Enabled():
		return true
	case presented == "":
		return false
	case len(p.hash) > 0:
		return p.verifyHash(presented)
	default:
		return subtle.ConstantTimeCompare(p.secret, []byte(presented)) == 1
	}
}

func (p TokenPolicy) verifyHash(presented string) bool {
	if len(presented) > MaxTokenBytes {
		return false
	}
	sum := sha256.Sum256([]byte(presented))
	if p.cache.matches(sum) {
		return true
	}
	if !VerifyToken(string(p.hash), presented) {
		return false
	}
	p.cache.store(sum)
	return true
}

// HashToken hashes token with bcrypt for storage in configuration.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("auth: refusing to hash an empty token")
	}
	if len(token) > MaxTokenBytes {
		return "", fmt.Errorf("auth: token longer than %d bytes cannot be hashed", MaxTokenBytes)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), BCryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken checks token against a bcrypt hash.
// Returns false (not error) for malformed hashes and for tokens over MaxTokenBytes.
func VerifyToken(hash, token string) bool {
	if len(token) > MaxTokenBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// GenerateToken returns a random hex token suitable for LOCAL_API_TOKEN.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
