package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrInvalidToken covers every verification failure: malformed token, bad
// signature, expiry, wrong issuer. Callers only need pass/fail plus the
// principal, so the taxonomy stays flat.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves an access token to a principal ID.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Claims are the token claims this service cares about.
type Claims struct {
	Subject   string `json:"sub"`
	Issuer    string `json:"iss"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

// JWTVerifier validates HS256 tokens issued by the auth backend.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier creates a verifier. The secret must be at least 32 bytes.
func NewJWTVerifier(secret []byte, issuer string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	return &JWTVerifier{secret: secret, issuer: issuer}, nil
}

// Verify checks the token signature and claims and returns the subject.
func (v *JWTVerifier) Verify(ctx context.Context, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	signed := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(computeHMAC(signed, v.secret)), []byte(parts[2])) {
		return "", ErrInvalidToken
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return "", ErrInvalidToken
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return "", ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}

// Sign issues a token for the given principal. Used by tests and dev tooling;
// production tokens come from the auth backend.
func (v *JWTVerifier) Sign(principal string, ttl time.Duration) string {
	now := time.Now().Unix()
	claims := Claims{
		Subject:   principal,
		Issuer:    v.issuer,
		ExpiresAt: now + int64(ttl.Seconds()),
		IssuedAt:  now,
	}
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	claimsJSON, _ := json.Marshal(claims)

	signed := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	return signed + "." + computeHMAC(signed, v.secret)
}

func computeHMAC(message string, secret []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(message))
	return base64URLEncode(h.Sum(nil))
}

func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func base64URLDecode(data string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(data)
}
