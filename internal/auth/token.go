// Package auth issues and verifies the signed access tokens used by the API.
//
// Tokens are compact two-part strings, base64url(claims JSON) + "." +
// base64url(HMAC-SHA256). Self-contained on purpose: verification needs only
// the shared secret, no session lookup.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

var encoding = base64.RawURLEncoding

func IssueToken(secret []byte, claims Claims) (string, error) {
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := encoding.EncodeToString(body)
	return payload + "." + encoding.EncodeToString(sign(secret, payload)), nil
}

func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}

	got, err := encoding.DecodeString(signature)
	if err != nil || !hmac.Equal(got, sign(secret, payload)) {
		return Claims{}, ErrInvalidToken
	}

	body, err := encoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	switch {
	case claims.Sub == "" || claims.JTI == "" || claims.Exp == 0:
		return Claims{}, ErrInvalidToken
	case time.Now().Unix() >= claims.Exp:
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// HashToken returns the hex SHA-256 of a refresh token. Only hashes are
// persisted; the raw token exists client-side only.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
