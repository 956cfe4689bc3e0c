// Package auth mints and validates the bearer tokens pipeline workers
// present when connecting to the daemon's websocket plane.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat = errors.New("invalid token format")
	ErrTokenSig    = errors.New("invalid token signature")
	ErrTokenExp    = errors.New("token expired")
	ErrTokenRole   = errors.New("token role mismatch")
)

// GenerateWorkerToken builds a role-scoped token.
// Format: base64url(role + "." + exp_unix + "." + hex(hmac_sha256(secret, role+"."+exp)))
func GenerateWorkerToken(secret, role string, expUnix int64) string {
	msg := role + "." + strconv.FormatInt(expUnix, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(msg + "." + sig))
}

// ValidateWorkerToken parses the token, verifies the signature in
// constant time, and checks role and expiry (with skew on expiry only).
func ValidateWorkerToken(secret, token, expectRole string, now time.Time, skewSeconds int) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return "", ErrTokenFormat
	}
	role, expStr, sigHex := parts[0], parts[1], parts[2]

	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", ErrTokenFormat
	}
	if expectRole != "" && role != expectRole {
		return "", ErrTokenRole
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(role + "." + expStr))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", ErrTokenFormat
	}
	if !hmac.Equal(want, got) {
		return "", ErrTokenSig
	}

	if now.Unix() > exp+int64(skewSeconds) {
		return "", ErrTokenExp
	}
	return role, nil
}
