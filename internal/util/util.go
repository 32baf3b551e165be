package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

func NowISO() string {
	return time.Now().Format(time.RFC3339)
}

func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares sig against the HMAC of msg in constant time.
func ValidSignature(secret, msg, sig string) bool {
	if sig == "" {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(HMACSHA256Hex(secret, msg)))
}

// Digits drops everything that is not an ASCII digit.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func ParseBool(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "sí", "si", "yes", "true", "1", "y":
		return true
	default:
		return false
	}
}
