// Package domain token.go contains functions to generate, parse, and validate tokens
package domain

import (
	"crypto/rand"
	"encoding/base64"
)

// Token is an opaque capability or secret. It is 192 random bits encoded as
// 32 characters of unpadded URL-safe base64.
type Token string

const (
	tokenBytes = 24
	// TokenLen is the encoded length of every Token.
	TokenLen = 32
)

// MaxTokenAttempts bounds regeneration after a uniqueness conflict.
const MaxTokenAttempts = 5

// NewToken returns a fresh random Token. Uniqueness is not guaranteed; callers
// that insert it into a unique column must retry on ErrConflict.
func NewToken() (Token, error) {
	var b [tokenBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return Token(base64.RawURLEncoding.EncodeToString(b[:])), nil
}

// ParseToken validates s and returns it as a Token. It enforces:
// - length == TokenLen
// - only URL-safe base64 characters [A-Za-z0-9_-]
// Returns ErrInvalidArgument on failure.
func ParseToken(s string) (Token, error) {
	if !isValidToken(s) {
		return "", ErrInvalidArgument
	}
	return Token(s), nil
}

// String returns the string form of the Token.
func (t Token) String() string { return string(t) }

// Valid reports whether the token satisfies the same rules as ParseToken.
func (t Token) Valid() bool { return isValidToken(string(t)) }

func isValidToken(s string) bool {
	if len(s) != TokenLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
