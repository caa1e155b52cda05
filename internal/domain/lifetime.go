// Package domain lifetime.go contains the expiry rules for credentials and blobs.
package domain

import (
	"math"
	"time"
)

// Never is the credential lifetime sentinel meaning "never expires". A
// credential issued with it has a zero ExpiresAt and is immune to reaping.
const Never time.Duration = math.MinInt64

// DefaultLifetimeHours applies when an upload requests no positive lifetime.
const DefaultLifetimeHours = 24

// BlobLifetime resolves a requested lifetime in whole hours. Non-positive
// requests fall back to defaultHours; the result is clamped to maxHours.
func BlobLifetime(requestedHours, defaultHours, maxHours int) time.Duration {
	h := requestedHours
	if h <= 0 {
		h = defaultHours
	}
	if h <= 0 {
		h = DefaultLifetimeHours
	}
	if maxHours > 0 && h > maxHours {
		h = maxHours
	}
	return time.Duration(h) * time.Hour
}

// CredentialExpiry returns the absolute expiry for a credential issued at
// now. The zero time is returned for Never. Any other non-positive lifetime
// is rejected with ErrInvalidArgument.
func CredentialExpiry(now time.Time, lifetime time.Duration) (time.Time, error) {
	if lifetime == Never {
		return time.Time{}, nil
	}
	if lifetime <= 0 {
		return time.Time{}, ErrInvalidArgument
	}
	return now.Add(lifetime), nil
}

// Live reports whether something expiring at expiresAt is still usable at
// now. The boundary instant counts as expired. A zero expiresAt means never.
func Live(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return expiresAt.After(now)
}
