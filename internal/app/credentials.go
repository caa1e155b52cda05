package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haukened/fleeting/internal/domain"
)

// TokenSource produces opaque random tokens. domain.NewToken is the default.
type TokenSource func() (domain.Token, error)

func (ts TokenSource) orDefault() TokenSource {
	if ts == nil {
		return domain.NewToken
	}
	return ts
}

// withFreshToken calls insert with newly generated tokens until it stops
// reporting domain.ErrConflict, at most domain.MaxTokenAttempts times.
func withFreshToken(ts TokenSource, insert func(domain.Token) error) error {
	gen := ts.orDefault()
	for attempt := 0; attempt < domain.MaxTokenAttempts; attempt++ {
		tok, err := gen()
		if err != nil {
			return fmt.Errorf("%w: generate token: %v", domain.ErrInternal, err)
		}
		err = insert(tok)
		if !errors.Is(err, domain.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: token collision retries exhausted", domain.ErrInternal)
}

// CredentialService issues and validates API credentials.
type CredentialService struct {
	Store   CredentialStore
	Clock   Clock
	Tokens  TokenSource
	Metrics Recorder
}

// Issue creates a credential named name. lifetime is either positive or
// domain.Never.
func (s *CredentialService) Issue(ctx context.Context, name string, lifetime time.Duration) (Credential, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Credential{}, fmt.Errorf("%w: credential name must not be empty", domain.ErrInvalidArgument)
	}
	now := s.Clock.Now().UTC()
	expiresAt, err := domain.CredentialExpiry(now, lifetime)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: credential lifetime must be positive or never", err)
	}
	var c Credential
	err = withFreshToken(s.Tokens, func(tok domain.Token) error {
		c = Credential{Name: name, APIToken: tok.String(), IssuedAt: now, ExpiresAt: expiresAt}
		return s.Store.InsertCredential(ctx, &c)
	})
	if err != nil {
		return Credential{}, storeErr("issue credential", err)
	}
	recorder(s.Metrics).Inc(CounterCredentialsIssued, 1)
	return c, nil
}

// Validate reports whether apitoken names a live credential at now. Unknown
// and expired tokens are indistinguishable.
func (s *CredentialService) Validate(ctx context.Context, apitoken string, now time.Time) bool {
	ok, _ := s.check(ctx, apitoken, now)
	return ok
}

// Authorize validates apitoken against the clock, returning
// domain.ErrForbidden for unknown or expired tokens.
func (s *CredentialService) Authorize(ctx context.Context, apitoken string) error {
	ok, err := s.check(ctx, apitoken, s.Clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrForbidden
	}
	return nil
}

func (s *CredentialService) check(ctx context.Context, apitoken string, now time.Time) (bool, error) {
	if _, err := domain.ParseToken(apitoken); err != nil {
		return false, nil
	}
	c, err := s.Store.CredentialByToken(ctx, apitoken)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("lookup credential", err)
	}
	return domain.Live(c.ExpiresAt, now), nil
}

// Remove deletes the credential with id. Removing an unknown id succeeds.
func (s *CredentialService) Remove(ctx context.Context, id int64) error {
	if err := s.Store.DeleteCredential(ctx, id); err != nil {
		return storeErr("remove credential", err)
	}
	return nil
}

// List returns all credentials in insertion order.
func (s *CredentialService) List(ctx context.Context) ([]Credential, error) {
	cs, err := s.Store.ListCredentials(ctx)
	if err != nil {
		return nil, storeErr("list credentials", err)
	}
	return cs, nil
}

// storeErr classifies unexpected store failures as domain.ErrInternal while
// passing already-classified domain errors through.
func storeErr(op string, err error) error {
	for _, kind := range []error{
		domain.ErrInvalidArgument, domain.ErrNotFound, domain.ErrExpired, domain.ErrForbidden,
		domain.ErrStorageUnavailable, domain.ErrIngestionFailed, domain.ErrInternal,
	} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrInternal, op, err)
}

func recorder(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
