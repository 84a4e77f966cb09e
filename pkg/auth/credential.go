package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCredentialUnavailable is matched by every error a Provider returns when
// it cannot produce a credential.
var ErrCredentialUnavailable = errors.New("credential unavailable")

// Credential is an immutable snapshot of the secrets used to sign requests.
// Providers hand out pointers to snapshots they will never modify; a refresh
// publishes a new snapshot instead.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Expires is the zero time for credentials that never expire.
	Expires time.Time
}

// CanExpire reports whether the credential carries an expiry time.
func (c *Credential) CanExpire() bool {
	return !c.Expires.IsZero()
}

// ExpiresWithin reports whether the credential is expired at now, or will be
// within window.
func (c *Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	if !c.CanExpire() {
		return false
	}
	return !now.Add(window).Before(c.Expires)
}

// String never prints the secret parts of the credential.
func (c *Credential) String() string {
	return fmt.Sprintf("Credential{AccessKeyID: %s}", c.AccessKeyID)
}

// Provider produces credential snapshots. Implementations must be safe for
// concurrent use.
type Provider interface {

	// Credential returns the current snapshot, or a *CredentialError if no
	// credential can be obtained.
	Credential(ctx context.Context) (*Credential, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (*Credential, error)

func (f ProviderFunc) Credential(ctx context.Context) (*Credential, error) {
	return f(ctx)
}

// CredentialError reports a failure to obtain a credential from Source.
type CredentialError struct {
	Source string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Source, ErrCredentialUnavailable)
	}
	return fmt.Sprintf("%s: %v: %v", e.Source, ErrCredentialUnavailable, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

func (e *CredentialError) Is(target error) bool {
	return target == ErrCredentialUnavailable
}

func unavailable(source string, err error) error {
	return &CredentialError{Source: source, Err: err}
}
