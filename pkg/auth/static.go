package auth

import (
	"context"
	"errors"
)

const (
	DefaultAccessKeyID     = "objstoreadmin"
	DefaultSecretAccessKey = "objstoreadmin"
)

// StaticProvider always returns the same credential.
type StaticProvider struct {
	cred *Credential
}

// NewStaticProvider creates a StaticProvider with the given access key ID,
// secret access key and optional session token.
func NewStaticProvider(accessKeyID, secretAccessKey, sessionToken string) *StaticProvider {
	return &StaticProvider{
		cred: &Credential{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			SessionToken:    sessionToken,
		},
	}
}

// Credential returns the static snapshot. An empty access key is reported
// as unavailable rather than signing anonymously.
func (p *StaticProvider) Credential(ctx context.Context) (*Credential, error) {
	if p.cred.AccessKeyID == "" || p.cred.SecretAccessKey == "" {
		return nil, unavailable("static", errors.New("access key and secret must not be empty"))
	}
	return p.cred, nil
}
