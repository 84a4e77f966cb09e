package auth

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// AWSProvider adapts an aws-sdk-go-v2 credentials provider, typically the
// one resolved by config.LoadDefaultConfig.
type AWSProvider struct {
	provider aws.CredentialsProvider
}

func FromAWS(provider aws.CredentialsProvider) *AWSProvider {
	return &AWSProvider{provider: provider}
}

func (p *AWSProvider) Credential(ctx context.Context) (*Credential, error) {
	if p.provider == nil {
		return nil, unavailable("aws", nil)
	}

	v, err := p.provider.Retrieve(ctx)
	if err != nil {
		return nil, unavailable("aws", err)
	}
	if !v.HasKeys() {
		return nil, unavailable("aws", nil)
	}

	cred := &Credential{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
	}
	if v.CanExpire {
		cred.Expires = v.Expires
	}
	return cred, nil
}
