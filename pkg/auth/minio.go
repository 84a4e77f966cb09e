package auth

import (
	"context"
	"net/http"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioProvider adapts a minio-go credentials source. minio-go keeps its own
// cached value, so the adapter only converts the result into a snapshot.
type MinioProvider struct {
	creds  *credentials.Credentials
	client *http.Client
}

// FromMinio wraps creds. The optional client is used by sources that fetch
// credentials over HTTP, such as the instance metadata service.
func FromMinio(creds *credentials.Credentials, client *http.Client) *MinioProvider {
	return &MinioProvider{creds: creds, client: client}
}

// NewStaticMinio returns a static V4 source backed by minio-go.
func NewStaticMinio(accessKeyID, secretAccessKey, sessionToken string) *MinioProvider {
	return FromMinio(credentials.NewStaticV4(accessKeyID, secretAccessKey, sessionToken), nil)
}

// NewDefaultChain looks for credentials in the AWS environment variables,
// the MinIO environment variables, the shared AWS credentials file and the
// instance metadata service, in that order.
func NewDefaultChain(client *http.Client) *MinioProvider {
	return FromMinio(credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: client},
	}), client)
}

func (p *MinioProvider) Credential(ctx context.Context) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("minio", err)
	}

	var cc *credentials.CredContext
	if p.client != nil {
		cc = &credentials.CredContext{Client: p.client}
	}

	v, err := p.creds.GetWithContext(cc)
	if err != nil {
		return nil, unavailable("minio", err)
	}

	// The minio chain falls back to anonymous access instead of failing.
	if v.AccessKeyID == "" || v.SecretAccessKey == "" {
		return nil, unavailable("minio", nil)
	}

	return &Credential{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
		Expires:         v.Expiration,
	}, nil
}
