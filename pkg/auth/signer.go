package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	ServiceS3 = "s3"

	HeaderContentSHA256 = "X-Amz-Content-Sha256"
	HeaderSecurityToken = "X-Amz-Security-Token"

	UnsignedPayload = "UNSIGNED-PAYLOAD"
	// EmptyPayloadHash is the hex SHA-256 of an empty body.
	EmptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// SigningParams describes one signing operation.
type SigningParams struct {
	Region  string
	Service string

	// SignPayload selects whether the payload hash takes part in the
	// signature. When false and no PayloadSHA256 is given the request is
	// signed with UNSIGNED-PAYLOAD.
	SignPayload bool

	// PayloadSHA256 is the precomputed SHA-256 of the body and is always
	// used when set. Otherwise, with SignPayload, the body is read through
	// Request.GetBody.
	PayloadSHA256 []byte

	Time time.Time
}

// Signer attaches authentication to an outgoing request.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, cred *Credential, params SigningParams) error
}

// SigV4Signer signs requests with AWS Signature Version 4. Object paths are
// expected to be encoded already, so the signer does not escape them again.
type SigV4Signer struct {
	signer *v4.Signer
}

func NewSigV4Signer() *SigV4Signer {
	return &SigV4Signer{
		signer: v4.NewSigner(func(o *v4.SignerOptions) {
			o.DisableURIPathEscaping = true
		}),
	}
}

func (s *SigV4Signer) Sign(ctx context.Context, req *http.Request, cred *Credential, params SigningParams) error {
	if cred == nil {
		return unavailable("signer", nil)
	}

	payloadHash, err := payloadHashFor(req, params)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderContentSHA256, payloadHash)

	service := params.Service
	if service == "" {
		service = ServiceS3
	}
	signingTime := params.Time
	if signingTime.IsZero() {
		signingTime = time.Now()
	}

	awsCred := aws.Credentials{
		AccessKeyID:     cred.AccessKeyID,
		SecretAccessKey: cred.SecretAccessKey,
		SessionToken:    cred.SessionToken,
		CanExpire:       cred.CanExpire(),
		Expires:         cred.Expires,
	}
	if err := s.signer.SignHTTP(ctx, awsCred, req, payloadHash, service, params.Region, signingTime); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	return nil
}

func payloadHashFor(req *http.Request, params SigningParams) (string, error) {
	if params.PayloadSHA256 != nil {
		return hex.EncodeToString(params.PayloadSHA256), nil
	}
	if !params.SignPayload {
		return UnsignedPayload, nil
	}
	if req.GetBody == nil {
		return EmptyPayloadHash, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return "", fmt.Errorf("read body for signing: %w", err)
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("read body for signing: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashPayload returns the SHA-256 of payload.
func HashPayload(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

// NewBodyReader returns a body suitable for http.NewRequest that can be
// replayed for signing.
func NewBodyReader(payload []byte) io.Reader {
	if len(payload) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(payload)
}
