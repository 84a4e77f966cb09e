package core

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7/pkg/s3utils"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/checksum"
	"github.com/eteran/objstore/pkg/objpath"
	"github.com/eteran/objstore/pkg/retry"
)

const (
	DefaultRegion    = "us-east-1"
	DefaultUserAgent = "objstore/1.0"
)

var (
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrInvalidBucket   = errors.New("invalid bucket name")
)

// ClientOptions tune the HTTP side of a Client.
type ClientOptions struct {

	// Timeout bounds a single attempt from sending the request until the
	// response body has been read, so it also limits how long a caller may
	// take to consume a Get body. Zero means no timeout.
	Timeout time.Duration

	UserAgent string

	// Transport sends the signed requests. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool

	// ContentTypes maps lower-case file extensions, without the dot, to the
	// content type sent on put.
	ContentTypes map[string]string

	// InferContentType falls back to the system MIME table for extensions
	// missing from ContentTypes.
	InferContentType bool

	DefaultContentType string
}

// ContentType returns the content type sent when p is uploaded, or "" to
// send none.
func (o ClientOptions) ContentType(p objpath.Path) string {
	ext := strings.ToLower(p.Extension())
	if ext != "" {
		if ct, ok := o.ContentTypes[ext]; ok {
			return ct
		}
		if o.InferContentType {
			if ct := mime.TypeByExtension("." + ext); ct != "" {
				return ct
			}
		}
	}
	return o.DefaultContentType
}

// Config describes one bucket of an S3 compatible service and how to talk
// to it. NewClient completes and validates it.
type Config struct {
	Region   string
	Endpoint string
	Bucket   string

	// BucketEndpoint is the URL objects are addressed relative to. Derived
	// from Endpoint and Bucket unless set explicitly.
	BucketEndpoint     string
	VirtualHostedStyle bool

	Credentials auth.Provider
	Signer      auth.Signer
	Retry       retry.Config
	Client      ClientOptions

	// SignPayload includes the body hash in the signature instead of
	// UNSIGNED-PAYLOAD.
	SignPayload bool
	Checksum    checksum.Kind

	Logger  *slog.Logger
	Metrics *Metrics
	Clock   func() time.Time
}

type ConfigOption func(*Config)

func WithRegion(region string) ConfigOption {
	return func(cfg *Config) {
		cfg.Region = region
	}
}

func WithEndpoint(endpoint string) ConfigOption {
	return func(cfg *Config) {
		cfg.Endpoint = endpoint
	}
}

func WithBucketEndpoint(endpoint string) ConfigOption {
	return func(cfg *Config) {
		cfg.BucketEndpoint = endpoint
	}
}

// WithVirtualHostedStyle addresses the bucket as a subdomain of the
// endpoint instead of as the first path segment.
func WithVirtualHostedStyle(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.VirtualHostedStyle = enabled
	}
}

func WithCredentials(provider auth.Provider) ConfigOption {
	return func(cfg *Config) {
		cfg.Credentials = provider
	}
}

// WithStaticCredentials is shorthand for a static provider.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) ConfigOption {
	return WithCredentials(auth.NewStaticProvider(accessKeyID, secretAccessKey, sessionToken))
}

func WithSigner(signer auth.Signer) ConfigOption {
	return func(cfg *Config) {
		cfg.Signer = signer
	}
}

func WithRetry(retryCfg retry.Config) ConfigOption {
	return func(cfg *Config) {
		cfg.Retry = retryCfg
	}
}

func WithClientOptions(opts ClientOptions) ConfigOption {
	return func(cfg *Config) {
		cfg.Client = opts
	}
}

func WithTransport(rt http.RoundTripper) ConfigOption {
	return func(cfg *Config) {
		cfg.Client.Transport = rt
	}
}

func WithSignPayload(enabled bool) ConfigOption {
	return func(cfg *Config) {
		cfg.SignPayload = enabled
	}
}

func WithChecksum(kind checksum.Kind) ConfigOption {
	return func(cfg *Config) {
		cfg.Checksum = kind
	}
}

func WithLogger(logger *slog.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

func WithMetrics(metrics *Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = metrics
	}
}

// WithClock overrides the clock used for signing and expiry checks.
func WithClock(now func() time.Time) ConfigOption {
	return func(cfg *Config) {
		cfg.Clock = now
	}
}

func NewConfig(bucket string, opts ...ConfigOption) Config {
	cfg := Config{
		Bucket: bucket,
		Retry:  retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// complete fills in every derived field and validates the result.
func (cfg Config) complete() (Config, error) {
	if err := s3utils.CheckValidBucketName(cfg.Bucket); err != nil {
		return cfg, fmt.Errorf("%w %q: %w", ErrInvalidBucket, cfg.Bucket, err)
	}

	if cfg.Region == "" && cfg.Endpoint != "" {
		if u, err := url.Parse(cfg.Endpoint); err == nil {
			cfg.Region = s3utils.GetRegionFromURL(*u)
		}
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://s3." + cfg.Region + ".amazonaws.com"
	}
	endpoint, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return cfg, err
	}
	cfg.Endpoint = endpoint.String()

	if cfg.BucketEndpoint == "" {
		if cfg.VirtualHostedStyle {
			if endpoint.Scheme == "https" && strings.Contains(cfg.Bucket, ".") {
				return cfg, fmt.Errorf("%w %q: dotted bucket names cannot be addressed virtual-hosted over https", ErrInvalidBucket, cfg.Bucket)
			}
			u := *endpoint
			u.Host = cfg.Bucket + "." + endpoint.Host
			cfg.BucketEndpoint = u.String()
		} else {
			cfg.BucketEndpoint = endpoint.JoinPath(cfg.Bucket).String()
		}
	} else {
		u, err := parseEndpoint(cfg.BucketEndpoint)
		if err != nil {
			return cfg, err
		}
		cfg.BucketEndpoint = u.String()
	}

	if cfg.Credentials == nil {
		cfg.Credentials = auth.NewCache(auth.NewDefaultChain(nil))
	}
	if cfg.Signer == nil {
		cfg.Signer = auth.NewSigV4Signer()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Client.UserAgent == "" {
		cfg.Client.UserAgent = DefaultUserAgent
	}
	return cfg, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidEndpoint, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w %q: must be an absolute http or https URL", ErrInvalidEndpoint, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("%w %q: must not carry a query or fragment", ErrInvalidEndpoint, raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u, nil
}
