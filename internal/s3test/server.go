// Package s3test runs an in-memory S3 endpoint for tests. It verifies
// SigV4 signatures, records every request and can be scripted to fail.
package s3test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/eteran/objstore/pkg/auth"
)

const DefaultPageSize = 1000

// Object is a stored object.
type Object struct {
	Data        []byte
	ETag        string
	ContentType string
	ModTime     time.Time
}

// Request is a recorded request as the server saw it.
type Request struct {
	Method string
	Key    string
	Query  url.Values
	Header http.Header
	Body   []byte

	// AccessKeyID and Signature are empty when authentication failed.
	AccessKeyID string
	Signature   string
}

// Fault replaces the normal handling of a request. A Status below 300 with
// a Body produces a successful response with that body.
type Fault struct {
	Status  int
	Code    string
	Message string
	Body    string
}

type upload struct {
	key   string
	parts map[int]*Object
}

// Server is an S3 endpoint serving a single bucket.
type Server struct {
	Bucket string

	verifier *auth.Verifier
	pageSize int
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	objects    map[string]*Object
	uploads    map[string]*upload
	nextUpload int
	requests   []Request
	faults     []Fault
	intercept  func(Request) *Fault

	srv *httptest.Server
}

type Option func(*Server)

// WithCredentials sets the credentials the server accepts. Defaults to
// auth.DefaultAccessKeyID and auth.DefaultSecretAccessKey.
func WithCredentials(creds ...*auth.Credential) Option {
	return func(s *Server) {
		s.verifier = auth.NewStaticVerifier(creds...)
	}
}

// WithPageSize caps the number of entries in one list response.
func WithPageSize(n int) Option {
	return func(s *Server) {
		s.pageSize = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a Server without starting a listener.
func NewServer(bucket string, opts ...Option) *Server {
	s := &Server{
		Bucket:   bucket,
		pageSize: DefaultPageSize,
		now:      time.Now,
		logger:   slog.Default(),
		objects:  make(map[string]*Object),
		uploads:  make(map[string]*upload),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.verifier == nil {
		s.verifier = auth.NewStaticVerifier(&auth.Credential{
			AccessKeyID:     auth.DefaultAccessKeyID,
			SecretAccessKey: auth.DefaultSecretAccessKey,
		})
	}
	return s
}

// New starts a Server on a local port and stops it when tb finishes.
func New(tb testing.TB, bucket string, opts ...Option) *Server {
	tb.Helper()

	s := NewServer(bucket, opts...)
	s.srv = httptest.NewServer(s.Handler())
	tb.Cleanup(s.srv.Close)
	return s
}

// URL returns the endpoint of a started server.
func (s *Server) URL() string {
	return s.srv.URL
}

// FailNext queues faults for the next authenticated requests, one fault
// per request.
func (s *Server) FailNext(faults ...Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, faults...)
}

// Intercept installs fn, which may return a fault for any authenticated
// request. Queued faults take precedence.
func (s *Server) Intercept(fn func(Request) *Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intercept = fn
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// PutObject stores data under key without going through HTTP.
func (s *Server) PutObject(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = s.newObject(data, "")
}

// Object returns the object stored under key.
func (s *Server) Object(key string) (*Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// OpenUploads returns the number of multipart uploads not yet completed.
func (s *Server) OpenUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

// newObject must be called with s.mu held.
func (s *Server) newObject(data []byte, contentType string) *Object {
	sum := sha256.Sum256(data)
	return &Object{
		Data:        data,
		ETag:        createETag(hex.EncodeToString(sum[:])),
		ContentType: contentType,
		ModTime:     s.now().UTC().Truncate(time.Second),
	}
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}
