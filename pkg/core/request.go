package core

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/objpath"
)

const (
	headerCopySource   = "X-Amz-Copy-Source"
	headerInvocationID = "Amz-Sdk-Invocation-Id"
	headerSDKRequest   = "Amz-Sdk-Request"
)

// ByteRange selects bytes [Start, End) of an object. A zero End reads to
// the end of the object.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) header() string {
	if r.End <= 0 {
		return fmt.Sprintf("bytes=%d-", r.Start)
	}
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1)
}

// GetOptions are the conditions and selectors of a get or head request.
type GetOptions struct {
	Range             *ByteRange
	IfMatch           string
	IfNoneMatch       string
	IfModifiedSince   time.Time
	IfUnmodifiedSince time.Time
	VersionID         string
}

func (o GetOptions) apply(header http.Header, query url.Values) {
	if o.Range != nil {
		header.Set("Range", o.Range.header())
	}
	if o.IfMatch != "" {
		header.Set("If-Match", o.IfMatch)
	}
	if o.IfNoneMatch != "" {
		header.Set("If-None-Match", o.IfNoneMatch)
	}
	if !o.IfModifiedSince.IsZero() {
		header.Set("If-Modified-Since", o.IfModifiedSince.UTC().Format(http.TimeFormat))
	}
	if !o.IfUnmodifiedSince.IsZero() {
		header.Set("If-Unmodified-Since", o.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
	}
	if o.VersionID != "" {
		query.Set("versionId", o.VersionID)
	}
}

// requestTemplate is everything needed to build one unsigned request. The
// executor builds a fresh *http.Request from it for every attempt.
type requestTemplate struct {
	op     Op
	path   string
	method string
	url    string
	query  url.Values
	header http.Header

	// body is nil for requests without a body.
	body          []byte
	payloadSHA256 []byte
}

func newTemplate(op Op, method, rawURL string, path string) *requestTemplate {
	return &requestTemplate{
		op:     op,
		path:   path,
		method: method,
		url:    rawURL,
		query:  url.Values{},
		header: http.Header{},
	}
}

func (t *requestTemplate) build(ctx context.Context) (*http.Request, error) {
	target := t.url
	if len(t.query) > 0 {
		target += "?" + t.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, t.method, target, auth.NewBodyReader(t.body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", t.op, err)
	}
	for k, vs := range t.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return req, nil
}

func (c *Client) objectURL(p objpath.Path) string {
	if p.IsRoot() {
		return c.cfg.BucketEndpoint
	}
	return c.cfg.BucketEndpoint + "/" + objpath.Encode(p)
}
