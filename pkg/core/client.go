package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/objpath"
)

// Client performs storage operations against one bucket. It is safe for
// concurrent use.
type Client struct {
	cfg  Config
	exec *executor
}

// NewClient completes and validates cfg and returns a Client for it.
func NewClient(cfg Config) (*Client, error) {
	cfg, err := cfg.complete()
	if err != nil {
		return nil, err
	}

	c := &Client{cfg: cfg}
	c.exec = newExecutor(&c.cfg)
	return c, nil
}

// Config returns a copy of the completed configuration.
func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) credential(ctx context.Context) (*auth.Credential, error) {
	return c.cfg.Credentials.Credential(ctx)
}

// execute fetches the operation's credential and runs tmpl. Credential
// errors are returned as they are; everything else is a *RequestError.
func (c *Client) execute(ctx context.Context, tmpl *requestTemplate) (*exchange, error) {
	cred, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}

	ex, err := c.exec.do(ctx, tmpl, cred)
	if err != nil {
		return nil, &RequestError{Op: tmpl.op, Path: tmpl.path, Err: err}
	}
	return ex, nil
}

// Get fetches an object. The caller must close the response body.
func (c *Client) Get(ctx context.Context, p objpath.Path, opts GetOptions) (*http.Response, error) {
	return c.getRequest(ctx, p, opts, false)
}

// Head fetches an object's metadata.
func (c *Client) Head(ctx context.Context, p objpath.Path, opts GetOptions) (*http.Response, error) {
	return c.getRequest(ctx, p, opts, true)
}

func (c *Client) getRequest(ctx context.Context, p objpath.Path, opts GetOptions, head bool) (*http.Response, error) {
	op, method := OpGet, http.MethodGet
	if head {
		op, method = OpHead, http.MethodHead
	}

	tmpl := newTemplate(op, method, c.objectURL(p), p.String())
	opts.apply(tmpl.header, tmpl.query)

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	return ex.resp, nil
}

// Put uploads payload to p. A nil payload sends no body. query carries
// sub-resource parameters such as partNumber and uploadId. The caller must
// close the response body.
func (c *Client) Put(ctx context.Context, p objpath.Path, payload []byte, query url.Values) (*http.Response, error) {
	tmpl := newTemplate(OpPut, http.MethodPut, c.objectURL(p), p.String())

	if payload != nil {
		if kind := c.cfg.Checksum; kind.IsSet() {
			digest := kind.Digest(payload)
			tmpl.header.Set(kind.HeaderName(), base64.StdEncoding.EncodeToString(digest))
			if kind.SignsPayload() {
				tmpl.payloadSHA256 = digest
			}
		}
		tmpl.body = payload
	}

	if ct := c.cfg.Client.ContentType(p); ct != "" {
		tmpl.header.Set("Content-Type", ct)
	}

	for k, vs := range query {
		tmpl.query[k] = append([]string(nil), vs...)
	}

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return nil, err
	}
	return ex.resp, nil
}

// Delete removes p.
func (c *Client) Delete(ctx context.Context, p objpath.Path, query url.Values) error {
	tmpl := newTemplate(OpDelete, http.MethodDelete, c.objectURL(p), p.String())
	for k, vs := range query {
		tmpl.query[k] = append([]string(nil), vs...)
	}

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return err
	}
	drain(ex.resp)
	return nil
}

// Copy copies from to to within the bucket.
func (c *Client) Copy(ctx context.Context, from, to objpath.Path) error {
	tmpl := newTemplate(OpCopy, http.MethodPut, c.objectURL(to), from.String())
	tmpl.header.Set(headerCopySource, c.cfg.Bucket+"/"+objpath.Encode(from))

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return err
	}
	return embeddedError(ex.resp, OpCopy, from.String())
}

// embeddedError reads a 2xx body and reports an S3 error document found in
// it. Copy and multipart completion can fail after the status line has
// already been sent.
func embeddedError(resp *http.Response, op Op, path string) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ResponseBodyError{Op: op, Path: path, Err: err}
	}

	var doc S3Error
	if len(bytes.TrimSpace(body)) == 0 || xml.Unmarshal(body, &doc) != nil || doc.Code == "" {
		return nil
	}
	return &RequestError{Op: op, Path: path, Err: &ResponseError{
		StatusCode: resp.StatusCode,
		Code:       doc.Code,
		Message:    doc.Message,
		Resource:   doc.Resource,
		RequestID:  doc.RequestID,
	}}
}

func readBody(resp *http.Response, op Op, path string) ([]byte, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ResponseBodyError{Op: op, Path: path, Err: err}
	}
	return body, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

var errMissingETag = errors.New("response carries no ETag header")
