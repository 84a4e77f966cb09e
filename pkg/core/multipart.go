package core

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/eteran/objstore/pkg/objpath"
)

// UploadPart identifies an uploaded part by the ETag the service returned
// for it.
type UploadPart struct {
	ETag string
}

type uploadState int

const (
	uploadCreated uploadState = iota
	uploadCompleted
)

// MultipartUpload is a created multipart upload. Parts may be uploaded
// concurrently; Complete finishes the upload exactly once.
type MultipartUpload struct {
	client *Client
	path   objpath.Path
	id     string

	mu    sync.Mutex
	state uploadState
}

func (u *MultipartUpload) Path() objpath.Path { return u.path }

// ID returns the upload id, which can be persisted and passed to
// Client.ResumeMultipart.
func (u *MultipartUpload) ID() string { return u.id }

func (u *MultipartUpload) Completed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == uploadCompleted
}

// CreateMultipart starts a multipart upload to p.
func (c *Client) CreateMultipart(ctx context.Context, p objpath.Path) (*MultipartUpload, error) {
	tmpl := newTemplate(OpCreateMultipart, http.MethodPost, c.objectURL(p), p.String())
	tmpl.query.Set("uploads", "")

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return nil, err
	}

	body, err := readBody(ex.resp, OpCreateMultipart, p.String())
	if err != nil {
		return nil, err
	}

	var result InitiateMultipartUploadResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, &ResponseBodyError{Op: OpCreateMultipart, Path: p.String(), Err: err}
	}
	if result.UploadID == "" {
		return nil, &ResponseBodyError{Op: OpCreateMultipart, Path: p.String(), Err: fmt.Errorf("empty upload id")}
	}

	// Each attempt may have created an upload the service never reported
	// back; only the last one is known.
	if ex.attempts > 1 {
		c.cfg.Logger.WarnContext(ctx, "Multipart upload created after retries",
			"path", p.String(),
			"upload_id", result.UploadID,
			"invocation_id", ex.invocationID,
			"attempts", ex.attempts,
		)
	}

	return &MultipartUpload{client: c, path: p, id: result.UploadID}, nil
}

// ResumeMultipart rebuilds an upload created earlier, for example by
// another process.
func (c *Client) ResumeMultipart(p objpath.Path, uploadID string) *MultipartUpload {
	return &MultipartUpload{client: c, path: p, id: uploadID}
}

// PutPart uploads data as the part at zero-based position partIdx.
func (u *MultipartUpload) PutPart(ctx context.Context, partIdx int, data []byte) (UploadPart, error) {
	if u.Completed() {
		return UploadPart{}, ErrUploadCompleted
	}

	query := url.Values{}
	query.Set("partNumber", strconv.Itoa(partIdx+1))
	query.Set("uploadId", u.id)

	resp, err := u.client.Put(ctx, u.path, data, query)
	if err != nil {
		return UploadPart{}, err
	}
	drain(resp)

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return UploadPart{}, &ResponseBodyError{Op: OpPut, Path: u.path.String(), Err: errMissingETag}
	}
	return UploadPart{ETag: etag}, nil
}

// Complete assembles parts in order. On failure the upload stays open and
// Complete may be called again.
func (u *MultipartUpload) Complete(ctx context.Context, parts []UploadPart) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == uploadCompleted {
		return ErrUploadCompleted
	}
	if err := u.client.CompleteMultipart(ctx, u.path, u.id, parts); err != nil {
		return err
	}
	u.state = uploadCompleted
	return nil
}

// CompleteMultipart completes upload uploadID of p. Parts are numbered by
// their position, starting at 1.
func (c *Client) CompleteMultipart(ctx context.Context, p objpath.Path, uploadID string, parts []UploadPart) error {
	manifest := CompleteMultipartUpload{
		XMLNS: s3XMLNamespace,
		Parts: make([]CompletedPart, len(parts)),
	}
	for i, part := range parts {
		manifest.Parts[i] = CompletedPart{PartNumber: i + 1, ETag: part.ETag}
	}

	body, err := xml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("encode multipart manifest: %w", err)
	}

	tmpl := newTemplate(OpCompleteMultipart, http.MethodPost, c.objectURL(p), p.String())
	tmpl.query.Set("uploadId", uploadID)
	tmpl.header.Set("Content-Type", "application/xml")
	tmpl.body = body

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return err
	}
	return embeddedError(ex.resp, OpCompleteMultipart, p.String())
}
