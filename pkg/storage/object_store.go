// Package storage describes a bucket client by the operations it offers and
// builds whole-object helpers on top of them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
)

// ObjectStore defines the operations of a bucket client. *core.Client
// implements it.
type ObjectStore interface {
	// Get fetches an object. The caller closes the response body.
	Get(ctx context.Context, p objpath.Path, opts core.GetOptions) (*http.Response, error)

	// Head fetches an object's metadata.
	Head(ctx context.Context, p objpath.Path, opts core.GetOptions) (*http.Response, error)

	// Put uploads payload to p.
	Put(ctx context.Context, p objpath.Path, payload []byte, query url.Values) (*http.Response, error)

	Delete(ctx context.Context, p objpath.Path, query url.Values) error
	Copy(ctx context.Context, from, to objpath.Path) error

	// List fetches one page of a listing.
	List(ctx context.Context, prefix *objpath.Path, delimiter bool, token, offset string) (*core.ListResult, string, error)

	CreateMultipart(ctx context.Context, p objpath.Path) (*core.MultipartUpload, error)
}

var _ ObjectStore = (*core.Client)(nil)

const (
	// MinPartSize is the smallest part S3 accepts except for the last one.
	MinPartSize = 5 << 20

	// MaxParts is the largest number of parts S3 accepts in one upload.
	MaxParts = 10000

	DefaultPartSize    = 16 << 20
	DefaultConcurrency = 4
)

var ErrTooManyParts = errors.New("upload exceeds the part limit")

// ReadObject returns the whole content of p.
func ReadObject(ctx context.Context, store ObjectStore, p objpath.Path) ([]byte, error) {
	resp, err := store.Get(ctx, p, core.GetOptions{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.ResponseBodyError{Op: core.OpGet, Path: p.String(), Err: err}
	}
	return data, nil
}

// WriteObject stores data under p in a single request.
func WriteObject(ctx context.Context, store ObjectStore, p objpath.Path, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	resp, err := store.Put(ctx, p, data, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// UploadOptions control a multipart Upload.
type UploadOptions struct {
	// PartSize is the size of every part but the last. Values below
	// MinPartSize are raised to it.
	PartSize int64

	// Concurrency bounds the number of parts in flight.
	Concurrency int

	// MaxParts caps the number of parts. Zero or values above MaxParts
	// mean MaxParts.
	MaxParts int
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.PartSize == 0 {
		o.PartSize = DefaultPartSize
	}
	o.PartSize = max(o.PartSize, MinPartSize)
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxParts <= 0 || o.MaxParts > MaxParts {
		o.MaxParts = MaxParts
	}
	return o
}

// Upload streams r to p as a multipart upload, sending up to
// opts.Concurrency parts at once. At most Concurrency+1 parts are held in
// memory. It returns the number of bytes uploaded.
func Upload(ctx context.Context, store ObjectStore, p objpath.Path, r io.Reader, opts UploadOptions) (int64, error) {
	opts = opts.withDefaults()

	upload, err := store.CreateMultipart(ctx, p)
	if err != nil {
		return 0, err
	}

	var (
		slots []*core.UploadPart
		total int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for idx := 0; ; idx++ {
		// A failed part cancels gctx; stop consuming the input.
		if gctx.Err() != nil {
			break
		}

		buf := make([]byte, opts.PartSize)
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && idx > 0 {
			break
		}
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			_ = g.Wait()
			return total, fmt.Errorf("read part %d: %w", idx+1, readErr)
		}
		if idx >= opts.MaxParts {
			if err := g.Wait(); err != nil {
				return total, err
			}
			return total, fmt.Errorf("%w of %d parts", ErrTooManyParts, opts.MaxParts)
		}

		slot := &core.UploadPart{}
		slots = append(slots, slot)
		total += int64(n)
		chunk := buf[:n]
		g.Go(func() error {
			part, err := upload.PutPart(gctx, idx, chunk)
			if err != nil {
				return err
			}
			*slot = part
			return nil
		})

		if readErr != nil {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return total, err
	}
	if err := ctx.Err(); err != nil {
		return total, err
	}

	parts := make([]core.UploadPart, len(slots))
	for i, slot := range slots {
		parts[i] = *slot
	}
	if err := upload.Complete(ctx, parts); err != nil {
		return total, err
	}
	return total, nil
}
