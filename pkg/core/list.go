package core

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/eteran/objstore/pkg/objpath"
)

// ErrNoMorePages is returned by NextPage once the listing is exhausted.
var ErrNoMorePages = errors.New("no more pages")

// ObjectMeta describes one listed object.
type ObjectMeta struct {
	Location     objpath.Path
	LastModified time.Time
	Size         int64
	ETag         string
}

// ListResult is one page of a listing.
type ListResult struct {
	CommonPrefixes []objpath.Path
	Objects        []ObjectMeta
}

func (r *ListBucketResultV2) toListResult() (*ListResult, error) {
	out := &ListResult{
		CommonPrefixes: make([]objpath.Path, 0, len(r.CommonPrefixes)),
		Objects:        make([]ObjectMeta, 0, len(r.Contents)),
	}

	for _, cp := range r.CommonPrefixes {
		p, err := objpath.Parse(strings.TrimSuffix(cp.Prefix, objpath.Delimiter))
		if err != nil {
			return nil, fmt.Errorf("invalid common prefix %q: %w", cp.Prefix, err)
		}
		out.CommonPrefixes = append(out.CommonPrefixes, p)
	}

	for _, obj := range r.Contents {
		loc, err := objpath.Parse(obj.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid key %q: %w", obj.Key, err)
		}
		modified, err := time.Parse(time.RFC3339, obj.LastModified)
		if err != nil {
			return nil, fmt.Errorf("invalid last modified time for %q: %w", obj.Key, err)
		}
		out.Objects = append(out.Objects, ObjectMeta{
			Location:     loc,
			LastModified: modified,
			Size:         obj.Size,
			ETag:         obj.ETag,
		})
	}

	return out, nil
}

// List fetches one page of objects. prefix, when not nil, restricts the
// listing to keys below it. delimiter groups keys below the next "/" into
// common prefixes. token continues a previous listing and offset lists
// keys after it. The returned token is empty on the last page.
func (c *Client) List(ctx context.Context, prefix *objpath.Path, delimiter bool, token, offset string) (*ListResult, string, error) {
	var prefixStr string
	if prefix != nil {
		prefixStr = prefix.Prefix()
	}

	tmpl := newTemplate(OpList, http.MethodGet, c.cfg.BucketEndpoint, prefixStr)
	if token != "" {
		tmpl.query.Set("continuation-token", token)
	}
	if delimiter {
		tmpl.query.Set("delimiter", objpath.Delimiter)
	}
	tmpl.query.Set("list-type", "2")
	if prefixStr != "" {
		tmpl.query.Set("prefix", prefixStr)
	}
	if offset != "" {
		tmpl.query.Set("start-after", offset)
	}

	ex, err := c.execute(ctx, tmpl)
	if err != nil {
		return nil, "", err
	}

	body, err := readBody(ex.resp, OpList, prefixStr)
	if err != nil {
		return nil, "", err
	}

	var doc ListBucketResultV2
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, "", &ResponseBodyError{Op: OpList, Path: prefixStr, Err: err}
	}

	next := doc.NextContinuationToken
	doc.NextContinuationToken = ""

	result, err := doc.toListResult()
	if err != nil {
		return nil, "", &ResponseBodyError{Op: OpList, Path: prefixStr, Err: err}
	}
	return result, next, nil
}

// ListPaginator walks a listing page by page. Prefix, delimiter and offset
// stay fixed; only the continuation token advances. It is not safe for
// concurrent use.
type ListPaginator struct {
	client    *Client
	prefix    *objpath.Path
	delimiter bool
	offset    string
	token     string
	done      bool
}

// ListPaginated returns a paginator over the objects below prefix, starting
// after offset when it is not nil. No request is made until NextPage.
func (c *Client) ListPaginated(prefix *objpath.Path, delimiter bool, offset *objpath.Path) *ListPaginator {
	p := &ListPaginator{
		client:    c,
		prefix:    prefix,
		delimiter: delimiter,
	}
	if offset != nil {
		p.offset = offset.String()
	}
	return p
}

func (p *ListPaginator) HasMorePages() bool {
	return !p.done
}

// NextPage fetches the next page. An error ends the listing; pages already
// returned stay valid.
func (p *ListPaginator) NextPage(ctx context.Context) (*ListResult, error) {
	if p.done {
		return nil, ErrNoMorePages
	}

	result, next, err := p.client.List(ctx, p.prefix, p.delimiter, p.token, p.offset)
	if err != nil {
		p.done = true
		return nil, err
	}

	p.token = next
	p.done = next == ""
	return result, nil
}

// Pages yields every remaining page. A failure is yielded once and ends
// the sequence.
func (p *ListPaginator) Pages(ctx context.Context) iter.Seq2[*ListResult, error] {
	return func(yield func(*ListResult, error) bool) {
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// ListAll collects every object below prefix without grouping.
func (c *Client) ListAll(ctx context.Context, prefix *objpath.Path, offset *objpath.Path) ([]ObjectMeta, error) {
	var objects []ObjectMeta
	for page, err := range c.ListPaginated(prefix, false, offset).Pages(ctx) {
		if err != nil {
			return nil, err
		}
		objects = append(objects, page.Objects...)
	}
	return objects, nil
}
