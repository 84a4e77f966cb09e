package storage_test

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/objstore/internal/s3test"
	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
	"github.com/eteran/objstore/pkg/storage"
)

func newStore(t *testing.T, srv *s3test.Server) storage.ObjectStore {
	t.Helper()

	client, err := core.NewClient(core.NewConfig(srv.Bucket,
		core.WithEndpoint(srv.URL()),
		core.WithStaticCredentials(auth.DefaultAccessKeyID, auth.DefaultSecretAccessKey, ""),
		core.WithLogger(slog.New(slog.DiscardHandler)),
	))
	require.NoError(t, err)
	return client
}

func TestReadWriteObject(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	store := newStore(t, srv)
	p := objpath.MustParse("notes/today.md")

	require.NoError(t, storage.WriteObject(t.Context(), store, p, []byte("# notes")))

	data, err := storage.ReadObject(t.Context(), store, p)
	require.NoError(t, err)
	require.Equal(t, "# notes", string(data))

	_, err = storage.ReadObject(t.Context(), store, objpath.MustParse("missing"))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestUploadSplitsIntoParts(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	store := newStore(t, srv)

	payload := bytes.Repeat([]byte("0123456789"), (2*storage.MinPartSize)/10+7)
	n, err := storage.Upload(t.Context(), store, objpath.MustParse("big.bin"), bytes.NewReader(payload), storage.UploadOptions{
		PartSize:    storage.MinPartSize,
		Concurrency: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)

	obj, ok := srv.Object("big.bin")
	require.True(t, ok)
	require.True(t, bytes.Equal(payload, obj.Data))

	var partNumbers []string
	for _, req := range srv.Requests() {
		if req.Method == http.MethodPut {
			partNumbers = append(partNumbers, req.Query.Get("partNumber"))
		}
	}
	require.ElementsMatch(t, []string{"1", "2", "3"}, partNumbers)
}

func TestUploadSmallInput(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	store := newStore(t, srv)

	n, err := storage.Upload(t.Context(), store, objpath.MustParse("small.txt"), strings.NewReader("tiny"), storage.UploadOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	obj, ok := srv.Object("small.txt")
	require.True(t, ok)
	require.Equal(t, "tiny", string(obj.Data))
}

func TestUploadPartFailure(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	srv.Intercept(func(r s3test.Request) *s3test.Fault {
		if r.Method == http.MethodPut {
			return &s3test.Fault{Status: http.StatusForbidden, Code: "AccessDenied"}
		}
		return nil
	})
	store := newStore(t, srv)

	_, err := storage.Upload(t.Context(), store, objpath.MustParse("big.bin"), strings.NewReader("data"), storage.UploadOptions{})
	var respErr *core.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "AccessDenied", respErr.Code)

	_, ok := srv.Object("big.bin")
	require.False(t, ok)
	require.Equal(t, 1, srv.OpenUploads())
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// countingReader records how many bytes were consumed from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func TestUploadStopsReadingAfterPartFailure(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	srv.Intercept(func(r s3test.Request) *s3test.Fault {
		if r.Method == http.MethodPut {
			return &s3test.Fault{Status: http.StatusForbidden, Code: "AccessDenied"}
		}
		return nil
	})
	store := newStore(t, srv)

	opts := storage.UploadOptions{PartSize: storage.MinPartSize, Concurrency: 2}
	input := &countingReader{r: io.LimitReader(zeros{}, 40*storage.MinPartSize)}

	_, err := storage.Upload(t.Context(), store, objpath.MustParse("stream.bin"), input, opts)
	var respErr *core.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "AccessDenied", respErr.Code)
	require.LessOrEqual(t, input.n, int64(opts.Concurrency+1)*opts.PartSize)
}

func TestUploadPartLimit(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	store := newStore(t, srv)

	payload := bytes.Repeat([]byte("x"), 2*storage.MinPartSize+1)
	_, err := storage.Upload(t.Context(), store, objpath.MustParse("big.bin"), bytes.NewReader(payload), storage.UploadOptions{
		PartSize: storage.MinPartSize,
		MaxParts: 2,
	})
	require.ErrorIs(t, err, storage.ErrTooManyParts)

	_, ok := srv.Object("big.bin")
	require.False(t, ok)

	var puts int
	for _, req := range srv.Requests() {
		if req.Method == http.MethodPut {
			puts++
		}
	}
	require.Equal(t, 2, puts)
}

func TestUploadExactMultipleOfPartSize(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, "bucket")
	store := newStore(t, srv)

	payload := bytes.Repeat([]byte("y"), 2*storage.MinPartSize)
	n, err := storage.Upload(t.Context(), store, objpath.MustParse("even.bin"), bytes.NewReader(payload), storage.UploadOptions{
		PartSize: storage.MinPartSize,
		MaxParts: 2,
	})
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)
}
