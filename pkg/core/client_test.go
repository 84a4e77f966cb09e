package core_test

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/objstore/internal/s3test"
	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/checksum"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
)

func TestPutAndGet(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv, core.WithClientOptions(core.ClientOptions{InferContentType: true}))
	p := objpath.MustParse("dir/file.txt")

	resp, err := client.Put(t.Context(), p, []byte("hello world"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEmpty(t, resp.Header.Get("ETag"))

	obj, ok := srv.Object("dir/file.txt")
	require.True(t, ok)
	require.Equal(t, "text/plain; charset=utf-8", obj.ContentType)

	resp, err = client.Get(t.Context(), p, core.GetOptions{})
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
	require.Equal(t, obj.ETag, resp.Header.Get("ETag"))

	puts := requestsFor(srv, http.MethodPut)
	require.Len(t, puts, 1)
	require.Equal(t, auth.UnsignedPayload, puts[0].Header.Get(auth.HeaderContentSHA256))
}

func TestGetRange(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("key", []byte("hello world"))
	client := NewTestClient(t, srv)

	resp, err := client.Get(t.Context(), objpath.MustParse("key"), core.GetOptions{
		Range: &core.ByteRange{Start: 6, End: 11},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "world", string(data))
	require.Equal(t, "bytes=6-10", srv.Requests()[0].Header.Get("Range"))
}

func TestGetErrors(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("key", []byte("data"))
	obj, _ := srv.Object("key")
	client := NewTestClient(t, srv)

	tests := []struct {
		name string
		path string
		opts core.GetOptions
		want error
	}{
		{name: "missing", path: "missing", want: core.ErrNotFound},
		{name: "if none match", path: "key", opts: core.GetOptions{IfNoneMatch: obj.ETag}, want: core.ErrNotModified},
		{name: "if match", path: "key", opts: core.GetOptions{IfMatch: `"other"`}, want: core.ErrPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Get(t.Context(), objpath.MustParse(tt.path), tt.opts)
			require.ErrorIs(t, err, tt.want)

			var reqErr *core.RequestError
			require.ErrorAs(t, err, &reqErr)
			require.Equal(t, core.OpGet, reqErr.Op)
			require.Equal(t, tt.path, reqErr.Path)
		})
	}
}

func TestHead(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("key", []byte("data"))
	client := NewTestClient(t, srv)

	resp, err := client.Head(t.Context(), objpath.MustParse("key"), core.GetOptions{})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "4", resp.Header.Get("Content-Length"))

	_, err = client.Head(t.Context(), objpath.MustParse("missing"), core.GetOptions{})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestPutChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("checksummed payload")

	t.Run("sha256 doubles as payload hash", func(t *testing.T) {
		srv := s3test.New(t, testBucket)
		client := NewTestClient(t, srv, core.WithChecksum(checksum.SHA256))

		resp, err := client.Put(t.Context(), objpath.MustParse("key"), payload, nil)
		require.NoError(t, err)
		resp.Body.Close()

		sum := auth.HashPayload(payload)
		rec := requestsFor(srv, http.MethodPut)[0]
		require.Equal(t, hex.EncodeToString(sum), rec.Header.Get(auth.HeaderContentSHA256))
		require.Equal(t, base64.StdEncoding.EncodeToString(sum), rec.Header.Get("X-Amz-Checksum-Sha256"))
	})

	t.Run("crc32c with signed payload", func(t *testing.T) {
		srv := s3test.New(t, testBucket)
		client := NewTestClient(t, srv, core.WithChecksum(checksum.CRC32C), core.WithSignPayload(true))

		resp, err := client.Put(t.Context(), objpath.MustParse("key"), payload, nil)
		require.NoError(t, err)
		resp.Body.Close()

		rec := requestsFor(srv, http.MethodPut)[0]
		_, want := checksum.CRC32C.Header(payload)
		require.Equal(t, want, rec.Header.Get("X-Amz-Checksum-Crc32c"))
		require.Equal(t, hex.EncodeToString(auth.HashPayload(payload)), rec.Header.Get(auth.HeaderContentSHA256))
	})
}

func TestDelete(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("key", []byte("data"))
	client := NewTestClient(t, srv)

	require.NoError(t, client.Delete(t.Context(), objpath.MustParse("key"), nil))
	_, ok := srv.Object("key")
	require.False(t, ok)
}

func TestCopy(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("src dir/a+b.txt", []byte("data"))
	client := NewTestClient(t, srv)

	from := objpath.MustParse("src dir/a+b.txt")
	require.NoError(t, client.Copy(t.Context(), from, objpath.MustParse("dst")))

	obj, ok := srv.Object("dst")
	require.True(t, ok)
	require.Equal(t, "data", string(obj.Data))

	rec := requestsFor(srv, http.MethodPut)[0]
	require.Equal(t, "dst", rec.Key)
	require.Equal(t, testBucket+"/src%20dir/a%2Bb.txt", rec.Header.Get("X-Amz-Copy-Source"))
}

func TestCopyErrorsReportSource(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv)

	err := client.Copy(t.Context(), objpath.MustParse("missing"), objpath.MustParse("dst"))
	require.ErrorIs(t, err, core.ErrNotFound)

	var reqErr *core.RequestError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, core.OpCopy, reqErr.Op)
	require.Equal(t, "missing", reqErr.Path)
}

func TestCopyEmbeddedError(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("src", []byte("data"))
	srv.FailNext(s3test.Fault{Body: `<Error><Code>InternalError</Code><Message>copy failed</Message></Error>`})
	client := NewTestClient(t, srv)

	err := client.Copy(t.Context(), objpath.MustParse("src"), objpath.MustParse("dst"))

	var respErr *core.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, http.StatusOK, respErr.StatusCode)
	require.Equal(t, "InternalError", respErr.Code)
	require.Equal(t, "copy failed", respErr.Message)
}

func TestCredentialErrorIsReturnedUnchanged(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv, core.WithStaticCredentials("", "", ""))

	_, err := client.Get(t.Context(), objpath.MustParse("key"), core.GetOptions{})
	require.ErrorIs(t, err, auth.ErrCredentialUnavailable)

	var reqErr *core.RequestError
	require.False(t, errors.As(err, &reqErr))
	require.Empty(t, srv.Requests())
}
