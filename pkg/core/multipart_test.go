package core_test

import (
	"bytes"
	"encoding/xml"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eteran/objstore/internal/s3test"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
)

func TestMultipartUpload(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv)
	p := objpath.MustParse("big.bin")

	upload, err := client.CreateMultipart(t.Context(), p)
	require.NoError(t, err)
	require.NotEmpty(t, upload.ID())
	require.Equal(t, p, upload.Path())

	chunks := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	parts := make([]core.UploadPart, len(chunks))

	g, ctx := errgroup.WithContext(t.Context())
	for i, chunk := range chunks {
		g.Go(func() error {
			part, err := upload.PutPart(ctx, i, chunk)
			parts[i] = part
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.NoError(t, upload.Complete(t.Context(), parts))
	require.True(t, upload.Completed())

	obj, ok := srv.Object("big.bin")
	require.True(t, ok)
	require.Equal(t, "first-second-third", string(obj.Data))
	require.Equal(t, 0, srv.OpenUploads())

	partNumbers := map[string]string{}
	for _, req := range requestsFor(srv, http.MethodPut) {
		require.Equal(t, upload.ID(), req.Query.Get("uploadId"))
		partNumbers[string(req.Body)] = req.Query.Get("partNumber")
	}
	require.Equal(t, map[string]string{"first-": "1", "second-": "2", "third": "3"}, partNumbers)

	posts := requestsFor(srv, http.MethodPost)
	require.Len(t, posts, 2)
	var manifest core.CompleteMultipartUpload
	require.NoError(t, xml.Unmarshal(posts[1].Body, &manifest))
	require.Equal(t, []core.CompletedPart{
		{PartNumber: 1, ETag: parts[0].ETag},
		{PartNumber: 2, ETag: parts[1].ETag},
		{PartNumber: 3, ETag: parts[2].ETag},
	}, manifest.Parts)

	require.ErrorIs(t, upload.Complete(t.Context(), parts), core.ErrUploadCompleted)
	_, err = upload.PutPart(t.Context(), 0, []byte("late"))
	require.ErrorIs(t, err, core.ErrUploadCompleted)
}

func TestMultipartCompleteFailureKeepsUploadOpen(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv)

	upload, err := client.CreateMultipart(t.Context(), objpath.MustParse("big.bin"))
	require.NoError(t, err)
	part, err := upload.PutPart(t.Context(), 0, []byte("data"))
	require.NoError(t, err)

	err = upload.Complete(t.Context(), []core.UploadPart{{ETag: `"bogus"`}})
	var respErr *core.ResponseError
	require.ErrorAs(t, err, &respErr)
	require.Equal(t, "InvalidPart", respErr.Code)
	require.False(t, upload.Completed())

	require.NoError(t, upload.Complete(t.Context(), []core.UploadPart{part}))
	require.True(t, upload.Completed())
}

func TestResumeMultipart(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	client := NewTestClient(t, srv)
	p := objpath.MustParse("big.bin")

	created, err := client.CreateMultipart(t.Context(), p)
	require.NoError(t, err)

	resumed := client.ResumeMultipart(p, created.ID())
	part, err := resumed.PutPart(t.Context(), 0, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, resumed.Complete(t.Context(), []core.UploadPart{part}))

	obj, ok := srv.Object("big.bin")
	require.True(t, ok)
	require.Equal(t, "data", string(obj.Data))
}

func TestCreateMultipartRetried(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.FailNext(s3test.Fault{Status: http.StatusInternalServerError, Code: "InternalError"})

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := NewTestClient(t, srv, core.WithLogger(logger))

	upload, err := client.CreateMultipart(t.Context(), objpath.MustParse("big.bin"))
	require.NoError(t, err)
	require.Len(t, requestsFor(srv, http.MethodPost), 2)
	require.Contains(t, logs.String(), "Multipart upload created after retries")
	require.Contains(t, logs.String(), "upload_id="+upload.ID())
}

func TestCreateMultipartWithoutUploadID(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.FailNext(s3test.Fault{Body: `<InitiateMultipartUploadResult><Bucket>bucket</Bucket></InitiateMultipartUploadResult>`})
	client := NewTestClient(t, srv)

	_, err := client.CreateMultipart(t.Context(), objpath.MustParse("big.bin"))
	var bodyErr *core.ResponseBodyError
	require.ErrorAs(t, err, &bodyErr)
	require.Equal(t, core.OpCreateMultipart, bodyErr.Op)
}
