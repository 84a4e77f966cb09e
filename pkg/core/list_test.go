package core_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/objstore/internal/s3test"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
)

func locations(objects []core.ObjectMeta) []string {
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = obj.Location.String()
	}
	return out
}

func TestListPaginatesWithFixedParameters(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket, s3test.WithPageSize(2))
	for i := 1; i <= 5; i++ {
		srv.PutObject(fmt.Sprintf("data/%d", i), []byte("x"))
	}
	srv.PutObject("other", []byte("x"))
	client := NewTestClient(t, srv)

	prefix := objpath.MustParse("data")
	paginator := client.ListPaginated(&prefix, false, nil)

	var pages [][]string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(t.Context())
		require.NoError(t, err)
		pages = append(pages, locations(page.Objects))
	}

	require.Equal(t, [][]string{
		{"data/1", "data/2"},
		{"data/3", "data/4"},
		{"data/5"},
	}, pages)

	_, err := paginator.NextPage(t.Context())
	require.ErrorIs(t, err, core.ErrNoMorePages)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	require.Empty(t, reqs[0].Query.Get("continuation-token"))
	for i, req := range reqs {
		require.Equal(t, http.MethodGet, req.Method)
		require.Equal(t, "2", req.Query.Get("list-type"))
		require.Equal(t, "data/", req.Query.Get("prefix"))
		require.False(t, req.Query.Has("delimiter"))
		require.False(t, req.Query.Has("start-after"))
		if i > 0 {
			require.NotEmpty(t, req.Query.Get("continuation-token"))
			require.NotEqual(t, reqs[i-1].Query.Get("continuation-token"), req.Query.Get("continuation-token"))
		}
	}
}

func TestListDelimiter(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	for _, key := range []string{"a/1", "a/2", "b/c/1", "c"} {
		srv.PutObject(key, []byte("data"))
	}
	client := NewTestClient(t, srv)

	result, token, err := client.List(t.Context(), nil, true, "", "")
	require.NoError(t, err)
	require.Empty(t, token)
	require.Equal(t, []objpath.Path{objpath.MustParse("a"), objpath.MustParse("b")}, result.CommonPrefixes)
	require.Equal(t, []string{"c"}, locations(result.Objects))
	require.Equal(t, int64(4), result.Objects[0].Size)
	require.False(t, result.Objects[0].LastModified.IsZero())

	require.Equal(t, "/", srv.Requests()[0].Query.Get("delimiter"))
	require.False(t, srv.Requests()[0].Query.Has("prefix"))
}

func TestListDelimiterAcrossPages(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket, s3test.WithPageSize(1))
	for _, key := range []string{"a/1", "a/2", "b/1", "c"} {
		srv.PutObject(key, []byte("data"))
	}
	client := NewTestClient(t, srv)

	var prefixes []objpath.Path
	var objects []core.ObjectMeta
	for page, err := range client.ListPaginated(nil, true, nil).Pages(t.Context()) {
		require.NoError(t, err)
		prefixes = append(prefixes, page.CommonPrefixes...)
		objects = append(objects, page.Objects...)
	}

	require.Equal(t, []objpath.Path{objpath.MustParse("a"), objpath.MustParse("b")}, prefixes)
	require.Equal(t, []string{"c"}, locations(objects))
	require.Len(t, srv.Requests(), 3)
}

func TestListAllWithOffset(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket, s3test.WithPageSize(2))
	for i := 1; i <= 5; i++ {
		srv.PutObject(fmt.Sprintf("data/%d", i), []byte("x"))
	}
	client := NewTestClient(t, srv)

	prefix := objpath.MustParse("data")
	offset := objpath.MustParse("data/2")
	objects, err := client.ListAll(t.Context(), &prefix, &offset)
	require.NoError(t, err)
	require.Equal(t, []string{"data/3", "data/4", "data/5"}, locations(objects))

	for _, req := range srv.Requests() {
		require.Equal(t, "data/2", req.Query.Get("start-after"))
	}
}

func TestListContinuationToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "truncated",
			body: `<ListBucketResult><IsTruncated>true</IsTruncated><NextContinuationToken>abc</NextContinuationToken></ListBucketResult>`,
			want: "abc",
		},
		{
			name: "token kept when not truncated",
			body: `<ListBucketResult><IsTruncated>false</IsTruncated><NextContinuationToken>abc</NextContinuationToken></ListBucketResult>`,
			want: "abc",
		},
		{
			name: "last page",
			body: `<ListBucketResult><IsTruncated>false</IsTruncated></ListBucketResult>`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := s3test.New(t, testBucket)
			srv.FailNext(s3test.Fault{Body: tt.body})
			client := NewTestClient(t, srv)

			_, token, err := client.List(t.Context(), nil, false, "", "")
			require.NoError(t, err)
			require.Equal(t, tt.want, token)
		})
	}
}

func TestListFollowsTokenOnUntruncatedPage(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.PutObject("a", []byte("x"))
	srv.PutObject("b", []byte("x"))
	// The first page claims it is complete but still names a token, which
	// encodes "a" for the emulator.
	srv.FailNext(s3test.Fault{Body: `<ListBucketResult><IsTruncated>false</IsTruncated>` +
		`<Contents><Key>a</Key><LastModified>2024-01-01T00:00:00Z</LastModified><Size>1</Size></Contents>` +
		`<NextContinuationToken>YQ</NextContinuationToken></ListBucketResult>`})
	client := NewTestClient(t, srv)

	var pages [][]string
	for page, err := range client.ListPaginated(nil, false, nil).Pages(t.Context()) {
		require.NoError(t, err)
		pages = append(pages, locations(page.Objects))
	}
	require.Equal(t, [][]string{{"a"}, {"b"}}, pages)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	require.Equal(t, "YQ", reqs[1].Query.Get("continuation-token"))
}

func TestListDecodeFailure(t *testing.T) {
	t.Parallel()

	srv := s3test.New(t, testBucket)
	srv.FailNext(s3test.Fault{Body: "not xml"})
	client := NewTestClient(t, srv)

	prefix := objpath.MustParse("data")
	paginator := client.ListPaginated(&prefix, false, nil)
	_, err := paginator.NextPage(t.Context())

	var bodyErr *core.ResponseBodyError
	require.ErrorAs(t, err, &bodyErr)
	require.Equal(t, core.OpList, bodyErr.Op)
	require.Equal(t, "data/", bodyErr.Path)
	require.Len(t, srv.Requests(), 1)
	require.False(t, paginator.HasMorePages())
}
