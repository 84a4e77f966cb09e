package core_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/objpath"
)

func TestConfigDerivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		bucket             string
		opts               []core.ConfigOption
		wantRegion         string
		wantEndpoint       string
		wantBucketEndpoint string
	}{
		{
			name:               "defaults",
			bucket:             "bucket",
			wantRegion:         "us-east-1",
			wantEndpoint:       "https://s3.us-east-1.amazonaws.com",
			wantBucketEndpoint: "https://s3.us-east-1.amazonaws.com/bucket",
		},
		{
			name:               "region",
			bucket:             "bucket",
			opts:               []core.ConfigOption{core.WithRegion("eu-central-1")},
			wantRegion:         "eu-central-1",
			wantEndpoint:       "https://s3.eu-central-1.amazonaws.com",
			wantBucketEndpoint: "https://s3.eu-central-1.amazonaws.com/bucket",
		},
		{
			name:               "region from endpoint",
			bucket:             "bucket",
			opts:               []core.ConfigOption{core.WithEndpoint("https://s3.eu-west-1.amazonaws.com")},
			wantRegion:         "eu-west-1",
			wantEndpoint:       "https://s3.eu-west-1.amazonaws.com",
			wantBucketEndpoint: "https://s3.eu-west-1.amazonaws.com/bucket",
		},
		{
			name:               "custom endpoint with trailing slash",
			bucket:             "bucket",
			opts:               []core.ConfigOption{core.WithEndpoint("http://localhost:9000/")},
			wantRegion:         "us-east-1",
			wantEndpoint:       "http://localhost:9000",
			wantBucketEndpoint: "http://localhost:9000/bucket",
		},
		{
			name:   "virtual hosted",
			bucket: "bucket",
			opts: []core.ConfigOption{
				core.WithEndpoint("http://localhost:9000"),
				core.WithVirtualHostedStyle(true),
			},
			wantRegion:         "us-east-1",
			wantEndpoint:       "http://localhost:9000",
			wantBucketEndpoint: "http://bucket.localhost:9000",
		},
		{
			name:   "explicit bucket endpoint",
			bucket: "bucket",
			opts: []core.ConfigOption{
				core.WithEndpoint("http://localhost:9000"),
				core.WithBucketEndpoint("http://cdn.example.com/objects/"),
			},
			wantRegion:         "us-east-1",
			wantEndpoint:       "http://localhost:9000",
			wantBucketEndpoint: "http://cdn.example.com/objects",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := append([]core.ConfigOption{core.WithStaticCredentials("id", "secret", "")}, tt.opts...)
			client, err := core.NewClient(core.NewConfig(tt.bucket, opts...))
			require.NoError(t, err)

			cfg := client.Config()
			require.Equal(t, tt.wantRegion, cfg.Region)
			require.Equal(t, tt.wantEndpoint, cfg.Endpoint)
			require.Equal(t, tt.wantBucketEndpoint, cfg.BucketEndpoint)
			require.Equal(t, core.DefaultUserAgent, cfg.Client.UserAgent)
			require.NotNil(t, cfg.Signer)
			require.NotNil(t, cfg.Logger)
		})
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bucket string
		opts   []core.ConfigOption
		want   error
	}{
		{name: "invalid bucket", bucket: "bad..bucket", want: core.ErrInvalidBucket},
		{name: "short bucket", bucket: "ab", want: core.ErrInvalidBucket},
		{name: "unsupported scheme", bucket: "bucket", opts: []core.ConfigOption{core.WithEndpoint("ftp://localhost")}, want: core.ErrInvalidEndpoint},
		{name: "relative endpoint", bucket: "bucket", opts: []core.ConfigOption{core.WithEndpoint("localhost:9000")}, want: core.ErrInvalidEndpoint},
		{name: "endpoint with query", bucket: "bucket", opts: []core.ConfigOption{core.WithEndpoint("http://localhost:9000?x=1")}, want: core.ErrInvalidEndpoint},
		{
			name:   "dotted bucket virtual hosted over https",
			bucket: "my.bucket",
			opts:   []core.ConfigOption{core.WithVirtualHostedStyle(true)},
			want:   core.ErrInvalidBucket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := core.NewClient(core.NewConfig(tt.bucket, tt.opts...))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestContentType(t *testing.T) {
	t.Parallel()

	opts := core.ClientOptions{
		ContentTypes:     map[string]string{"log": "text/x-log"},
		InferContentType: true,
	}

	require.Equal(t, "text/x-log", opts.ContentType(objpath.MustParse("logs/app.LOG")))
	require.Equal(t, "application/json", opts.ContentType(objpath.MustParse("data/doc.json")))
	require.Empty(t, opts.ContentType(objpath.MustParse("data/noext")))
	require.Empty(t, core.ClientOptions{}.ContentType(objpath.MustParse("data/doc.json")))
}
