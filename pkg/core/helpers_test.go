package core_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/eteran/objstore/internal/s3test"
	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/core"
	"github.com/eteran/objstore/pkg/retry"
)

const testBucket = "bucket"

// fastRetry keeps the default attempt count but does not wait between
// attempts.
func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries: retry.DefaultMaxRetries,
		Backoff:    retry.ConstantBackoff(time.Millisecond),
	}
}

// NewTestClient returns a Client talking to srv with the server's default
// credentials. opts are applied after the defaults.
func NewTestClient(t *testing.T, srv *s3test.Server, opts ...core.ConfigOption) *core.Client {
	t.Helper()

	defaults := []core.ConfigOption{
		core.WithEndpoint(srv.URL()),
		core.WithRegion(core.DefaultRegion),
		core.WithStaticCredentials(auth.DefaultAccessKeyID, auth.DefaultSecretAccessKey, ""),
		core.WithRetry(fastRetry()),
		core.WithLogger(slog.New(slog.DiscardHandler)),
	}

	client, err := core.NewClient(core.NewConfig(testBucket, append(defaults, opts...)...))
	require.NoError(t, err, "NewClient error")
	return client
}

// requestsFor returns the recorded requests with the given method.
func requestsFor(srv *s3test.Server, method string) []s3test.Request {
	var out []s3test.Request
	for _, r := range srv.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}
