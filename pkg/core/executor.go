package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/eteran/objstore/pkg/auth"
	"github.com/eteran/objstore/pkg/retry"
)

// exchange is the successful outcome of an executed request template.
type exchange struct {
	resp         *http.Response
	attempts     int
	invocationID string
}

// executor sends request templates with a fresh signature per attempt and
// retries them according to the policy.
type executor struct {
	cfg     *Config
	client  *http.Client
	policy  retry.Policy
	logger  *slog.Logger
	metrics *Metrics
}

func newExecutor(cfg *Config) *executor {
	return &executor{
		cfg:     cfg,
		client:  newHTTPClient(cfg.Client, cfg.Logger),
		policy:  retry.New(cfg.Retry),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// do runs tmpl. The first attempt is signed with cred, later attempts with
// whatever the credential provider returns at that time. A non-2xx
// response is drained and returned as a *ResponseError inside the retry
// error.
func (e *executor) do(ctx context.Context, tmpl *requestTemplate, cred *auth.Credential) (*exchange, error) {
	start := time.Now()
	ex := &exchange{invocationID: uuid.NewString()}
	maxAttempts := e.policy.MaxAttempts()

	r := retry.Retrier{
		Policy:  e.policy,
		Timeout: e.cfg.Retry.RetryTimeout,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			e.metrics.observeRetry(tmpl.op)
			e.logger.WarnContext(ctx, "Retrying request",
				"op", tmpl.op,
				"path", tmpl.path,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		},
	}

	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		ex.attempts = attempt

		current := cred
		if attempt > 1 {
			var err error
			current, err = e.cfg.Credentials.Credential(ctx)
			if err != nil {
				return fmt.Errorf("refresh credential: %w", err)
			}
		}

		req, err := tmpl.build(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", e.cfg.Client.UserAgent)
		req.Header.Set(headerInvocationID, ex.invocationID)
		req.Header.Set(headerSDKRequest, fmt.Sprintf("attempt=%d; max=%d", attempt, maxAttempts))

		err = e.cfg.Signer.Sign(ctx, req, current, auth.SigningParams{
			Region:        e.cfg.Region,
			Service:       auth.ServiceS3,
			SignPayload:   e.cfg.SignPayload,
			PayloadSHA256: tmpl.payloadSHA256,
			Time:          e.cfg.Clock(),
		})
		if err != nil {
			return err
		}

		resp, err := e.client.Do(req)
		if err != nil {
			e.metrics.observeAttempt(tmpl.op, 0)
			return err
		}
		e.metrics.observeAttempt(tmpl.op, resp.StatusCode)

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return newResponseError(resp)
		}
		ex.resp = resp
		return nil
	})

	e.metrics.observeOperation(tmpl.op, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return ex, nil
}
