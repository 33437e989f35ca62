package kube

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/errors"
)

const HealthyBody = "pong"

type HealthOptions struct {
	Attempts       uint
	Delay          time.Duration
	RequestTimeout time.Duration
	Client         *http.Client
}

func DefaultHealthOptions() HealthOptions {
	return HealthOptions{Attempts: 10, Delay: 10 * time.Second, RequestTimeout: 30 * time.Second}
}

// WaitHealthy probes url until it answers 200 with the body "pong".
// The probe runs at most opts.Attempts times with a fixed delay in between.
func WaitHealthy(ctx context.Context, url string, opts HealthOptions) error {
	log := logr.FromContextOrDiscard(ctx)
	if opts.Attempts == 0 {
		opts.Attempts = DefaultHealthOptions().Attempts
	}
	cli := opts.Client
	if cli == nil {
		cli = &http.Client{Timeout: opts.RequestTimeout}
	}
	probe := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, err := cli.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK || string(body) != HealthyBody {
			return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
		}
		return nil
	}
	err := retry.Do(probe,
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Info("instance is not up yet", "attempt", n+1, "error", err.Error())
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewTimeoutError(fmt.Sprintf("%s is not healthy after %d attempts: %v", url, opts.Attempts, err))
	}
	log.Info("instance is up", "url", url)
	return nil
}
