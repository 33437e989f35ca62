package modelrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/errors"
)

const AstoreExt = ".astore"

type WaitOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultAstoreWait() WaitOptions {
	return WaitOptions{Interval: 5 * time.Second, Timeout: 60 * time.Second}
}

// WaitForFile polls until path exists. It fails with a timeout error
// once opts.Timeout has elapsed without the file showing up.
func WaitForFile(ctx context.Context, path string, opts WaitOptions) error {
	log := logr.FromContextOrDiscard(ctx)
	if opts.Interval <= 0 {
		opts.Interval = DefaultAstoreWait().Interval
	}
	attempts := uint(opts.Timeout/opts.Interval) + 1
	err := retry.Do(
		func() error {
			_, err := os.Stat(path)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(opts.Interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.V(1).Info("waiting for file", "path", path, "attempt", n+1)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewTimeoutError(fmt.Sprintf("%s did not appear within %s", path, opts.Timeout))
	}
	return nil
}

// FetchAstore copies the analytic store of model id from astoreDir into dest.
// A missing store is generated by the model repository first.
func (t *Client) FetchAstore(ctx context.Context, id, astoreName, astoreDir, dest string, opts WaitOptions) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	src := filepath.Join(astoreDir, astoreName+AstoreExt)
	if _, err := os.Stat(src); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		log.Info("generating astore file", "model", id, "astore", astoreName)
		if err := t.GenerateAstore(ctx, id, astoreName); err != nil {
			return "", err
		}
		if err := WaitForFile(ctx, src, opts); err != nil {
			return "", err
		}
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return "", err
	}
	into := filepath.Join(dest, astoreName+AstoreExt)
	if err := os.WriteFile(into, content, 0o777); err != nil {
		return "", err
	}
	// WriteFile keeps the mode of an existing file
	if err := os.Chmod(into, 0o777); err != nil {
		return "", err
	}
	return into, nil
}
