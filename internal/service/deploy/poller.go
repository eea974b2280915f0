package deploy

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/xjrogers/Forma-sub002/internal/provision"
)

// Defaults for the remote build poll loop.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = 300 * time.Second
)

var errBuildInProgress = errors.New("build still in progress")

// Poller converts the platform's poll-only build process into a definite
// outcome: nil on terminal success, BuildFailureError on a terminal failure
// status, BuildTimeoutError when the hard timeout elapses first.
type Poller struct {
	provider provision.Provider
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPoller constructs a Poller. Non-positive interval or timeout fall back
// to the defaults.
func NewPoller(provider provision.Provider, interval, timeout time.Duration, logger *slog.Logger) Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return Poller{provider: provider, interval: interval, timeout: timeout, logger: logger}
}

// Wait blocks until the service's build reaches a terminal status or the
// hard timeout elapses. It never resolves successfully past the timeout.
func (p Poller) Wait(ctx context.Context, serviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := retry.Do(ctx, retry.NewConstant(p.interval), func(ctx context.Context) error {
		status, err := p.provider.BuildStatus(ctx, serviceID)
		if err != nil {
			// Transport hiccups are transient; the hard timeout caps them.
			p.logger.Warn("build status poll failed", "service_id", serviceID, "error", err)
			return retry.RetryableError(err)
		}
		p.logger.Debug("build status observed", "service_id", serviceID, "status", status)
		switch status {
		case provision.StatusSuccess:
			return nil
		case provision.StatusFailed, provision.StatusCrashed:
			return &BuildFailureError{Status: status}
		default:
			return retry.RetryableError(errBuildInProgress)
		}
	})
	if err == nil {
		return nil
	}
	var failure *BuildFailureError
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BuildTimeoutError{Timeout: p.timeout}
	}
	return err
}
