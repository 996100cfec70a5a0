package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sentrygo "github.com/getsentry/sentry-go"
)

// SentryOptions configures error reporting.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry sets up Sentry. An empty DSN leaves reporting disabled.
func InitSentry(opt SentryOptions) error {
	if opt.DSN == "" {
		return nil
	}
	err := sentrygo.Init(sentrygo.ClientOptions{
		Dsn:         opt.DSN,
		Environment: opt.Environment,
		Release:     opt.Release,
	})
	if err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	return nil
}

// FlushSentry flushes buffered events, bounded by timeout or the context deadline.
func FlushSentry(ctx context.Context, timeout time.Duration) {
	if !sentryEnabled() {
		return
	}
	t := timeout
	if dl, ok := ctx.Deadline(); ok {
		if until := time.Until(dl); until > 0 && until < t {
			t = until
		}
	}
	if t <= 0 {
		t = time.Second
	}
	sentrygo.Flush(t)
}

// SentryReporter reports cycle failures to Sentry.
// Reports are dropped when Sentry is not initialized.
type SentryReporter struct{}

// Report captures err tagged with the cycle and the step that failed.
func (SentryReporter) Report(ctx context.Context, cycleID int64, step string, err error) {
	if !sentryEnabled() || err == nil {
		return
	}
	hub := sentrygo.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentrygo.CurrentHub()
	}
	hub.WithScope(func(scope *sentrygo.Scope) {
		scope.SetTag("cycle", strconv.FormatInt(cycleID, 10))
		scope.SetTag("step", step)
		hub.CaptureException(err)
	})
}

func sentryEnabled() bool {
	return sentrygo.CurrentHub().Client() != nil
}
