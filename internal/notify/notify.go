// Package notify shows desktop notifications for events the user has to act
// on, such as missing permissions or an available update.
package notify

import (
	"context"

	"hrm/internal/logging"
)

// AppName is the application name shown by the notification server.
const AppName = "hrm"

// Notifier delivers a short message to the user.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// LogNotifier writes notifications to the log. It is the fallback when no
// notification service is reachable.
type LogNotifier struct {
	Logger *logging.Logger
}

// Notify logs the message at warn level.
func (n *LogNotifier) Notify(_ context.Context, title, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger.Warn(title, "detail", body)
	return nil
}

// New returns the best notifier available on this platform. It never fails;
// without a desktop service the returned notifier logs.
func New(logger *logging.Logger) Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("notify")

	n, err := platformNotifier()
	if err != nil {
		logger.Debug("desktop notifications unavailable", "error", err)
		return &LogNotifier{Logger: logger}
	}
	return &fallbackNotifier{primary: n, fallback: &LogNotifier{Logger: logger}, logger: logger}
}

// fallbackNotifier logs the message when the primary notifier fails.
type fallbackNotifier struct {
	primary  Notifier
	fallback Notifier
	logger   *logging.Logger
}

func (f *fallbackNotifier) Notify(ctx context.Context, title, body string) error {
	if err := f.primary.Notify(ctx, title, body); err != nil {
		f.logger.Debug("desktop notification failed", "error", err)
		return f.fallback.Notify(ctx, title, body)
	}
	return nil
}
