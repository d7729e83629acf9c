// Package notify delivers finished digests over the configured
// channels: email, webhook, and MQTT. Channels are independent; a
// failing channel never blocks the others.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Digest is the payload handed to every channel.
type Digest struct {
	Title       string
	Content     string
	GeneratedAt time.Time
}

// DefaultTitle returns the standard digest title for a given date.
func DefaultTitle(t time.Time) string {
	return "AI News Digest - " + t.Format("2006-01-02")
}

// Notifier delivers a digest over one channel.
type Notifier interface {
	// Name identifies the channel in logs and error messages.
	Name() string

	// Send delivers the digest. It must be safe to call once per run.
	Send(ctx context.Context, d Digest) error
}

// Dispatcher fans a digest out to every registered channel in order.
type Dispatcher struct {
	logger    *slog.Logger
	notifiers []Notifier
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:    logger.With("component", "notify"),
		notifiers: notifiers,
	}
}

// Channels returns the names of the registered channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Send delivers the digest to every channel. Each failure is logged
// and delivery continues; an error is returned only when every channel
// failed, so partial delivery counts as success.
func (d *Dispatcher) Send(ctx context.Context, digest Digest) error {
	if len(d.notifiers) == 0 {
		d.logger.Info("no notification channels configured")
		return nil
	}

	var failures []error
	for _, n := range d.notifiers {
		if err := n.Send(ctx, digest); err != nil {
			d.logger.Error("notification failed",
				"channel", n.Name(), "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		d.logger.Info("notification sent", "channel", n.Name())
	}

	if len(failures) == len(d.notifiers) {
		return fmt.Errorf("all notification channels failed: %w", errors.Join(failures...))
	}
	return nil
}
