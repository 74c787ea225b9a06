// Package notify delivers operator alerts to chat webhooks. Alerts carry an
// event type so operators can subscribe to the ones they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
)

// Alert event types.
const (
	EventRunFailed          = "run_failed"
	EventDerivationMismatch = "derivation_mismatch"
)

// Sender is implemented by each notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the sender in logs, e.g. "telegram".
	Name() string
}

// Notifier fans alerts out to every Sender. When an event allow-list is
// configured, Notify drops events outside it.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends one alert to all senders. Sender failures are joined; one
// failing channel does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

// RunFailed alerts on an indexing run that ended with an error.
func (n *Notifier) RunFailed(ctx context.Context, r domain.RunReport) error {
	title, msg := FormatRunFailure(r)
	return n.Notify(ctx, EventRunFailed, title, msg)
}

// DerivationMismatch alerts when derived token ids disagree with the ones
// published off-chain for the same condition.
func (n *Notifier) DerivationMismatch(ctx context.Context, conditionID, slug string, derived, external [2]string) error {
	title := "Token id mismatch"
	var b strings.Builder
	fmt.Fprintf(&b, "condition: %s\n", conditionID)
	if slug != "" {
		fmt.Fprintf(&b, "market: %s\n", slug)
	}
	fmt.Fprintf(&b, "derived yes/no: %s / %s\n", derived[0], derived[1])
	fmt.Fprintf(&b, "external yes/no: %s / %s", external[0], external[1])
	return n.Notify(ctx, EventDerivationMismatch, title, b.String())
}

// FormatRunFailure renders a failed run as an alert title and body.
func FormatRunFailure(r domain.RunReport) (string, string) {
	title := fmt.Sprintf("Indexing run failed: %s", r.StreamKey)
	var b strings.Builder
	if r.TxHash != "" {
		fmt.Fprintf(&b, "tx: %s\n", r.TxHash)
	} else {
		fmt.Fprintf(&b, "blocks: %d-%d\n", r.FromBlock, r.ToBlock)
	}
	fmt.Fprintf(&b, "logs: %d, parsed: %d, inserted: %d\n", r.TotalLogs, r.ParsedTrades, r.InsertedTrades)
	fmt.Fprintf(&b, "watermark: %d\n", r.WatermarkBefore)
	fmt.Fprintf(&b, "took: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "error: %s", r.Error)
	return title, b.String()
}
