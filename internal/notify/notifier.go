// Package notify delivers operator alerts about committed engine events to
// chat channels. Events are filtered by kind so operators only hear about the
// transitions they configured.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every Sender. A nil *Notifier is valid and
// drops everything.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only events whose kind is listed are
// forwarded by NotifyEvent; an empty list forwards every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.EventKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Wants reports whether events of kind pass the filter.
func (n *Notifier) Wants(kind domain.EventKind) bool {
	return len(n.kinds) == 0 || n.kinds[kind]
}

// NotifyEvent formats e and sends it if its kind passes the filter.
func (n *Notifier) NotifyEvent(ctx context.Context, e domain.Event) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Wants(e.Kind) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("kind", string(e.Kind)))
		return nil
	}
	title, message := FormatEvent(e)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a message regardless of the kind filter.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
