// Package notify delivers operator alerts raised by the keeper jobs to chat
// channels. Alerts can be filtered by event type, and an alert identical to
// one sent within the quiet period is suppressed so a failing sweep does not
// page on every tick.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long an identical alert is suppressed.
const DefaultQuietPeriod = 15 * time.Minute

// Message is one alert.
type Message struct {
	Event string
	Title string
	Body  string
	At    time.Time
}

// Sender is a notification channel.
type Sender interface {
	Send(ctx context.Context, m Message) error
	Name() string
}

// Notifier dispatches alerts to every registered Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty allows all
	quiet   time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	sent map[string]time.Time // event+title+body -> last delivery
}

// NewNotifier creates a Notifier. If events is empty, every event type is
// forwarded.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		quiet:   DefaultQuietPeriod,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "notifier")),
		sent:    make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Notify sends an alert unless its event type is filtered out or the same
// alert went out within the quiet period.
func (n *Notifier) Notify(ctx context.Context, event, title, body string) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	now := n.now()
	if n.suppressed(event+"\x00"+title+"\x00"+body, now) {
		n.logger.DebugContext(ctx, "notify: repeat suppressed", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, Message{Event: event, Title: title, Body: body, At: now.UTC()})
}

func (n *Notifier) suppressed(key string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for k, at := range n.sent {
		if now.Sub(at) >= n.quiet {
			delete(n.sent, k)
		}
	}
	if _, ok := n.sent[key]; ok {
		return true
	}
	n.sent[key] = now
	return false
}

// dispatch delivers to every sender; one failing sender does not stop the
// others.
func (n *Notifier) dispatch(ctx context.Context, m Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, m); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
