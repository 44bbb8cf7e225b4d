package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/ledger"
	"github.com/alanyoungcy/escrowd/internal/metrics"
	"github.com/alanyoungcy/escrowd/internal/notify"
)

// Bus channel and stream names.
const (
	EventChannelPrefix = "events."
	EventStream        = "events"
)

// DefaultQueueSize is the dispatch backlog before the commit hook applies
// backpressure to the ledger.
const DefaultQueueSize = 1024

// adminOps are the calls recorded in the audit trail.
var adminOps = map[string]bool{
	"set fee":            true,
	"set offer fee":      true,
	"set limits":         true,
	"set trusted signer": true,
	"withdraw fees":      true,
}

// Feed receives every committed event for live delivery to websocket
// clients. It is used when no signal bus is configured.
type Feed interface {
	Broadcast(channel string, payload []byte)
}

// Sinks are the downstream consumers of committed calls. Nil sinks are
// skipped.
type Sinks struct {
	Events    domain.EventStore
	Snapshots domain.SnapshotStore
	Audit     domain.AuditStore
	Bus       domain.SignalBus
	Feed      Feed
	Notifier  *notify.Notifier
	Metrics   *metrics.Metrics
}

// Dispatcher fans committed calls out to the sinks in commit order. The
// ledger hands commits over while it is still locked; the hook only enqueues
// and Run delivers on its own goroutine, which never calls back into the
// ledger.
type Dispatcher struct {
	sinks   Sinks
	queue   chan ledger.Commit
	stopped chan struct{}
	once    sync.Once
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher with a queue of queueSize commits
// (DefaultQueueSize when <= 0).
func NewDispatcher(sinks Sinks, queueSize int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan ledger.Commit, queueSize),
		stopped: make(chan struct{}),
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "dispatcher")),
	}
}

// Hook returns the ledger commit hook. It blocks while the queue is full and
// drops the commit once the dispatcher has stopped.
func (d *Dispatcher) Hook() ledger.CommitHook {
	return func(c ledger.Commit) {
		select {
		case <-d.stopped:
			d.logger.Warn("dispatcher: stopped, commit dropped",
				slog.String("op", c.Op),
				slog.Int("events", len(c.Events)),
			)
			return
		default:
		}
		select {
		case d.queue <- c:
			if d.sinks.Metrics != nil {
				d.sinks.Metrics.SetQueueDepth(len(d.queue))
			}
		case <-d.stopped:
		}
	}
}

// Run delivers queued commits until ctx is done, then drains what is left
// with a bounded deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.once.Do(func() { close(d.stopped) })
			d.drain()
			return ctx.Err()
		case c := <-d.queue:
			d.deliver(ctx, c)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case c := <-d.queue:
			d.deliver(ctx, c)
		default:
			return
		}
	}
}

// deliver pushes one commit to every sink. Sink failures are logged and
// counted; the commit itself is final.
func (d *Dispatcher) deliver(ctx context.Context, c ledger.Commit) {
	s := d.sinks
	if s.Metrics != nil {
		s.Metrics.SetQueueDepth(len(d.queue))
		s.Metrics.ObserveEvents(c.Events)
	}

	if s.Events != nil && len(c.Events) > 0 {
		if err := s.Events.Append(ctx, c.Events); err != nil {
			d.sinkFailed(ctx, "events", c, err)
		}
	}
	if s.Snapshots != nil {
		d.storeSnapshots(ctx, c)
	}
	if s.Audit != nil && adminOps[c.Op] {
		if err := s.Audit.Log(ctx, "admin."+strings.ReplaceAll(c.Op, " ", "_"), auditDetail(c)); err != nil {
			d.sinkFailed(ctx, "audit", c, err)
		}
	}

	for _, e := range c.Events {
		payload, err := json.Marshal(e)
		if err != nil {
			d.sinkFailed(ctx, "encode", c, err)
			continue
		}
		channel := EventChannelPrefix + string(e.Kind)
		switch {
		case s.Bus != nil:
			if err := s.Bus.Publish(ctx, channel, payload); err != nil {
				d.sinkFailed(ctx, "publish", c, err)
			}
			if err := s.Bus.StreamAppend(ctx, EventStream, payload); err != nil {
				d.sinkFailed(ctx, "stream", c, err)
			}
		case s.Feed != nil:
			s.Feed.Broadcast(channel, payload)
		}
		if s.Notifier != nil {
			if err := s.Notifier.NotifyEvent(ctx, e); err != nil {
				d.sinkFailed(ctx, "notify", c, err)
			}
		}
	}
}

func (d *Dispatcher) storeSnapshots(ctx context.Context, c ledger.Commit) {
	store := d.sinks.Snapshots
	for _, l := range c.Listings {
		if err := store.UpsertListing(ctx, l); err != nil {
			d.sinkFailed(ctx, "snapshots", c, err)
		}
	}
	for _, a := range c.Auctions {
		if err := store.UpsertAuction(ctx, a); err != nil {
			d.sinkFailed(ctx, "snapshots", c, err)
		}
	}
	for _, b := range c.Bids {
		if err := store.UpsertBid(ctx, b); err != nil {
			d.sinkFailed(ctx, "snapshots", c, err)
		}
	}
	for _, o := range c.Offers {
		if err := store.UpsertOffer(ctx, o); err != nil {
			d.sinkFailed(ctx, "snapshots", c, err)
		}
	}
}

func (d *Dispatcher) sinkFailed(ctx context.Context, sink string, c ledger.Commit, err error) {
	if d.sinks.Metrics != nil {
		d.sinks.Metrics.SinkError(sink)
	}
	d.logger.WarnContext(ctx, "dispatcher: sink failed",
		slog.String("sink", sink),
		slog.String("op", c.Op),
		slog.String("error", err.Error()),
	)
}

func auditDetail(c ledger.Commit) map[string]any {
	detail := map[string]any{"caller": c.Caller.Hex()}
	if len(c.Events) > 0 {
		e := c.Events[0]
		detail["seq"] = e.Seq
		if e.Amount != nil {
			detail["amount"] = e.Amount.String()
		}
		if e.To != nil {
			detail["to"] = e.To.Hex()
		}
		if e.Reason != "" {
			detail["reason"] = e.Reason
		}
		detail["payment"] = e.Payment.String()
	}
	return detail
}
