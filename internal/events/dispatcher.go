package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctionops_events_dropped_total",
		Help: "Events dropped because the dispatch buffer was full",
	}, []string{"type"})

	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctionops_events_publish_failures_total",
		Help: "Events the publisher failed to deliver",
	}, []string{"type"})
)

// Dispatcher hands events to a Publisher from a bounded buffer on its own
// goroutine. Emit never blocks: when the buffer is full the event is dropped
// and counted.
type Dispatcher struct {
	logger    *slog.Logger
	publisher Publisher
	queue     chan Event
	timeout   time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(logger *slog.Logger, publisher Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		logger:    logger,
		publisher: publisher,
		queue:     make(chan Event, buffer),
		timeout:   5 * time.Second,
		done:      make(chan struct{}),
	}
}

func (d *Dispatcher) Emit(events ...Event) {
	for _, e := range events {
		select {
		case d.queue <- e:
		default:
			eventsDropped.WithLabelValues(string(e.Type)).Inc()
			d.logger.Warn("event dropped",
				"module", "events.dispatcher",
				"operation", "emit",
				"outcome", "dropped",
				"event_type", e.Type,
				"auction_id", e.AuctionID,
			)
		}
	}
}

// Run publishes until ctx is cancelled, then drains whatever is still buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case e := <-d.queue:
			d.publish(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.publisher.Publish(ctx, e); err != nil {
		publishFailures.WithLabelValues(string(e.Type)).Inc()
		d.logger.ErrorContext(ctx, "event publish failed",
			"module", "events.dispatcher",
			"operation", "publish",
			"outcome", "failure",
			"event_type", e.Type,
			"auction_id", e.AuctionID,
			"error", err,
		)
	}
}
