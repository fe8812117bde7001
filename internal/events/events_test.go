package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
	seen   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return r.err
}

func (r *recorder) got() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitFor(t *testing.T, r *recorder, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func TestDispatcher_PublishesInOrder(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(discardLogger, rec, 16)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	d.Emit(
		Event{Type: LeaderChanged, AuctionID: "a1", Version: 2},
		Event{Type: BidderOutbid, AuctionID: "a1", Version: 3},
	)
	waitFor(t, rec, 2)
	cancel()
	<-d.Done()

	got := rec.got()
	require.Len(t, got, 2)
	assert.Equal(t, LeaderChanged, got[0].Type)
	assert.Equal(t, BidderOutbid, got[1].Type)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := newRecorder()
	d := NewDispatcher(discardLogger, rec, 1)
	before := testutil.ToFloat64(eventsDropped.WithLabelValues(string(AuctionClosed)))

	d.Emit(
		Event{Type: AuctionClosed, AuctionID: "a1"},
		Event{Type: AuctionClosed, AuctionID: "a2"},
		Event{Type: AuctionClosed, AuctionID: "a3"},
	)

	after := testutil.ToFloat64(eventsDropped.WithLabelValues(string(AuctionClosed)))
	assert.Equal(t, 2.0, after-before)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Len(t, rec.got(), 1, "buffered event is drained on shutdown")
}

func TestDispatcher_PublishFailureIsCounted(t *testing.T) {
	rec := newRecorder()
	rec.err = errors.New("broker down")
	d := NewDispatcher(discardLogger, rec, 4)
	before := testutil.ToFloat64(publishFailures.WithLabelValues(string(LeaderChanged)))

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	d.Emit(Event{Type: LeaderChanged, AuctionID: "a1"})
	waitFor(t, rec, 1)
	cancel()
	<-d.Done()

	assert.Equal(t, 1.0, testutil.ToFloat64(publishFailures.WithLabelValues(string(LeaderChanged)))-before)
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok, bad := newRecorder(), newRecorder()
	bad.err = errors.New("boom")

	err := Fanout{ok, bad}.Publish(context.Background(), Event{Type: LeaderChanged})

	assert.ErrorContains(t, err, "boom")
	assert.Len(t, ok.got(), 1)
	assert.Len(t, bad.got(), 1)
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByAuction(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "auction-events"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), Event{ID: "e1", Type: LeaderChanged, AuctionID: "a1", Price: 12000, OccurredAt: at})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "auction-events", msg.Topic)
	assert.Equal(t, "a1", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, int64(12000), decoded.Price)
}

func TestNewKafkaPublisher_Validates(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)
	_, err = NewKafkaPublisher([]string{"localhost:9092"}, "")
	assert.Error(t, err)
}

func TestDecodePriceView(t *testing.T) {
	view, ok, err := decodePriceView("a1", map[string]string{})
	require.NoError(t, err)
	assert.False(t, ok)

	view, ok, err = decodePriceView("a1", map[string]string{"price": "12500", "version": "4", "leader_id": "bob", "closed": "1"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PriceView{AuctionID: "a1", Price: 12500, LeaderID: "bob", Version: 4, Closed: true}, view)

	_, _, err = decodePriceView("a1", map[string]string{"price": "x", "version": "1"})
	assert.Error(t, err)
}
