package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Clark-Hu/stars/internal/cache"
	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

func sampleEvent(name ledger.EventName) ledger.Event {
	return ledger.Event{
		ID:         "evt-1",
		Name:       name,
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Rating:     domain.Rating{ID: 9, Target: domain.Ref{Kind: "post", ID: 3}, Device: "d1", Rate: 4},
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []ledger.EventName
}

func (r *recorder) Publish(_ context.Context, ev ledger.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev.Name)
	return nil
}

func (r *recorder) names() []ledger.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.EventName(nil), r.seen...)
}

func TestDispatcherFiltersByName(t *testing.T) {
	d := NewDispatcher(nil)
	all, committed := &recorder{}, &recorder{}
	d.Subscribe("all", all)
	d.Subscribe("committed", committed, Committed()...)

	ctx := context.Background()
	for _, name := range []ledger.EventName{ledger.EventUpdating, ledger.EventUpdated, ledger.EventRemoving, ledger.EventRemoved} {
		d.Notify(ctx, sampleEvent(name))
	}

	assert.Equal(t, []ledger.EventName{ledger.EventUpdating, ledger.EventUpdated, ledger.EventRemoving, ledger.EventRemoved}, all.names())
	assert.Equal(t, []ledger.EventName{ledger.EventUpdated, ledger.EventRemoved}, committed.names())
}

func TestDispatcherSurvivesFailingSubscribers(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	d := NewDispatcher(log)
	after := &recorder{}
	d.Subscribe("panics", PublisherFunc(func(context.Context, ledger.Event) error { panic("boom") }))
	d.Subscribe("fails", PublisherFunc(func(context.Context, ledger.Event) error { return errors.New("nope") }))
	d.Subscribe("after", after)

	d.Notify(context.Background(), sampleEvent(ledger.EventCreated))

	assert.Equal(t, []ledger.EventName{ledger.EventCreated}, after.names())
	assert.Equal(t, 2, logs.FilterMessage("event delivery failed").Len())
}

func TestAsyncDrainsOnClose(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, 8, time.Second, nil)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(context.Background(), sampleEvent(ledger.EventCreated)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	assert.Len(t, rec.names(), 5)
	assert.ErrorIs(t, a.Publish(context.Background(), sampleEvent(ledger.EventCreated)), ErrClosed)
}

func TestAsyncReportsFullQueue(t *testing.T) {
	release := make(chan struct{})
	blocked := PublisherFunc(func(context.Context, ledger.Event) error {
		<-release
		return nil
	})
	a := NewAsync(blocked, 1, 0, nil)
	defer func() {
		close(release)
		_ = a.Close(context.Background())
	}()

	var full bool
	for i := 0; i < 5 && !full; i++ {
		full = errors.Is(a.Publish(context.Background(), sampleEvent(ledger.EventCreated)), ErrQueueFull)
	}
	assert.True(t, full)
}

func TestWebhookPostsEvent(t *testing.T) {
	var (
		got    ledger.Event
		header http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL+"/events", "s3cret", time.Second, nil)
	require.NoError(t, err)
	require.NoError(t, hook.Publish(context.Background(), sampleEvent(ledger.EventUpdated)))

	assert.Equal(t, ledger.EventUpdated, got.Name)
	assert.Equal(t, 4, got.Rating.Rate)
	assert.Equal(t, "rating.updated", header.Get("X-Stars-Event"))
	assert.Equal(t, "Bearer s3cret", header.Get("Authorization"))
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	hook, err := NewWebhook(srv.URL, "", time.Second, nil)
	require.NoError(t, err)
	assert.Error(t, hook.Publish(context.Background(), sampleEvent(ledger.EventCreated)))
}

func TestNewWebhookValidatesURL(t *testing.T) {
	_, err := NewWebhook("ftp://example.com", "", 0, nil)
	assert.Error(t, err)
}

func TestRedisPublishForward(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rdb, err := cache.DialRedis(ctx, addr)
	require.NoError(t, err)
	defer rdb.Close()

	pub, err := NewRedisPublisher(rdb, "stars.test."+t.Name(), nil)
	require.NoError(t, err)

	received := make(chan ledger.Event, 1)
	require.NoError(t, pub.Forward(ctx, func(ev ledger.Event) { received <- ev }))
	require.NoError(t, pub.Publish(ctx, sampleEvent(ledger.EventRemoved)))

	select {
	case ev := <-received:
		assert.Equal(t, ledger.EventRemoved, ev.Name)
		assert.Equal(t, "evt-1", ev.ID)
	case <-ctx.Done():
		t.Fatal("event not forwarded")
	}
}
