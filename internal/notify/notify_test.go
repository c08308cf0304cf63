package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
)

type recordingSink struct {
	mu  sync.Mutex
	got []Intent
	err error
}

func (s *recordingSink) Deliver(_ context.Context, in Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, in)
	return s.err
}

func (s *recordingSink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.got))
	for i, in := range s.got {
		out[i] = in.Event
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_DrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(10, []Sink{sink}, WithLogger(quietLogger()))
	for range 5 {
		q.Dispatch(Intent{Event: "case_validated", CaseID: "c1"})
	}
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Len(t, sink.events(), 5)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	var dropped atomic.Int64
	q := NewQueue(2, nil, WithLogger(quietLogger()), WithDropHook(func() { dropped.Add(1) }))
	for range 5 {
		q.Dispatch(Intent{Event: "request_opened"})
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(3), dropped.Load())

	q.Close()
	q.Dispatch(Intent{Event: "late"})
	assert.Equal(t, int64(4), dropped.Load())
}

func TestQueue_DispatchNeverBlocks(t *testing.T) {
	q := NewQueue(1, nil, WithLogger(quietLogger()))
	done := make(chan struct{})
	go func() {
		for range 1000 {
			q.Dispatch(Intent{Event: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked")
	}
}

func TestQueue_SinkErrorDoesNotStopDelivery(t *testing.T) {
	failing := &recordingSink{err: errors.New("smtp down")}
	ok := &recordingSink{}
	q := NewQueue(4, []Sink{failing, ok}, WithLogger(quietLogger()))
	q.Dispatch(Intent{Event: "a"})
	q.Dispatch(Intent{Event: "b"})
	q.Close()
	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, ok.events())
	assert.Equal(t, []string{"a", "b"}, failing.events())
}

func TestQueue_RunStopsOnContextAndDrains(t *testing.T) {
	sink := &recordingSink{}
	q := NewQueue(8, []Sink{sink}, WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	q.Dispatch(Intent{Event: "case_closed"})
	require.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
}

func TestWebhookSink(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Intent
		secret   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in Intent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, in)
		secret = r.Header.Get("X-Caseline-Secret")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(config.Webhook{URL: srv.URL, Events: []string{"case_validated"}, Secret: "s3cret"})
	require.NoError(t, sink.Deliver(context.Background(), Intent{Event: "case_validated", CaseID: "c1", Recipient: "a@example.com"}))
	require.NoError(t, sink.Deliver(context.Background(), Intent{Event: "case_closed", CaseID: "c1"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "c1", received[0].CaseID)
	assert.Equal(t, "s3cret", secret)
}

func TestWebhookSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookSink(config.Webhook{URL: srv.URL}).Deliver(context.Background(), Intent{Event: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestSinksFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Webhooks = []config.Webhook{{URL: "http://example.invalid/hook"}, {URL: " "}}
	assert.Len(t, SinksFromConfig(cfg), 1)
	assert.Nil(t, SinksFromConfig(nil))
}
