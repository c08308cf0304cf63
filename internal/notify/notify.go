// Package notify queues applicant notifications and hands them to sinks off the
// request path.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Intent is a request to tell a recipient that something happened to their case.
type Intent struct {
	Event      string         `json:"event"`
	CaseID     string         `json:"case_id"`
	Reference  string         `json:"reference,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Recipient  string         `json:"recipient"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

// Dispatcher accepts intents without blocking.
type Dispatcher interface {
	Dispatch(in Intent)
}

// Sink delivers one intent.
type Sink interface {
	Deliver(ctx context.Context, in Intent) error
}

// Discard drops every intent.
type Discard struct{}

func (Discard) Dispatch(Intent) {}

const defaultBuffer = 256

// Queue is a bounded fire-and-forget Dispatcher. Intents that do not fit in the
// buffer are dropped and counted.
type Queue struct {
	ch      chan Intent
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	onDrop  func()

	mu     sync.RWMutex
	closed bool
}

type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithDropHook is called once for every dropped intent.
func WithDropHook(fn func()) Option {
	return func(q *Queue) { q.onDrop = fn }
}

// WithDeliveryTimeout bounds each sink delivery.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(buffer int, sinks []Sink, opts ...Option) *Queue {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	q := &Queue{
		ch:      make(chan Intent, buffer),
		sinks:   sinks,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dispatch enqueues in, or drops it when the queue is full or closed.
func (q *Queue) Dispatch(in Intent) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(in, "closed")
		return
	}
	select {
	case q.ch <- in:
	default:
		q.drop(in, "full")
	}
}

func (q *Queue) drop(in Intent, why string) {
	q.logger.Warn("notification dropped", "reason", why, "event", in.Event, "case_id", in.CaseID)
	if q.onDrop != nil {
		q.onDrop()
	}
}

// Len returns the number of buffered intents.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting intents. Run delivers what is buffered and returns.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Run delivers intents until the queue is closed or ctx is done. On ctx
// cancellation the remaining buffer is drained before returning.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case in, ok := <-q.ch:
			if !ok {
				return nil
			}
			q.deliver(ctx, in)
		case <-ctx.Done():
			q.Close()
			for in := range q.ch {
				q.deliver(context.WithoutCancel(ctx), in)
			}
			return nil
		}
	}
}

func (q *Queue) deliver(ctx context.Context, in Intent) {
	for _, s := range q.sinks {
		dctx, cancel := context.WithTimeout(ctx, q.timeout)
		err := s.Deliver(dctx, in)
		cancel()
		if err != nil {
			q.logger.Warn("notification delivery failed", "event", in.Event, "case_id", in.CaseID, "error", err)
		}
	}
}

// LogSink writes intents to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Deliver(_ context.Context, in Intent) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.Info("notification", "event", in.Event, "case_id", in.CaseID, "request_id", in.RequestID, "recipient", in.Recipient)
	return nil
}
