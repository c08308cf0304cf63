package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caseline/internal/config"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink POSTs intents as JSON to a configured URL.
type WebhookSink struct {
	url    string
	secret string
	filter eventFilter
	client *http.Client
}

func NewWebhookSink(hook config.Webhook) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	return &WebhookSink{
		url:    hook.URL,
		secret: hook.Secret,
		filter: newEventFilter(hook.Events),
		client: &http.Client{Timeout: timeout},
	}
}

// SinksFromConfig builds one webhook sink per configured hook.
func SinksFromConfig(cfg *config.Config) []Sink {
	if cfg == nil {
		return nil
	}
	var sinks []Sink
	for _, hook := range cfg.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook))
	}
	return sinks
}

func (s *WebhookSink) Deliver(ctx context.Context, in Intent) error {
	if !s.filter.match(in.Event) {
		return nil
	}
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", in.Event)
	req.Header.Set("X-Caseline-Case", in.CaseID)
	if strings.TrimSpace(s.secret) != "" {
		req.Header.Set("X-Caseline-Secret", s.secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("webhook %s: status %d: %s", s.url, res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
