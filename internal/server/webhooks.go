package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"battlelog/internal/config"
	"battlelog/internal/engine"
	"battlelog/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
)

type webhookDispatcher struct {
	feed     events.Feed
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]events.Cursors
}

// StartWebhooks polls the store and posts new notifications to every enabled
// webhook until ctx is done. Deliveries start from the end of the log at startup.
func StartWebhooks(ctx context.Context, e engine.Engine, logger *slog.Logger) {
	d := newWebhookDispatcher(e, logger)
	if d == nil {
		return
	}
	go d.run(ctx)
}

func newWebhookDispatcher(e engine.Engine, logger *slog.Logger) *webhookDispatcher {
	if e.Config == nil {
		return nil
	}
	var hooks []config.WebhookConfig
	for _, hook := range e.Config.Webhooks {
		if hook.IsEnabled() && strings.TrimSpace(hook.URL) != "" {
			hooks = append(hooks, hook)
		}
	}
	if len(hooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &webhookDispatcher{
		feed:     events.Feed{Repo: e.Repo},
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		interval: defaultWebhookInterval,
		cursors:  make(map[int]events.Cursors),
	}
}

func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		d.logger.Warn("webhook cursor init failed", "url", hook.URL, "err", err)
		return
	}
	items, err := d.feed.Poll(ctx, cursor)
	if err != nil {
		d.logger.Warn("webhook poll failed", "url", hook.URL, "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, n := range items {
		if filter.match(n.Type) {
			if err := d.post(ctx, hook, n); err != nil {
				d.logger.Warn("webhook delivery failed", "url", hook.URL, "type", n.Type, "delivery", n.Delivery, "err", err)
				return
			}
		}
		cursor = cursor.Advance(n)
		d.setCursor(idx, cursor)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) (events.Cursors, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.feed.Latest(ctx)
	if err != nil {
		return events.Cursors{}, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *webhookDispatcher) setCursor(idx int, value events.Cursors) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, n events.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Battlelog-Event", n.Type)
	req.Header.Set("X-Battlelog-Delivery", n.Delivery)
	req.Header.Set("X-Battlelog-Session", n.SessionID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Battlelog-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(types []string) eventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		key := strings.TrimSpace(t)
		if key == "*" {
			return eventFilter{all: true}
		}
		if key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(t string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[t]
	return ok
}
