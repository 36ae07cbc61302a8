package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"sidequest/internal/config"
	"sidequest/internal/domain"
	"sidequest/internal/logger"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	// SignatureHeader carries "sha256=<hex HMAC of the body>" when the hook
	// has a secret.
	SignatureHeader = "X-Sidequest-Signature"
)

// EventSource is the part of the repo the dispatcher reads from.
type EventSource interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, userID string) ([]domain.Event, error)
	LatestEventID(ctx context.Context, userID string) (int64, error)
}

type hookState struct {
	hook   config.Webhook
	filter map[string]bool
	client *http.Client
	// cursor is the last delivered or skipped event id; -1 until first poll.
	cursor int64
}

func (h *hookState) wants(evtType string) bool {
	return len(h.filter) == 0 || h.filter[evtType]
}

// WebhookDispatcher posts new audit events to the configured webhooks.
// Each hook starts at the newest event present when it is first polled and
// stops at the first failed delivery, retrying it on the next poll.
type WebhookDispatcher struct {
	Source   EventSource
	Interval time.Duration
	Log      *logger.Logger

	mu    sync.Mutex
	hooks []*hookState
}

func NewWebhookDispatcher(src EventSource, hooks []config.Webhook, log *logger.Logger) *WebhookDispatcher {
	d := &WebhookDispatcher{
		Source:   src,
		Interval: defaultWebhookInterval,
		Log:      logger.OrNop(log).With("component", "webhooks"),
	}
	for _, hook := range hooks {
		if !hook.Active() {
			continue
		}
		timeout := hook.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		st := &hookState{hook: hook, client: &http.Client{Timeout: timeout}, cursor: -1}
		for _, evt := range hook.Events {
			if evt = strings.TrimSpace(evt); evt != "" {
				if st.filter == nil {
					st.filter = map[string]bool{}
				}
				st.filter[evt] = true
			}
		}
		d.hooks = append(d.hooks, st)
	}
	return d
}

// Active reports whether any hook would receive events.
func (d *WebhookDispatcher) Active() bool {
	return len(d.hooks) > 0
}

// Run polls until ctx is done.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if !d.Active() {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery round for every hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range d.hooks {
		if ctx.Err() != nil {
			return
		}
		d.deliver(ctx, h)
	}
}

func (d *WebhookDispatcher) deliver(ctx context.Context, h *hookState) {
	if h.cursor < 0 {
		latest, err := d.Source.LatestEventID(ctx, "")
		if err != nil {
			d.Log.Warn("init webhook cursor failed", "url", h.hook.URL, "error", err)
			return
		}
		h.cursor = latest
	}
	events, err := d.Source.EventsAfter(ctx, defaultWebhookBatch, h.cursor, "")
	if err != nil {
		d.Log.Warn("fetch events failed", "error", err)
		return
	}
	for _, evt := range events {
		if h.wants(evt.Type) {
			if err := d.post(ctx, h, evt); err != nil {
				d.Log.Warn("webhook delivery failed", "url", h.hook.URL, "event_id", evt.ID, "error", err)
				return
			}
		}
		h.cursor = evt.ID
	}
}

func (d *WebhookDispatcher) post(ctx context.Context, h *hookState, evt domain.Event) error {
	body, err := json.Marshal(eventResponse(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sidequest-Event", evt.Type)
	req.Header.Set("X-Sidequest-Delivery", strconv.FormatInt(evt.ID, 10))
	if secret := strings.TrimSpace(h.hook.Secret); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	res, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
