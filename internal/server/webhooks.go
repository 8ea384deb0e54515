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
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"voltline/internal/config"
	"voltline/internal/domain"
	"voltline/internal/engine"
	"voltline/internal/refresh"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts new feed events to the configured endpoints. Each
// hook keeps its own cursor, starting at the newest event when first seen,
// and stops at the first failed delivery so it is retried on the next tick.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	logger   *slog.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewWebhookDispatcher(e engine.Engine, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	var hooks []config.Webhook
	if e.Config != nil {
		hooks = e.Config.Webhooks
	}
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger.With("component", "webhooks"),
		cursors:  make(map[int]int64),
	}
}

// Run delivers until ctx ends. It returns immediately when no hooks are
// configured.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if len(d.webhooks) == 0 {
		return nil
	}
	return refresh.Poller{
		Interval: defaultWebhookInterval,
		Fetch:    d.DispatchAll,
		Logger:   d.logger,
	}.Run(ctx)
}

func (d *WebhookDispatcher) DispatchAll(ctx context.Context) error {
	for i, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
	return nil
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.Webhook) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	evts, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		d.logger.Warn("fetch events failed", "error", err)
		return
	}
	filter := newVerbFilter(hook.Verbs)
	for _, evt := range evts {
		if !filter.match(evt.Verb) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger.Warn("delivery failed", "hook", hook.ID, "url", hook.URL, "event", evt.ID, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.engine.Repo.LatestEventID(ctx)
	if err != nil {
		d.logger.Warn("init cursor failed", "error", err)
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Verb        string          `json:"verb"`
	SubjectKind string          `json:"subject_kind"`
	SubjectRef  string          `json:"subject_ref"`
	Actor       string          `json:"actor"`
	TS          time.Time       `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.Webhook, evt domain.ActivityEvent) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:          evt.ID,
		Verb:        evt.Verb,
		SubjectKind: evt.SubjectKind,
		SubjectRef:  evt.SubjectRef,
		Actor:       evt.Actor,
		TS:          evt.TS,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Voltline-Event", evt.Verb)
	req.Header.Set("X-Voltline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Voltline-Signature", "sha256="+sign(hook.Secret, data))
	}
	res, err := d.client.Do(req)
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

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type verbFilter struct {
	all bool
	set map[string]struct{}
}

// newVerbFilter matches exact verbs or whole families ("task.*").
func newVerbFilter(verbs []string) verbFilter {
	set := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		if key := strings.TrimSpace(v); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return verbFilter{all: true}
	}
	return verbFilter{set: set}
}

func (f verbFilter) match(verb string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[verb]; ok {
		return true
	}
	if i := strings.IndexByte(verb, '.'); i > 0 {
		_, ok := f.set[verb[:i]+".*"]
		return ok
	}
	return false
}
