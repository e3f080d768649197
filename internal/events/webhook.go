package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"torrentgate/internal/domain"
)

// WebhookStore persists the registered URLs so they survive restarts.
type WebhookStore interface {
	CreateWebhook(ctx context.Context, w domain.Webhook) error
	DeleteWebhook(ctx context.Context, ownerUserID, url string) error
	ListWebhooks(ctx context.Context, ownerUserID string) ([]domain.Webhook, error)
}

// WebhookSubscriber POSTs every event as JSON to the owner's registered
// URLs. Registrations live in the store; delivery looks them up per event.
type WebhookSubscriber struct {
	store      WebhookStore
	logger     *slog.Logger
	httpClient *http.Client
	now        func() time.Time
}

func NewWebhookSubscriber(store WebhookStore, logger *slog.Logger) *WebhookSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSubscriber{
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		now:        time.Now,
	}
}

// Register stores a webhook URL for the user. Registering the same URL
// twice is a no-op.
func (w *WebhookSubscriber) Register(ctx context.Context, userID, url string) error {
	hook := domain.Webhook{
		ID:          uuid.NewString(),
		OwnerUserID: userID,
		URL:         url,
		CreatedAt:   w.now().UTC(),
	}
	err := w.store.CreateWebhook(ctx, hook)
	if errors.Is(err, domain.ErrDuplicate) {
		return nil
	}
	return err
}

// Unregister removes the URL. Removing an unknown URL is a no-op.
func (w *WebhookSubscriber) Unregister(ctx context.Context, userID, url string) error {
	err := w.store.DeleteWebhook(ctx, userID, url)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func (w *WebhookSubscriber) List(ctx context.Context, userID string) ([]string, error) {
	hooks, err := w.store.ListWebhooks(ctx, userID)
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		urls = append(urls, hook.URL)
	}
	return urls, nil
}

func (w *WebhookSubscriber) Deliver(ctx context.Context, evt Event) {
	hooks, err := w.store.ListWebhooks(ctx, evt.OwnerUserID)
	if err != nil {
		w.logger.Warn("webhook lookup failed",
			slog.String("userId", evt.OwnerUserID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(hooks) == 0 {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	for _, hook := range hooks {
		go w.post(ctx, hook.URL, body)
	}
}

func (w *WebhookSubscriber) post(ctx context.Context, url string, body []byte) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Debug("webhook delivery failed", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	resp.Body.Close()
}
