package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"chatrelay/internal/crypto"
	"chatrelay/internal/metrics"
	"chatrelay/internal/storage"
)

// ErrInactive reports a delivery skipped because the channel is switched off.
var ErrInactive = errors.New("channel is inactive")

// Payload is the reply body posted to a channel's webhook URL.
type Payload struct {
	EventType string `json:"event_type"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

func NewMessagePayload(chatID, text string) Payload {
	return Payload{EventType: "new_message", ChatID: chatID, Text: text}
}

// Notifier delivers reply payloads to channel webhooks. Delivery is
// best-effort: one attempt per channel, bounded by the client timeout, no
// retries.
type Notifier struct {
	client     *http.Client
	crypto     *crypto.Manager
	authHeader string
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Client     *http.Client
	Crypto     *crypto.Manager
	AuthHeader string
	Timeout    time.Duration
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func New(cfg Config) *Notifier {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cfg.Client = &http.Client{Timeout: timeout}
	}
	if cfg.AuthHeader == "" {
		cfg.AuthHeader = "Chat-Authorization"
	}
	return &Notifier{
		client:     cfg.Client,
		crypto:     cfg.Crypto,
		authHeader: cfg.AuthHeader,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

// Notify posts payload to the channel's webhook. Inactive channels are
// skipped with ErrInactive. Transport errors and non-2xx statuses are logged
// and counted; the returned error is informational and callers on the reply
// path must not fail the request on it.
func (n *Notifier) Notify(ctx context.Context, ch storage.Channel, payload Payload) error {
	if !ch.IsActive {
		n.metrics.NotificationsSkipped.Inc()
		return ErrInactive
	}

	token, err := n.crypto.UnmarshalEncryptedString(ch.EncToken)
	if err != nil {
		n.fail(ch, err)
		return fmt.Errorf("decrypt channel token: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.fail(ch, err)
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		n.fail(ch, err)
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(n.authHeader, "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		n.fail(ch, err)
		return fmt.Errorf("post to channel: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("channel returned status %d", resp.StatusCode)
		n.fail(ch, err)
		return err
	}

	n.metrics.NotificationsSent.Inc()
	return nil
}

func (n *Notifier) fail(ch storage.Channel, err error) {
	n.metrics.NotificationFailures.Inc()
	n.logger.Error().
		Err(err).
		Str("channel_id", ch.ID).
		Str("channel_name", ch.Name).
		Msg("channel notification failed")
}
