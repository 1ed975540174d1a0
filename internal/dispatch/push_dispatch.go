package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Webhook posts assignments as JSON to a driver-app backend.
type Webhook struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhook(endpoint string) *Webhook {
	return &Webhook{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (w *Webhook) Notify(ctx context.Context, a Assignment) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Push tries the driver's websocket first and falls back to the webhook
// when the driver has no live session.
type Push struct {
	WS      *WSRegistry
	Webhook *Webhook
}

func (p *Push) Notify(ctx context.Context, a Assignment) error {
	if p.WS != nil {
		err := p.WS.Notify(ctx, a)
		if err == nil || !errors.Is(err, ErrNoSession) || p.Webhook == nil {
			return err
		}
	}
	if p.Webhook == nil {
		return ErrNoSession
	}
	return p.Webhook.Notify(ctx, a)
}
