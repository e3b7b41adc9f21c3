// Package delivery pushes outbound text to the messaging gateway.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Deliverer interface {
	Send(ctx context.Context, userID, text string) error
}

// Gateway posts messages to the transport service that owns the actual
// user channel. Delivery is at-most-once: callers never retry a send,
// the round that produced it is already committed.
type Gateway struct {
	BaseURL string
	Client  *http.Client
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type sendReq struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func (g *Gateway) Send(ctx context.Context, userID, text string) error {
	b, err := json.Marshal(sendReq{UserID: userID, Text: text})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/messages", g.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delivery: gateway status %d", resp.StatusCode)
	}
	return nil
}
