// Package gateway calls the deployed instance's own internal API using the
// per-instance gateway token. All calls are best-effort: failures degrade
// to empty results instead of propagating.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
)

type Session struct {
	ID           string    `json:"id"`
	Channel      string    `json:"channel"`
	PeerName     string    `json:"peerName"`
	LastActivity time.Time `json:"lastActivity"`
}

type RuntimeStatus struct {
	Online   bool     `json:"online"`
	Version  string   `json:"version"`
	Channels []string `json:"channels"`
}

type Client struct {
	http *resty.Client
}

func NewClient() *Client {
	return &Client{
		http: resty.New().SetTimeout(10 * time.Second),
	}
}

// ListSessions fetches the active chat sessions from a running instance.
// Returns an empty slice on any failure.
func (c *Client) ListSessions(ctx context.Context, serviceURL, gatewayToken string) []Session {
	var sessions []Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(gatewayToken).
		SetResult(&sessions).
		Get(serviceURL + "/api/sessions")
	if err != nil || resp.IsError() {
		log.Printf("Session fetch from %s degraded to empty: err=%v", serviceURL, err)
		return nil
	}
	return sessions
}

// Status fetches the runtime's self-reported status. Returns a zero-value
// offline status on any failure.
func (c *Client) Status(ctx context.Context, serviceURL, gatewayToken string) RuntimeStatus {
	var status RuntimeStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(gatewayToken).
		SetResult(&status).
		Get(serviceURL + "/api/status")
	if err != nil || resp.IsError() {
		return RuntimeStatus{}
	}
	return status
}
