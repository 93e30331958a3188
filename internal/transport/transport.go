// Package transport implements the remote document store: HTTP for one-shot
// reads and a multiplexed WebSocket connection for realtime listeners.
package transport

import (
	"context"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

// RemoteClient combines HTTP reads and WebSocket listeners into a store.Client.
type RemoteClient struct {
	httpClient *HTTPClient
	wsClient   *WSClient
	logger     *events.Logger
}

var _ store.Client = (*RemoteClient)(nil)

// NewRemoteClient creates a remote store client. No connection is made until
// the first read or subscription.
func NewRemoteClient(cfg *config.StoreConfig, logger *events.Logger) *RemoteClient {
	return &RemoteClient{
		httpClient: NewHTTPClient(cfg, logger),
		wsClient:   NewWSClient(cfg.RealtimeEndpoint(), cfg.Token, logger),
		logger:     logger.WithField("component", "remote_store"),
	}
}

// Read forwards to the HTTP client.
func (t *RemoteClient) Read(ctx context.Context, collection string, filter store.Filter) ([]models.Document, error) {
	return t.httpClient.Read(ctx, collection, filter)
}

// Subscribe forwards to the WebSocket client.
func (t *RemoteClient) Subscribe(ctx context.Context, q store.Query) (store.Subscription, error) {
	return t.wsClient.Subscribe(ctx, q)
}

// SetToken sets the auth token on both channels.
func (t *RemoteClient) SetToken(token string) {
	t.httpClient.SetToken(token)
	t.wsClient.SetToken(token)
}

// GetToken returns the current auth token.
func (t *RemoteClient) GetToken() string {
	return t.httpClient.GetToken()
}

// Close closes all connections.
func (t *RemoteClient) Close() error {
	return t.wsClient.Close()
}
