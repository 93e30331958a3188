package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

// HTTPClient performs one-shot collection reads against the store API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *events.Logger

	tokenMu sync.RWMutex
	token   string

	// Retry configuration
	maxRetries int
	retryDelay time.Duration

	// nil or rate.Inf means unlimited
	limiter *rate.Limiter
}

// documentsResponse is the body of GET /v1/collections/{c}/documents.
type documentsResponse struct {
	Documents []models.Document `json:"documents"`
}

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.StoreConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	limit := rate.Inf
	burst := 0
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	return &HTTPClient{
		limiter: rate.NewLimiter(limit, burst),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// Read fetches every document of collection matching filter.
func (c *HTTPClient) Read(ctx context.Context, collection string, filter store.Filter) ([]models.Document, error) {
	endpoint := fmt.Sprintf("%s/v1/collections/%s/documents", c.baseURL, url.PathEscape(collection))
	if filter.Field != "" {
		q := url.Values{}
		q.Set("field", filter.Field)
		q.Set("value", filter.Value)
		endpoint += "?" + q.Encode()
	}

	c.logger.WithFields(map[string]interface{}{
		"collection": collection,
		"field":      filter.Field,
	}).Debug("Reading collection")

	var docs []models.Document
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &permanentError{fmt.Errorf("create request: %w", err)}
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if token := c.GetToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		if c.isRetryable(resp.StatusCode) {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server error %d: %s", resp.StatusCode, body)
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			var apiErr models.APIError
			if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
				apiErr.StatusCode = resp.StatusCode
				return &permanentError{&apiErr}
			}
			return &permanentError{fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)}
		}

		dec := json.NewDecoder(resp.Body)
		dec.UseNumber()
		var result documentsResponse
		if err := dec.Decode(&result); err != nil {
			return &permanentError{fmt.Errorf("parse response: %w", err)}
		}
		docs = result.Documents
		return nil
	})

	if err != nil {
		return nil, &models.StoreError{Op: "read", Collection: collection, Err: err}
	}

	for i := range docs {
		if docs[i].Fields == nil {
			docs[i].Fields = map[string]any{}
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"collection": collection,
		"count":      len(docs),
	}).Debug("Read collection")

	return docs, nil
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable.
func (c *HTTPClient) isRetryableError(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
