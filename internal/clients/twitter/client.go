// Package twitter posts status updates on behalf of configured feed accounts.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"golang.org/x/time/rate"

	"galleria/internal/domain/models"
)

// ErrTransient marks failures worth retrying later: network errors,
// rejected credentials, rate limiting, unexpected responses.
var ErrTransient = errors.New("twitter: request failed")

const maxErrorBody = 512

type Client struct {
	httpClient *http.Client
	endpoint   string
	perMinute  int
	logger     *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a client posting to endpoint. perMinute limits posts per
// feed account; zero disables limiting.
func NewClient(logger *slog.Logger, endpoint string, perMinute int, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint:  endpoint,
		perMinute: perMinute,
		logger:    logger,
		limiters:  make(map[string]*rate.Limiter),
	}
}

type postRequest struct {
	Text string `json:"text"`
}

type postResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Post publishes text with the account's credentials and returns the text
// the service reports it stored.
func (c *Client) Post(ctx context.Context, creds models.FeedCredentials, text string) (string, error) {
	if err := c.wait(ctx, creds.Username); err != nil {
		return "", fmt.Errorf("%w: rate limit wait: %w", ErrTransient, err)
	}

	body, err := json.Marshal(postRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("twitter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("twitter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Подписываем запрос OAuth1 ключами аккаунта
	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	signed := config.Client(
		context.WithValue(ctx, oauth1.HTTPClient, c.httpClient),
		oauth1.NewToken(creds.AccessToken, creds.AccessSecret),
	)
	signed.Timeout = c.httpClient.Timeout

	resp, err := signed.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrTransient, err)
	}

	c.logger.Debug("status posted",
		slog.String("username", creds.Username),
		slog.String("status_id", out.Data.ID),
	)

	return out.Data.Text, nil
}

// wait blocks until the account's limiter allows a request.
func (c *Client) wait(ctx context.Context, account string) error {
	if c.perMinute <= 0 {
		return nil
	}

	c.mu.Lock()
	l, ok := c.limiters[account]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.perMinute)), 1)
		c.limiters[account] = l
	}
	c.mu.Unlock()

	return l.Wait(ctx)
}
