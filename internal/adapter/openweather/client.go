package openweather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotReady is returned by CheckReady when the endpoint does not answer with a 2xx.
var ErrNotReady = errors.New("weather api not ready")

// maxErrorBody bounds how much of a failed response is copied into an error.
const maxErrorBody = 512

// Client talks to the OpenWeatherMap current weather endpoint for one city.
type Client struct {
	apiKey     string
	city       string
	endpoint   string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Endpoint string
	City     string
	APIKey   string
	Timeout  time.Duration
}

// NewClient creates a weather API client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	return &Client{
		apiKey:   opts.APIKey,
		city:     opts.City,
		endpoint: opts.Endpoint,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
}

// CheckReady probes the endpoint once. It returns nil on a 2xx response and
// an error wrapping ErrNotReady otherwise.
func (c *Client) CheckReady(ctx context.Context) error {
	resp, err := c.get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrNotReady, resp.StatusCode)
	}
	return nil
}

// FetchCurrent returns the raw JSON body of the current weather for the configured city.
func (c *Client) FetchCurrent(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx)
	if err != nil {
		return nil, fmt.Errorf("current weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("weather API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	c.logger.Debug("weather api response", "city", c.city, "status", resp.StatusCode, "body", string(body))
	return body, nil
}

func (c *Client) get(ctx context.Context) (*http.Response, error) {
	params := url.Values{
		"q":     {c.city},
		"appid": {c.apiKey},
	}
	u := c.baseURL + c.endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", c.redact(err))
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.redact(err)
	}
	return resp, nil
}

// redact drops the query string, which carries the API key, from URL errors.
func (c *Client) redact(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: c.baseURL + c.endpoint, Err: ue.Err}
}
