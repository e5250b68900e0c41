package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/metrics"
	"github.com/ArseniyBogdan/currency-converter-bot/internal/rates"
)

const (
	currenciesPath = "/currencies.json"
	latestPath     = "/latest.json"
)

// RatesProvider retrieves the currency directory and the latest
// pivot-relative rate table from the external source.
type RatesProvider interface {
	FetchCurrencies(ctx context.Context) (map[string]string, error)
	FetchLatest(ctx context.Context) (rates.RateTable, error)
}

// Options parameterise the OpenExchangeRates client. Metrics may be nil.
type Options struct {
	BaseURL    string
	AppID      string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	Metrics    *metrics.Metrics
}

// Client fetches from the OpenExchangeRates HTTP API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a provider client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://openexchangerates.org/api"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "rates_provider").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchCurrencies retrieves the code to display-name mapping.
func (c *Client) FetchCurrencies(ctx context.Context) (map[string]string, error) {
	currencies := make(map[string]string)
	if err := c.getJSON(ctx, currenciesPath, &currencies); err != nil {
		return nil, fmt.Errorf("fetch currencies: %w", err)
	}
	if len(currencies) == 0 {
		return nil, errors.New("provider returned empty currency list")
	}
	return currencies, nil
}

type latestResponse struct {
	Timestamp int64                      `json:"timestamp"`
	Base      string                     `json:"base"`
	Rates     map[string]decimal.Decimal `json:"rates"`
}

// FetchLatest retrieves the latest pivot-relative rate table.
func (c *Client) FetchLatest(ctx context.Context) (rates.RateTable, error) {
	var resp latestResponse
	if err := c.getJSON(ctx, latestPath, &resp); err != nil {
		return rates.RateTable{}, fmt.Errorf("fetch latest rates: %w", err)
	}
	if len(resp.Rates) == 0 {
		return rates.RateTable{}, errors.New("provider returned empty rate table")
	}

	return rates.RateTable{
		Base:      resp.Base,
		Rates:     resp.Rates,
		Timestamp: time.Unix(resp.Timestamp, 0).UTC(),
	}, nil
}

// getJSON performs one GET with bounded retry on transient failures.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			c.opts.Metrics.IncProviderRetry()
			c.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("path", path).Msg("retrying provider request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}

		err := c.fetchOnce(ctx, path, out)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("request failed after %d attempts: %w", c.opts.Retries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, path string, out any) error {
	url := fmt.Sprintf("%s%s?app_id=%s", c.baseURL, path, c.opts.AppID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// isTransient classifies retryable failures: transport errors, 5xx, and 429.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	// transport-level failures carry no status
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

var _ RatesProvider = (*Client)(nil)
