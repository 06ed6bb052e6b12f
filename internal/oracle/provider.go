// Package oracle resolves USD reference prices from public spot APIs.
package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/shopspring/decimal"
)

const userAgent = "perpbot/1.0"

// Provider returns a USD price for a base asset symbol such as "BTC".
type Provider interface {
	Name() string
	Price(ctx context.Context, asset string) (float64, error)
}

// BaseAsset extracts the base asset from a market symbol:
// "btc_usd" and "BTC-USD" both yield "BTC".
func BaseAsset(symbol string) string {
	s := strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(symbol)), "_", "-")
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// httpGetter is the GET helper shared by the provider clients.
type httpGetter struct {
	baseURL    string
	httpClient *http.Client
}

func newHTTPGetter(baseURL string) httpGetter {
	return httpGetter{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (g httpGetter) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// parsePrice parses a decimal string and rejects non-positive values.
func parsePrice(raw string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidPrice, d)
	}
	return d.InexactFloat64(), nil
}
