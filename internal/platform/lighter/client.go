// Package lighter is a REST client for a Lighter-style perp venue: market
// listing, account nonces and signed transaction submission.
package lighter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/market"
)

// TxSigner signs the canonical JSON info of a transaction.
type TxSigner interface {
	SignTx(txType uint8, info []byte) (string, error)
}

// Config identifies the trading account.
type Config struct {
	BaseURL      string
	AccountIndex int64
	APIKeyIndex  uint8
	Timeout      time.Duration
	TxTTL        time.Duration // tx ExpiredAt offset
	OrderTTL     time.Duration // resting trigger order expiry
}

// Client is the venue REST client. Writes are signed with signer and carry
// an account nonce that is cached locally and refetched after a nonce
// rejection.
type Client struct {
	cfg        Config
	httpClient *http.Client
	signer     TxSigner
	logger     *slog.Logger
	now        func() time.Time

	nonceMu    sync.Mutex
	nextNonce  int64
	nonceValid bool
}

// New creates a venue client.
//
// cfg.BaseURL is the API root, e.g. "https://mainnet.zklighter.elliot.ai".
func New(cfg Config, signer TxSigner, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TxTTL <= 0 {
		cfg.TxTTL = 10 * time.Minute
	}
	if cfg.OrderTTL <= 0 {
		cfg.OrderTTL = 28 * 24 * time.Hour
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		signer: signer,
		logger: logger.With(slog.String("component", "lighter")),
		now:    time.Now,
	}
}

// AccountIndex returns the account this client trades for.
func (c *Client) AccountIndex() int64 {
	return c.cfg.AccountIndex
}

// ListMarkets returns the raw order book descriptors.
func (c *Client) ListMarkets(ctx context.Context) ([]market.Descriptor, error) {
	body, err := c.doGet(ctx, "/api/v1/orderBooks")
	if err != nil {
		return nil, fmt.Errorf("lighter: list markets: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var resp struct {
		APIResponse
		OrderBooks []market.Descriptor `json:"order_books"`
	}
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("lighter: decode order books: %w", err)
	}
	if resp.Code != 0 && resp.Code != codeOK {
		return nil, fmt.Errorf("lighter: list markets: %w", &VenueError{Code: resp.Code, Message: resp.Message})
	}
	return resp.OrderBooks, nil
}

// NextNonce fetches the next tx nonce for the account's API key.
func (c *Client) NextNonce(ctx context.Context) (int64, error) {
	params := url.Values{}
	params.Set("account_index", strconv.FormatInt(c.cfg.AccountIndex, 10))
	params.Set("api_key_index", strconv.Itoa(int(c.cfg.APIKeyIndex)))

	body, err := c.doGet(ctx, "/api/v1/nextNonce?"+params.Encode())
	if err != nil {
		return 0, fmt.Errorf("lighter: next nonce: %w", err)
	}

	var resp NextNonceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("lighter: decode nonce: %w", err)
	}
	if resp.Code != codeOK {
		return 0, fmt.Errorf("lighter: next nonce: %w", &VenueError{Code: resp.Code, Message: resp.Message})
	}
	return resp.Nonce, nil
}

// acquireNonce returns the nonce for the next tx and advances the cache.
func (c *Client) acquireNonce(ctx context.Context) (int64, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	if !c.nonceValid {
		n, err := c.NextNonce(ctx)
		if err != nil {
			return 0, err
		}
		c.nextNonce = n
		c.nonceValid = true
	}
	n := c.nextNonce
	c.nextNonce++
	return n, nil
}

// invalidateNonce forces the next tx to refetch its nonce.
func (c *Client) invalidateNonce() {
	c.nonceMu.Lock()
	c.nonceValid = false
	c.nonceMu.Unlock()
}

// sendTx signs info, posts it and returns the outcome. Venue rejections are
// reported in TxOutcome.Err; the error return is for transport failures.
func (c *Client) sendTx(ctx context.Context, txType uint8, info any, setSig func(string)) (domain.TxOutcome, error) {
	unsigned, err := json.Marshal(info)
	if err != nil {
		return domain.TxOutcome{}, fmt.Errorf("lighter: marshal tx: %w", err)
	}
	sig, err := c.signer.SignTx(txType, unsigned)
	if err != nil {
		return domain.TxOutcome{}, fmt.Errorf("lighter: %w: %w", domain.ErrSigningFailed, err)
	}
	setSig(sig)
	signed, err := json.Marshal(info)
	if err != nil {
		return domain.TxOutcome{}, fmt.Errorf("lighter: marshal signed tx: %w", err)
	}

	form := url.Values{}
	form.Set("tx_type", strconv.Itoa(int(txType)))
	form.Set("tx_info", string(signed))

	status, body, err := c.doPostForm(ctx, "/api/v1/sendTx", form)
	if err != nil {
		c.invalidateNonce()
		return domain.TxOutcome{}, fmt.Errorf("lighter: send tx: %w", err)
	}

	var resp SendTxResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Code == 0 {
		if httpErr := checkHTTPStatus(status, body); httpErr != nil {
			c.invalidateNonce()
			return domain.TxOutcome{}, fmt.Errorf("lighter: send tx: %w", httpErr)
		}
		// A 2xx body without the expected envelope is treated as the error.
		return domain.TxOutcome{Err: fmt.Errorf("lighter: %w: unexpected response: %s", domain.ErrSubmission, truncate(body))}, nil
	}

	if status == http.StatusUnprocessableEntity {
		c.invalidateNonce()
		return domain.TxOutcome{
			Response: resp.ToDomain(),
			Err:      fmt.Errorf("lighter: %w: %s", domain.ErrUnsupportedParams, resp.Message),
		}, nil
	}
	if resp.Code != codeOK {
		verr := &VenueError{Code: resp.Code, Message: resp.Message}
		// A rejected tx does not consume its nonce.
		c.invalidateNonce()
		return domain.TxOutcome{Response: resp.ToDomain(), Hash: resp.TxHash, Err: verr}, nil
	}
	return domain.TxOutcome{Response: resp.ToDomain(), Hash: resp.TxHash}, nil
}

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
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

// doPostForm returns the status and body without judging the status; the
// venue reports tx rejections as JSON on 4xx responses.
func (c *Client) doPostForm(ctx context.Context, path string, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := truncate(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrUnsupportedParams, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
