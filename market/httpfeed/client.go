// Package httpfeed reads quotes from a JSON-over-HTTP quote service.
package httpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/market"
)

var ErrUnauthorized = errors.New("httpfeed: unauthorized")

// Client calls GET {BaseURL}/quotes?symbols=A,B and expects
//
//	{"quotes":[{"symbol":"A","bid":1,"ask":1.1,"last":1.05,"volume":10,"time":"RFC3339"}]}
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.httpClient = h
	return c
}

type quotesResponse struct {
	Quotes []market.Quote `json:"quotes"`
}

func (c *Client) GetQuotes(ctx context.Context, symbols []string) (map[string]market.Quote, error) {
	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	endpoint := c.baseURL + "/quotes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("httpfeed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out quotesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpfeed: decode: %w", err)
	}

	quotes := make(map[string]market.Quote, len(out.Quotes))
	for _, mq := range out.Quotes {
		if mq.Symbol == "" {
			continue
		}
		mq.Symbol = strings.ToUpper(mq.Symbol)
		quotes[mq.Symbol] = mq
	}
	return quotes, nil
}
