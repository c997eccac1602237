// Package rest is an OrderBroker over a JSON brokerage API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
)

// Client talks to:
//
//	POST   /v1/orders          PlaceRequest -> {"id": "..."}
//	GET    /v1/orders/{id}     -> OrderStatus
//	GET    /v1/orders?client_id={client_id} -> OrderStatus
//	DELETE /v1/orders/{id}
//	GET    /v1/positions       -> {"positions": [Holding]}
//	GET    /v1/balances        -> Balances
//	POST   /v1/oauth/token     {"refresh_token": "..."} -> {"access_token": "...", "refresh_token": "..."}
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu           sync.Mutex
	token        string
	refreshToken string
}

func NewClient(baseURL, token, refreshToken string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		token:        token,
		refreshToken: refreshToken,
	}
}

func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	path, query, _ := strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	msg := strings.TrimSpace(string(b))

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		sentinel = broker.ErrAuthExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		sentinel = broker.ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		sentinel = broker.ErrNotFound
	case resp.StatusCode >= 500:
		sentinel = broker.ErrUnavailable
	default:
		sentinel = broker.ErrRejected
	}
	return fmt.Errorf("%w: http %d: %s", sentinel, resp.StatusCode, msg)
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.PlaceRequest) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty order id", broker.ErrRejected)
	}
	return out.ID, nil
}

func (c *Client) GetOrder(ctx context.Context, id string) (broker.OrderStatus, error) {
	var out broker.OrderStatus
	err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(id), nil, &out)
	return out, err
}

// FindOrder looks an order up by the client ID it was placed under.
func (c *Client) FindOrder(ctx context.Context, clientID string) (broker.OrderStatus, error) {
	var out broker.OrderStatus
	q := url.Values{"client_id": {clientID}}
	err := c.do(ctx, http.MethodGet, "/v1/orders?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Holding, error) {
	var out struct {
		Positions []broker.Holding `json:"positions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/positions", nil, &out); err != nil {
		return nil, err
	}
	for i := range out.Positions {
		out.Positions[i].Symbol = strings.ToUpper(out.Positions[i].Symbol)
	}
	return out.Positions, nil
}

func (c *Client) GetBalances(ctx context.Context) (broker.Balances, error) {
	var out broker.Balances
	err := c.do(ctx, http.MethodGet, "/v1/balances", nil, &out)
	return out, err
}

// RefreshToken exchanges the refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context) error {
	c.mu.Lock()
	rt := c.refreshToken
	c.mu.Unlock()
	if rt == "" {
		return fmt.Errorf("%w: no refresh token configured", broker.ErrAuthExpired)
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	body := map[string]string{"refresh_token": rt}
	if err := c.do(ctx, http.MethodPost, "/v1/oauth/token", body, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: refresh returned no access token", broker.ErrAuthExpired)
	}

	c.mu.Lock()
	c.token = out.AccessToken
	if out.RefreshToken != "" {
		c.refreshToken = out.RefreshToken
	}
	c.mu.Unlock()
	return nil
}

var (
	_ broker.OrderBroker  = (*Client)(nil)
	_ broker.Refresher    = (*Client)(nil)
	_ broker.ClientLookup = (*Client)(nil)
)
