// Package broker defines the order-routing boundary used in live mode.
package broker

import (
	"context"
	"errors"
	"net"

	"github.com/rustyeddy/autotrader/internal/retry"
	"github.com/rustyeddy/autotrader/order"
)

var (
	ErrAuthExpired = errors.New("broker: auth expired")
	ErrRateLimited = errors.New("broker: rate limited")
	ErrUnavailable = errors.New("broker: unavailable")
	ErrRejected    = errors.New("broker: order rejected")
	ErrNotFound    = errors.New("broker: not found")
)

type PlaceRequest struct {
	ClientID string     `json:"client_id"`
	Symbol   string     `json:"symbol"`
	Side     order.Side `json:"side"`
	Kind     order.Kind `json:"type"`
	Qty      float64    `json:"qty"`
	Price    float64    `json:"price,omitempty"` // limit or stop level
}

type OrderStatus struct {
	ID         string       `json:"id"`
	Status     order.Status `json:"status"`
	FilledQty  float64      `json:"filled_qty"`
	AvgPrice   float64      `json:"avg_price"`
	Commission float64      `json:"commission"`
	Reason     string       `json:"reason,omitempty"`
}

type Holding struct {
	Symbol   string  `json:"symbol"`
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
}

type Balances struct {
	Cash        float64 `json:"cash"`
	Equity      float64 `json:"equity"`
	BuyingPower float64 `json:"buying_power"`
}

type OrderBroker interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) (string, error)
	GetOrder(ctx context.Context, id string) (OrderStatus, error)
	CancelOrder(ctx context.Context, id string) error
	GetPositions(ctx context.Context) ([]Holding, error)
	GetBalances(ctx context.Context) (Balances, error)
}

// ClientLookup is implemented by brokers that can find an order by the
// client ID it was placed under. A miss is reported as ErrNotFound.
type ClientLookup interface {
	FindOrder(ctx context.Context, clientID string) (OrderStatus, error)
}

// Refresher is implemented by brokers whose credentials expire.
type Refresher interface {
	RefreshToken(ctx context.Context) error
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// Refused reports whether a failed PlaceOrder certainly left nothing at
// the broker. Timeouts and outages are not refusals: the order may have
// been accepted before the reply was lost.
func Refused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrAuthExpired) || retry.IsPermanent(err)
}

// Policy returns base configured for b: transient errors are retried and
// an expired token is refreshed once when b supports it.
func Policy(base retry.Policy, b OrderBroker) retry.Policy {
	base.Retryable = IsTransient
	base.AuthExpired = IsAuthExpired
	if r, ok := b.(Refresher); ok {
		base.Refresh = r.RefreshToken
	}
	return base
}
