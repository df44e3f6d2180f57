package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Balance is an exchange account balance.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Holding is a quantity of one asset held somewhere (exchange or wallet).
type Holding struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
	Source   string          `json:"source"`
}

// Snapshot is a valuation of the whole portfolio at a point in time.
type Snapshot struct {
	TakenAt     time.Time       `json:"taken_at"`
	TotalValue  decimal.Decimal `json:"total_value"`
	NetInvested decimal.Decimal `json:"net_invested"`
	Holdings    []Holding       `json:"holdings"`
}

// Side of an executed trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one executed fill recorded by the trading engine.
type Trade struct {
	ID         string
	Symbol     string
	Side       Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ExecutedAt time.Time
}

// HoldingsProvider returns the current holdings of one venue.
type HoldingsProvider interface {
	Holdings(ctx context.Context) ([]Holding, error)
}

// CombinedHoldings merges several providers, summing quantities per asset.
type CombinedHoldings []HoldingsProvider

// Holdings queries every provider; any failure aborts the merge.
func (c CombinedHoldings) Holdings(ctx context.Context) ([]Holding, error) {
	merged := make(map[string]*Holding)
	order := make([]string, 0)
	for _, provider := range c {
		if provider == nil {
			continue
		}
		items, err := provider.Holdings(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if existing, ok := merged[item.Asset]; ok {
				existing.Quantity = existing.Quantity.Add(item.Quantity)
				existing.Source = existing.Source + "+" + item.Source
				continue
			}
			copied := item
			merged[item.Asset] = &copied
			order = append(order, item.Asset)
		}
	}
	out := make([]Holding, 0, len(order))
	for _, asset := range order {
		out = append(out, *merged[asset])
	}
	return out, nil
}

// ErrorKind classifies a failed upstream call.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindClient      ErrorKind = "client_error"
	KindServer      ErrorKind = "server_error"
	KindDecode      ErrorKind = "decode"
	KindConfig      ErrorKind = "config"
)

// FetchError is the typed failure returned by every data source call.
type FetchError struct {
	Endpoint string
	Status   int
	Kind     ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (%d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError reports whether err wraps a *FetchError and returns it.
func IsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
