package service

import (
	"context"
	"time"

	"trading-monitor/internal/market"
	"trading-monitor/internal/storage"
)

// TradeFetcher pulls executed fills from the venue.
type TradeFetcher interface {
	Trades(ctx context.Context, symbol string, since time.Time) ([]market.Trade, error)
}

type tradeSync struct {
	fetcher  TradeFetcher
	store    storage.TradeStore
	symbols  []string
	lookback time.Duration
	cursor   map[string]time.Time
}

// WithTradeSync copies fills for symbols into store before every cycle.
// The first sync of a symbol reaches back lookback.
func (s *Service) WithTradeSync(fetcher TradeFetcher, store storage.TradeStore, symbols []string, lookback time.Duration) *Service {
	if fetcher == nil || store == nil || len(symbols) == 0 {
		return s
	}
	s.trades = &tradeSync{
		fetcher:  fetcher,
		store:    store,
		symbols:  symbols,
		lookback: lookback,
		cursor:   make(map[string]time.Time, len(symbols)),
	}
	return s
}

// syncTrades is best-effort; a failing symbol keeps its cursor and is
// retried on the next tick.
func (s *Service) syncTrades(ctx context.Context, tick time.Time) {
	ts := s.trades
	if ts == nil {
		return
	}
	for _, symbol := range ts.symbols {
		since, ok := ts.cursor[symbol]
		if !ok {
			since = tick.Add(-ts.lookback)
		}
		fills, err := ts.fetcher.Trades(ctx, symbol, since)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("trade sync failed")
			continue
		}
		next := since
		failed := false
		for _, fill := range fills {
			if err := ts.store.InsertTrade(ctx, fill); err != nil {
				s.logger.Error().Err(err).Str("symbol", symbol).Str("trade_id", fill.ID).Msg("failed to store trade")
				failed = true
				break
			}
			if fill.ExecutedAt.After(next) {
				next = fill.ExecutedAt
			}
		}
		if failed {
			continue
		}
		ts.cursor[symbol] = next
		if len(fills) > 0 {
			s.logger.Debug().Str("symbol", symbol).Int("fills", len(fills)).Time("cursor", next).Msg("trades synced")
		}
	}
}
