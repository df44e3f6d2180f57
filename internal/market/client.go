package market

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	klinesPath  = "/api/v3/klines"
	pricePath   = "/api/v3/ticker/price"
	accountPath = "/api/v3/account"
	tradesPath  = "/api/v3/myTrades"
)

// ClientOptions parameterise the exchange REST client.
type ClientOptions struct {
	BaseURL           string
	APIKey            string
	APISecret         string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client fetches market and account data from a Binance-compatible REST API.
// Every call is paced by a token bucket and recorded in the call log.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	calls   *CallLog
	baseURL string
}

// NewClient constructs an exchange client recording outcomes into calls.
func NewClient(opts ClientOptions, calls *CallLog, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	if calls == nil {
		calls = NewCallLog(0)
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "exchange_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		calls:   calls,
		baseURL: baseURL,
	}
}

// Calls exposes the call log for the API error detector.
func (c *Client) Calls() *CallLog {
	return c.calls
}

// Klines returns up to limit candles of the given interval, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var rows [][]any
	if err := c.do(ctx, klinesPath, params, false, &rows); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(rows))
	for _, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, &FetchError{Endpoint: klinesPath, Kind: KindDecode, Err: err}
		}
		out = append(out, k)
	}
	return out, nil
}

// Price returns the last traded price of symbol.
func (c *Client) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var res struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.do(ctx, pricePath, params, false, &res); err != nil {
		return decimal.Decimal{}, err
	}
	price, err := decimal.NewFromString(res.Price)
	if err != nil {
		return decimal.Decimal{}, &FetchError{Endpoint: pricePath, Kind: KindDecode, Err: fmt.Errorf("parse price: %w", err)}
	}
	return price, nil
}

// Balances returns the non-zero account balances. Requires API credentials.
func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	if c.opts.APIKey == "" || c.opts.APISecret == "" {
		return nil, &FetchError{Endpoint: accountPath, Kind: KindConfig, Err: errors.New("api key and secret required")}
	}

	var res struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.do(ctx, accountPath, url.Values{}, true, &res); err != nil {
		return nil, err
	}

	out := make([]Balance, 0, len(res.Balances))
	for _, b := range res.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, &FetchError{Endpoint: accountPath, Kind: KindDecode, Err: fmt.Errorf("parse free %s: %w", b.Asset, err)}
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, &FetchError{Endpoint: accountPath, Kind: KindDecode, Err: fmt.Errorf("parse locked %s: %w", b.Asset, err)}
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out = append(out, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// Holdings adapts Balances to the HoldingsProvider contract.
func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	balances, err := c.Balances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Holding, 0, len(balances))
	for _, b := range balances {
		out = append(out, Holding{Asset: b.Asset, Quantity: b.Free.Add(b.Locked), Source: "exchange"})
	}
	return out, nil
}

// Trades returns the account's fills on symbol executed at or after since,
// oldest first. Requires API credentials.
func (c *Client) Trades(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	if c.opts.APIKey == "" || c.opts.APISecret == "" {
		return nil, &FetchError{Endpoint: tradesPath, Kind: KindConfig, Err: errors.New("api key and secret required")}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	params.Set("limit", "1000")

	var rows []struct {
		ID      int64  `json:"id"`
		Symbol  string `json:"symbol"`
		Price   string `json:"price"`
		Qty     string `json:"qty"`
		Time    int64  `json:"time"`
		IsBuyer bool   `json:"isBuyer"`
	}
	if err := c.do(ctx, tradesPath, params, true, &rows); err != nil {
		return nil, err
	}

	out := make([]Trade, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return nil, &FetchError{Endpoint: tradesPath, Kind: KindDecode, Err: fmt.Errorf("parse price %d: %w", row.ID, err)}
		}
		qty, err := decimal.NewFromString(row.Qty)
		if err != nil {
			return nil, &FetchError{Endpoint: tradesPath, Kind: KindDecode, Err: fmt.Errorf("parse qty %d: %w", row.ID, err)}
		}
		side := SideSell
		if row.IsBuyer {
			side = SideBuy
		}
		out = append(out, Trade{
			ID:         row.Symbol + "-" + strconv.FormatInt(row.ID, 10),
			Symbol:     row.Symbol,
			Side:       side,
			Price:      price,
			Quantity:   qty,
			ExecutedAt: time.UnixMilli(row.Time).UTC(),
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values, signed bool, out any) error {
	start := time.Now()
	rec := CallRecord{Endpoint: endpoint, At: start.UTC()}

	err := c.send(ctx, endpoint, params, signed, out)

	rec.Latency = time.Since(start)
	rec.Success = err == nil
	if fe, ok := IsFetchError(err); ok {
		rec.Kind = fe.Kind
		rec.Status = fe.Status
	}
	c.calls.Record(rec)

	if err != nil {
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Dur("latency", rec.Latency).Msg("exchange call failed")
	}
	return err
}

func (c *Client) send(ctx context.Context, endpoint string, params url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &FetchError{Endpoint: endpoint, Kind: KindTimeout, Err: err}
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		mac := hmac.New(sha256.New, []byte(c.opts.APISecret))
		mac.Write([]byte(params.Encode()))
		params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	}

	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Kind: KindConfig, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "tradewatch/1.0")
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Kind: classifyTransport(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &FetchError{Endpoint: endpoint, Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &FetchError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Kind:     classifyStatus(resp.StatusCode),
			Err:      parseAPIError(payload),
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return &FetchError{Endpoint: endpoint, Kind: KindDecode, Err: err}
	}
	return nil
}

func classifyTransport(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func parseAPIError(payload []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("exchange error %d: %s", apiErr.Code, apiErr.Msg)
	}
	if body := strings.TrimSpace(string(payload)); body != "" {
		return fmt.Errorf("exchange error: %s", body)
	}
	return errors.New("exchange error: empty body")
}

func parseKline(row []any) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	openMs, err := numberField(row[0])
	if err != nil {
		return Kline{}, fmt.Errorf("open time: %w", err)
	}
	closeMs, err := numberField(row[6])
	if err != nil {
		return Kline{}, fmt.Errorf("close time: %w", err)
	}

	values := make([]float64, 5)
	for i := range values {
		v, err := numberField(row[i+1])
		if err != nil {
			return Kline{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = v
	}

	return Kline{
		OpenTime:  time.UnixMilli(int64(openMs)).UTC(),
		CloseTime: time.UnixMilli(int64(closeMs)).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func numberField(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

var _ HoldingsProvider = (*Client)(nil)
