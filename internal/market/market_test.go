package market

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func noopLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestClientKlinesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != klinesPath {
			t.Errorf("意外路径 %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "BTCUSDT" || r.URL.Query().Get("interval") != "1h" {
			t.Errorf("查询参数错误: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([][]any{
			{1700000000000, "100.0", "110.0", "95.0", "105.0", "12.5", 1700003599999},
			{1700003600000, "105.0", "108.0", "101.0", "107.0", "8.0", 1700007199999},
		})
	}))
	defer srv.Close()

	calls := NewCallLog(10)
	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, calls, noopLogger())

	klines, err := c.Klines(context.Background(), "BTCUSDT", "1h", 2)
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("期望 2 根 K 线, 实际 %d", len(klines))
	}
	if klines[1].Close != 107 || klines[0].High != 110 || klines[0].Volume != 12.5 {
		t.Fatalf("K 线解析错误: %+v", klines)
	}
	if !klines[0].OpenTime.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("开盘时间解析错误: %s", klines[0].OpenTime)
	}

	recs := calls.Since(time.Time{})
	if len(recs) != 1 || !recs[0].Success || recs[0].Endpoint != klinesPath {
		t.Fatalf("调用记录错误: %+v", recs)
	}
}

func TestClientClassifiesHTTPErrors(t *testing.T) {
	cases := map[int]ErrorKind{
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusUnauthorized:        KindAuth,
		http.StatusBadRequest:          KindClient,
		http.StatusInternalServerError: KindServer,
	}
	for status, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": -1121, "msg": "Invalid symbol."})
		}))

		calls := NewCallLog(10)
		c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, calls, noopLogger())
		_, err := c.Price(context.Background(), "NOPE")
		srv.Close()

		fe, ok := IsFetchError(err)
		if !ok {
			t.Fatalf("HTTP %d 应返回 FetchError, 实际 %v", status, err)
		}
		if fe.Kind != want || fe.Status != status {
			t.Fatalf("HTTP %d 分类错误: %s", status, fe.Kind)
		}
		recs := calls.Since(time.Time{})
		if len(recs) != 1 || recs[0].Success || recs[0].Kind != want {
			t.Fatalf("失败调用应被记录: %+v", recs)
		}
	}
}

func TestClientPriceDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"symbol": "BTCUSDT", "price": "abc"})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, Timeout: time.Second}, nil, noopLogger())
	_, err := c.Price(context.Background(), "BTCUSDT")
	fe, ok := IsFetchError(err)
	if !ok || fe.Kind != KindDecode {
		t.Fatalf("非法价格应返回 decode 错误, 实际 %v", err)
	}
}

func TestClientBalancesSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("缺少 API key 头")
		}
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("timestamp") == "" {
			t.Errorf("签名请求缺少参数: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balances": []map[string]string{
				{"asset": "BTC", "free": "0.5", "locked": "0.25"},
				{"asset": "DOGE", "free": "0", "locked": "0"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second}, nil, noopLogger())
	holdings, err := c.Holdings(context.Background())
	if err != nil {
		t.Fatalf("签名请求失败: %v", err)
	}
	if len(holdings) != 1 {
		t.Fatalf("零余额应被过滤: %+v", holdings)
	}
	if !holdings[0].Quantity.Equal(decimal.RequireFromString("0.75")) {
		t.Fatalf("数量应为 free+locked, 实际 %s", holdings[0].Quantity)
	}
}

func TestClientBalancesRequireCredentials(t *testing.T) {
	c := NewClient(ClientOptions{BaseURL: "http://127.0.0.1:1"}, nil, noopLogger())
	_, err := c.Balances(context.Background())
	fe, ok := IsFetchError(err)
	if !ok || fe.Kind != KindConfig {
		t.Fatalf("缺少凭据应返回 config 错误, 实际 %v", err)
	}
}

func TestClientTradesParsesFills(t *testing.T) {
	since := time.UnixMilli(1700000000000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tradesPath {
			t.Errorf("意外路径 %s", r.URL.Path)
		}
		if r.URL.Query().Get("startTime") != "1700000000000" {
			t.Errorf("startTime 参数错误: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": 7, "symbol": "ETHUSDT", "price": "2000.5", "qty": "0.1", "time": 1700000100000, "isBuyer": true},
			{"id": 8, "symbol": "ETHUSDT", "price": "2010", "qty": "0.1", "time": 1700000200000, "isBuyer": false},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{BaseURL: srv.URL, APIKey: "key", APISecret: "secret", Timeout: time.Second}, nil, noopLogger())
	trades, err := c.Trades(context.Background(), "ETHUSDT", since)
	if err != nil {
		t.Fatalf("成交查询失败: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("期望 2 笔成交, 实际 %d", len(trades))
	}
	if trades[0].ID != "ETHUSDT-7" || trades[0].Side != SideBuy || trades[1].Side != SideSell {
		t.Fatalf("成交解析错误: %+v", trades)
	}
	if !trades[0].Price.Equal(decimal.RequireFromString("2000.5")) {
		t.Fatalf("价格解析错误: %s", trades[0].Price)
	}
	if !trades[1].ExecutedAt.Equal(time.UnixMilli(1700000200000)) {
		t.Fatalf("成交时间解析错误: %s", trades[1].ExecutedAt)
	}
}

func TestCallLogWrapsAndOrders(t *testing.T) {
	log := NewCallLog(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		log.Record(CallRecord{Endpoint: "e", At: base.Add(time.Duration(i) * time.Minute)})
	}
	if log.Len() != 3 {
		t.Fatalf("容量应为 3, 实际 %d", log.Len())
	}
	recs := log.Since(time.Time{})
	if len(recs) != 3 || !recs[0].At.Equal(base.Add(2*time.Minute)) || !recs[2].At.Equal(base.Add(4*time.Minute)) {
		t.Fatalf("环形缓冲顺序错误: %+v", recs)
	}
	if got := log.Since(base.Add(3 * time.Minute)); len(got) != 2 {
		t.Fatalf("Since 过滤错误: %d", len(got))
	}
}

type staticHoldings []Holding

func (s staticHoldings) Holdings(context.Context) ([]Holding, error) { return s, nil }

func TestCombinedHoldingsMerges(t *testing.T) {
	combined := CombinedHoldings{
		staticHoldings{{Asset: "ETH", Quantity: decimal.NewFromInt(1), Source: "exchange"}},
		nil,
		staticHoldings{{Asset: "ETH", Quantity: decimal.NewFromInt(2), Source: "wallet"}, {Asset: "USDC", Quantity: decimal.NewFromInt(5), Source: "wallet"}},
	}
	out, err := combined.Holdings(context.Background())
	if err != nil {
		t.Fatalf("合并失败: %v", err)
	}
	if len(out) != 2 || out[0].Asset != "ETH" || !out[0].Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("合并结果错误: %+v", out)
	}
	if out[0].Source != "exchange+wallet" {
		t.Fatalf("来源合并错误: %s", out[0].Source)
	}
}

func TestOnchainMissingConfig(t *testing.T) {
	calls := NewCallLog(4)
	o := NewOnchain(OnchainOptions{}, calls, noopLogger())
	if _, err := o.Holdings(context.Background()); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	o = NewOnchain(OnchainOptions{RPCURL: "http://localhost", WalletAddress: "nope"}, calls, noopLogger())
	if _, err := o.Holdings(context.Background()); err == nil {
		t.Fatal("非法钱包地址应报错")
	}
	if calls.Len() != 2 {
		t.Fatalf("链上调用应被记录, 实际 %d", calls.Len())
	}
}
