package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	erc20ABIJSON = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	onchainEndpoint = "eth_rpc"
	nativeDecimals  = 18
)

var (
	erc20ABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// Token is an ERC-20 contract tracked in the wallet.
type Token struct {
	Symbol   string
	Address  string
	Decimals int32
}

// OnchainOptions parameterise the wallet reader.
type OnchainOptions struct {
	RPCURL        string
	WalletAddress string
	NativeSymbol  string
	Tokens        []Token
	Timeout       time.Duration
}

// Onchain reads wallet balances over Ethereum JSON-RPC.
type Onchain struct {
	opts      OnchainOptions
	logger    zerolog.Logger
	calls     *CallLog
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewOnchain builds a wallet reader. calls may be nil.
func NewOnchain(opts OnchainOptions, calls *CallLog, logger zerolog.Logger) *Onchain {
	if opts.NativeSymbol == "" {
		opts.NativeSymbol = "ETH"
	}
	return &Onchain{opts: opts, calls: calls, logger: logger.With().Str("component", "onchain_holdings").Logger()}
}

// Holdings returns the native balance plus every configured token with a non-zero balance.
func (o *Onchain) Holdings(ctx context.Context) ([]Holding, error) {
	start := time.Now()
	out, err := o.holdings(ctx)
	if o.calls != nil {
		rec := CallRecord{Endpoint: onchainEndpoint, At: start.UTC(), Success: err == nil, Latency: time.Since(start)}
		if fe, ok := IsFetchError(err); ok {
			rec.Kind = fe.Kind
		}
		o.calls.Record(rec)
	}
	return out, err
}

func (o *Onchain) holdings(ctx context.Context) ([]Holding, error) {
	if o.opts.RPCURL == "" {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindConfig, Err: errors.New("ethereum rpc url not configured")}
	}
	if !common.IsHexAddress(o.opts.WalletAddress) {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindConfig, Err: fmt.Errorf("invalid wallet address %q", o.opts.WalletAddress)}
	}

	timeout := o.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := o.getClient(ctx)
	if err != nil {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindNetwork, Err: err}
	}

	wallet := common.HexToAddress(o.opts.WalletAddress)
	out := make([]Holding, 0, len(o.opts.Tokens)+1)

	native, err := client.BalanceAt(ctx, wallet, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: classifyTransport(ctx, err), Err: err}
	}
	if native.Sign() > 0 {
		out = append(out, Holding{Asset: o.opts.NativeSymbol, Quantity: decimal.NewFromBigInt(native, -nativeDecimals), Source: "wallet"})
	}

	for _, token := range o.opts.Tokens {
		balance, err := tokenBalance(ctx, client, token, wallet)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		out = append(out, Holding{Asset: token.Symbol, Quantity: decimal.NewFromBigInt(balance, -token.Decimals), Source: "wallet"})
	}
	return out, nil
}

func tokenBalance(ctx context.Context, client *ethclient.Client, token Token, wallet common.Address) (*big.Int, error) {
	if !common.IsHexAddress(token.Address) {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindConfig, Err: fmt.Errorf("invalid token address for %s", token.Symbol)}
	}
	addr := common.HexToAddress(token.Address)

	payload, err := erc20ABI.Pack("balanceOf", wallet)
	if err != nil {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindConfig, Err: err}
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: classifyTransport(ctx, err), Err: err}
	}

	outputs, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindDecode, Err: err}
	}
	if len(outputs) != 1 {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindDecode, Err: errors.New("unexpected balanceOf response")}
	}
	balance, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, &FetchError{Endpoint: onchainEndpoint, Kind: KindDecode, Err: errors.New("failed to decode balanceOf output")}
	}
	return balance, nil
}

func (o *Onchain) getClient(ctx context.Context) (*ethclient.Client, error) {
	o.clientMux.Lock()
	defer o.clientMux.Unlock()

	if o.client != nil {
		return o.client, nil
	}

	client, err := ethclient.DialContext(ctx, o.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	o.client = client
	return client, nil
}

var _ HoldingsProvider = (*Onchain)(nil)
