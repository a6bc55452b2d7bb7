package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/convo-gateway/internal/cache"
)

// Upstreams bundles the external collaborators the four default tools
// delegate to. Concrete REST/RPC clients for these are out of scope; a
// deterministic fake set lives in tools/toolstest for use in tests.
type Upstreams struct {
	GasPrices     GasPriceUpstream
	CryptoPrices  CryptoPriceUpstream
	LendingRates  LendingRateUpstream
	TokenBalances TokenBalanceUpstream
}

// GasPriceUpstream fetches network gas price data.
type GasPriceUpstream interface {
	GasPrices(ctx context.Context, network, transactionType string, includeUSDCosts bool) (any, error)
}

// CryptoPriceUpstream fetches spot price data for a token symbol.
type CryptoPriceUpstream interface {
	CryptoPrice(ctx context.Context, symbol, currency string, includeMarketData bool) (any, error)
}

// LendingRateUpstream fetches lending/borrow rates across protocols.
type LendingRateUpstream interface {
	LendingRates(ctx context.Context, token string, protocols []string, includeUtilization bool) (any, error)
}

// TokenBalanceUpstream fetches a wallet's token balance.
type TokenBalanceUpstream interface {
	TokenBalance(ctx context.Context, address, network, tokenAddress string, includeUSDValues bool) (any, error)
}

// NamespaceCache is the slice of the cache manager the default tools use
// to shield upstreams behind their domain namespaces.
type NamespaceCache interface {
	Get(namespace, key string) (any, bool)
	Set(namespace, key string, value any, base time.Duration, sctx cache.StrategyContext)
}

// Supported enum values, normative per the wire contract.
var (
	SupportedNetworks        = []string{"ethereum", "polygon", "bsc", "arbitrum", "optimism"}
	SupportedTransactionType = []string{"transfer", "swap", "contract_interaction"}
	SupportedCurrencies      = []string{"USD", "EUR", "GBP"}
	SupportedSymbols         = []string{"BTC", "ETH", "USDC", "USDT", "SOL", "MATIC", "LINK", "UNI"}
	SupportedLendingTokens   = []string{"ETH", "DAI", "USDC", "USDT", "WBTC", "UNI", "LINK", "AAVE", "COMP"}
	SupportedProtocols       = []string{"aave", "compound"}
)

var ethAddressPattern = `^0x[a-fA-F0-9]{40}$`

// cachedFetch answers from the namespace cache when it can, otherwise
// calls fetch and caches a successful result under the namespace's
// default TTL and strategy.
func cachedFetch(dc NamespaceCache, namespace, key string, fetch func() (any, error)) (any, error) {
	if dc != nil {
		if v, ok := dc.Get(namespace, key); ok {
			return v, nil
		}
	}
	v, err := fetch()
	if err == nil && dc != nil {
		dc.Set(namespace, key, v, 0, cache.StrategyContext{})
	}
	return v, err
}

// RegisterDefaults registers the default tools backed by the given
// upstreams, each reading through its domain cache namespace. A non-empty
// enabled list restricts registration to the named tools.
func RegisterDefaults(reg *Registry, up Upstreams, dc NamespaceCache, enabled []string) error {
	defs := []Definition{
		{
			Name:        "get_gas_prices",
			Description: "Get current gas prices for a network",
			Schema: Schema{
				"network":         {Type: TypeString, Required: true, Enum: SupportedNetworks},
				"transactionType": {Type: TypeString, Required: false, Enum: SupportedTransactionType},
				"includeUSDCosts": {Type: TypeBoolean, Required: false},
			},
			Executor: func(ctx context.Context, params map[string]any) (any, error) {
				network, _ := params["network"].(string)
				txType, _ := params["transactionType"].(string)
				includeUSD, _ := params["includeUSDCosts"].(bool)
				key := fmt.Sprintf("%s:%s:%t", network, txType, includeUSD)
				return cachedFetch(dc, cache.NamespaceGasPrices, key, func() (any, error) {
					return up.GasPrices.GasPrices(ctx, network, txType, includeUSD)
				})
			},
		},
		{
			Name:        "get_crypto_price",
			Description: "Get the current price of a cryptocurrency",
			Schema: Schema{
				"symbol":            {Type: TypeString, Required: true, Enum: SupportedSymbols},
				"currency":          {Type: TypeString, Required: false, Enum: SupportedCurrencies},
				"includeMarketData": {Type: TypeBoolean, Required: false},
			},
			Executor: func(ctx context.Context, params map[string]any) (any, error) {
				symbol, _ := params["symbol"].(string)
				currency, _ := params["currency"].(string)
				includeMarket, _ := params["includeMarketData"].(bool)
				key := fmt.Sprintf("%s:%s:%t", symbol, currency, includeMarket)
				return cachedFetch(dc, cache.NamespaceCryptoPrices, key, func() (any, error) {
					return up.CryptoPrices.CryptoPrice(ctx, symbol, currency, includeMarket)
				})
			},
		},
		{
			Name:        "get_lending_rates",
			Description: "Get lending/borrowing rates for a token across protocols",
			Schema: Schema{
				"token":              {Type: TypeString, Required: true, Enum: SupportedLendingTokens},
				"protocols":          {Type: TypeArray, Required: false, Items: &ItemSpec{Type: TypeString, Enum: SupportedProtocols}},
				"includeUtilization": {Type: TypeBoolean, Required: false},
			},
			Executor: func(ctx context.Context, params map[string]any) (any, error) {
				token, _ := params["token"].(string)
				var protocols []string
				if raw, ok := params["protocols"].([]any); ok {
					for _, p := range raw {
						if s, ok := p.(string); ok {
							protocols = append(protocols, s)
						}
					}
				}
				includeUtil, _ := params["includeUtilization"].(bool)
				key := fmt.Sprintf("%s:%s:%t", token, strings.Join(protocols, ","), includeUtil)
				return cachedFetch(dc, cache.NamespaceAPIResponses, key, func() (any, error) {
					return up.LendingRates.LendingRates(ctx, token, protocols, includeUtil)
				})
			},
		},
		{
			Name:        "get_token_balance",
			Description: "Get a wallet's token balance",
			Schema: Schema{
				"address":          {Type: TypeString, Required: true, Pattern: ethAddressPattern},
				"network":          {Type: TypeString, Required: true, Enum: SupportedNetworks},
				"tokenAddress":     {Type: TypeString, Required: false, Pattern: ethAddressPattern},
				"includeUSDValues": {Type: TypeBoolean, Required: false},
			},
			Executor: func(ctx context.Context, params map[string]any) (any, error) {
				address, _ := params["address"].(string)
				network, _ := params["network"].(string)
				tokenAddress, _ := params["tokenAddress"].(string)
				includeUSD, _ := params["includeUSDValues"].(bool)
				key := fmt.Sprintf("%s:%s:%s:%t", address, network, tokenAddress, includeUSD)
				return cachedFetch(dc, cache.NamespaceTokenBalances, key, func() (any, error) {
					return up.TokenBalances.TokenBalance(ctx, address, network, tokenAddress, includeUSD)
				})
			},
		},
	}

	for _, d := range defs {
		if len(enabled) > 0 && !containsString(enabled, d.Name) {
			continue
		}
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}
