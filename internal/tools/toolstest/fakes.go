// Package toolstest provides deterministic fake upstreams for the default
// tool set, used by internal/tools tests so they don't depend on any real
// network collaborator.
package toolstest

import (
	"context"
	"errors"

	"github.com/ashureev/convo-gateway/internal/gatewayerr"
)

// FakeGasPrices returns a fixed gas-price payload, or an injected error,
// counting every call so tests can assert cache shielding.
type FakeGasPrices struct {
	Err   error
	Calls int
}

func (f *FakeGasPrices) GasPrices(_ context.Context, network, transactionType string, includeUSDCosts bool) (any, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return map[string]any{
		"network":         network,
		"transactionType": transactionType,
		"gwei":            float64(25),
		"includeUSDCosts": includeUSDCosts,
	}, nil
}

// FakeCryptoPrices returns a fixed price payload, or an injected error.
type FakeCryptoPrices struct {
	Err error
}

func (f *FakeCryptoPrices) CryptoPrice(_ context.Context, symbol, currency string, includeMarketData bool) (any, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return map[string]any{
		"symbol":            symbol,
		"currency":          currency,
		"price":             float64(1234.56),
		"includeMarketData": includeMarketData,
	}, nil
}

// FakeLendingRates returns a fixed rates payload, or an injected error.
type FakeLendingRates struct {
	Err error
}

func (f *FakeLendingRates) LendingRates(_ context.Context, token string, protocols []string, includeUtilization bool) (any, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return map[string]any{
		"token":     token,
		"protocols": protocols,
		"apy":       float64(3.2),
	}, nil
}

// FakeTokenBalance returns a fixed balance payload, or an injected error.
type FakeTokenBalance struct {
	Err error
}

func (f *FakeTokenBalance) TokenBalance(_ context.Context, address, network, tokenAddress string, includeUSDValues bool) (any, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return map[string]any{
		"address": address,
		"network": network,
		"balance": "1.5",
	}, nil
}

// RetryableThenSucceed fails with a retryable error the first n calls,
// then succeeds, for exercising the executor's retry loop.
type RetryableThenSucceed struct {
	FailCount int
	calls     int
}

func (r *RetryableThenSucceed) GasPrices(_ context.Context, network, _ string, _ bool) (any, error) {
	r.calls++
	if r.calls <= r.FailCount {
		return nil, gatewayerr.New(gatewayerr.CodeNetwork, "transient upstream failure", errors.New("dial timeout"))
	}
	return map[string]any{"network": network, "gwei": float64(20)}, nil
}
