package blockchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// Fee estimation errors
var (
	ErrGasPriceTooHigh = errors.New("gas price exceeds maximum")
	ErrGasLimitTooHigh = errors.New("gas limit exceeds maximum")
)

// FeeBackend is the subset of the chain client used for fee estimation.
type FeeBackend interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// FeeEstimatorConfig is the configuration for the fee estimator.
type FeeEstimatorConfig struct {
	// MaxGasPrice is the maximum gas price (or fee cap) in wei.
	MaxGasPrice *big.Int
	// MaxGasLimit is the maximum gas limit.
	MaxGasLimit uint64
	// GasLimitMultiplier is the safety buffer applied to estimated gas (1.2 = 20%).
	GasLimitMultiplier float64
	// CacheTTL is the time-to-live for cached fee data.
	CacheTTL time.Duration
}

// FeeQuote is the gas limit and pricing for one transaction.
type FeeQuote struct {
	GasLimit uint64
	// Legacy gas price, set when the chain has no base fee.
	GasPrice *big.Int
	// EIP-1559 fields.
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// IsEIP1559 reports whether the quote carries dynamic fee fields.
func (q *FeeQuote) IsEIP1559() bool {
	return q.GasFeeCap != nil
}

type feeData struct {
	gasPrice  *big.Int
	gasTipCap *big.Int
	gasFeeCap *big.Int
	fetchedAt time.Time
}

// FeeEstimator prices transactions sent by the injected wallet.
type FeeEstimator struct {
	cfg     FeeEstimatorConfig
	backend FeeBackend

	mu     sync.RWMutex
	cached *feeData
}

// NewFeeEstimator creates a new fee estimator.
func NewFeeEstimator(cfg FeeEstimatorConfig, backend FeeBackend) *FeeEstimator {
	if cfg.MaxGasPrice == nil {
		cfg.MaxGasPrice = big.NewInt(500e9) // 500 Gwei
	}
	if cfg.MaxGasLimit == 0 {
		cfg.MaxGasLimit = 10_000_000
	}
	if cfg.GasLimitMultiplier == 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 12 * time.Second // ~1 block on Ethereum
	}
	return &FeeEstimator{cfg: cfg, backend: backend}
}

// Quote estimates gas for msg and attaches current pricing.
func (e *FeeEstimator) Quote(ctx context.Context, msg ethereum.CallMsg) (*FeeQuote, error) {
	gas, err := e.backend.EstimateGas(ctx, msg)
	if err != nil {
		return nil, err
	}

	gasLimit := uint64(float64(gas) * e.cfg.GasLimitMultiplier)
	if gasLimit > e.cfg.MaxGasLimit {
		return nil, ErrGasLimitTooHigh
	}

	fees, err := e.fees(ctx)
	if err != nil {
		return nil, err
	}

	quote := &FeeQuote{GasLimit: gasLimit}
	if fees.gasFeeCap != nil {
		quote.GasTipCap = new(big.Int).Set(fees.gasTipCap)
		quote.GasFeeCap = new(big.Int).Set(fees.gasFeeCap)
	} else {
		quote.GasPrice = new(big.Int).Set(fees.gasPrice)
	}
	return quote, nil
}

// InvalidateCache drops cached fee data.
func (e *FeeEstimator) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.mu.Unlock()
}

func (e *FeeEstimator) fees(ctx context.Context) (*feeData, error) {
	e.mu.RLock()
	if e.cached != nil && time.Since(e.cached.fetchedAt) < e.cfg.CacheTTL {
		cached := e.cached
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	data := &feeData{fetchedAt: time.Now()}

	// Prefer EIP-1559 when the latest header carries a base fee.
	header, err := e.backend.HeaderByNumber(ctx, nil)
	if err == nil && header != nil && header.BaseFee != nil {
		tip, err := e.backend.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, err
		}
		// fee cap = 2 * base fee + tip
		feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		if feeCap.Cmp(e.cfg.MaxGasPrice) > 0 {
			return nil, ErrGasPriceTooHigh
		}
		data.gasTipCap = tip
		data.gasFeeCap = feeCap
	} else {
		price, err := e.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		if price.Cmp(e.cfg.MaxGasPrice) > 0 {
			return nil, ErrGasPriceTooHigh
		}
		data.gasPrice = price
	}

	e.mu.Lock()
	e.cached = data
	e.mu.Unlock()

	return data, nil
}
