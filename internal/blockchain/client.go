package blockchain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
)

var (
	ErrNoHealthyRPC   = errors.New("no healthy RPC endpoint available")
	ErrTxNotFound     = errors.New("transaction not found")
	ErrNoSigner       = errors.New("private key not configured")
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")
)

// RPCEndpoint RPC 端点信息
type RPCEndpoint struct {
	URL        string
	IsHealthy  bool
	ErrorCount int
	LastCheck  time.Time
}

// Client 区块链客户端，支持多端点故障转移和本地私钥签名
type Client struct {
	chainID    int64
	privateKey *ecdsa.PrivateKey
	address    common.Address

	endpoints  []*RPCEndpoint
	currentIdx int
	mu         sync.RWMutex

	client *ethclient.Client

	maxRetries      int
	retryInterval   time.Duration
	healthCheckFreq time.Duration
	pollInterval    time.Duration
}

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID         int64
	PrivateKey      string
	RPCURLs         []string
	MaxRetries      int
	RetryInterval   time.Duration
	HealthCheckFreq time.Duration
	// PollInterval 等待回执时的轮询间隔
	PollInterval time.Duration
}

// NewClient 创建区块链客户端并连接到第一个可用端点
func NewClient(cfg *ClientConfig) (*Client, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.connect(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

func newClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &Client{
		chainID:         cfg.ChainID,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		healthCheckFreq: cfg.HealthCheckFreq,
		pollInterval:    cfg.PollInterval,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.privateKey = key
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}

	c.endpoints = make([]*RPCEndpoint, len(cfg.RPCURLs))
	for i, url := range cfg.RPCURLs {
		c.endpoints[i] = &RPCEndpoint{URL: url, IsHealthy: true}
	}

	if c.maxRetries == 0 {
		c.maxRetries = 3
	}
	if c.retryInterval == 0 {
		c.retryInterval = time.Second
	}
	if c.healthCheckFreq == 0 {
		c.healthCheckFreq = 30 * time.Second
	}
	if c.pollInterval == 0 {
		c.pollInterval = 2 * time.Second
	}

	return c, nil
}

// connect 连接到可用的 RPC
func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.endpoints {
		idx := (c.currentIdx + i) % len(c.endpoints)
		ep := c.endpoints[idx]

		if !ep.IsHealthy && time.Since(ep.LastCheck) < c.healthCheckFreq {
			continue
		}

		client, err := ethclient.DialContext(ctx, ep.URL)
		if err != nil {
			c.markUnhealthy(ep)
			continue
		}

		if _, err = client.ChainID(ctx); err != nil {
			client.Close()
			c.markUnhealthy(ep)
			continue
		}

		if c.client != nil {
			c.client.Close()
		}

		c.client = client
		c.currentIdx = idx
		ep.IsHealthy = true
		ep.ErrorCount = 0
		ep.LastCheck = time.Now()
		return nil
	}

	return ErrNoHealthyRPC
}

func (c *Client) markUnhealthy(ep *RPCEndpoint) {
	ep.IsHealthy = false
	ep.ErrorCount++
	ep.LastCheck = time.Now()
	metrics.RPCFailoverTotal.Inc()
}

// getClient 获取客户端，如果不可用则尝试重连
func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client != nil {
		return client, nil
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client, nil
}

// withRetry 带重试的操作，失败时切换端点
func (c *Client) withRetry(ctx context.Context, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		client, err := c.getClient(ctx)
		if err == nil {
			err = fn(client)
			if err == nil {
				return nil
			}
			// 业务性结果不触发故障转移
			if errors.Is(err, ErrTxNotFound) || isExecutionError(err) {
				return err
			}

			c.mu.Lock()
			if c.currentIdx < len(c.endpoints) {
				c.markUnhealthy(c.endpoints[c.currentIdx])
			}
			c.mu.Unlock()
		}
		lastErr = err

		if i < c.maxRetries-1 {
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return err
			}
			c.connect(ctx)
		}
	}
	return lastErr
}

// isExecutionError 节点返回的执行错误（如 revert）重试无意义
func isExecutionError(err error) bool {
	var dataErr interface{ ErrorData() interface{} }
	return errors.As(err, &dataErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Address 返回签名账户地址
func (c *Client) Address() common.Address {
	return c.address
}

// HasSigner 是否配置了私钥
func (c *Client) HasSigner() bool {
	return c.privateKey != nil
}

// ChainID 返回期望的链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// NetworkChainID 返回当前节点所在链 ID
func (c *Client) NetworkChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		id, err = client.ChainID(ctx)
		return err
	})
	return id, err
}

// BlockNumber 获取最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var blockNum uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		blockNum, err = client.BlockNumber(ctx)
		return err
	})
	return blockNum, err
}

// HeaderByNumber 获取区块头，number 为 nil 时取最新
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	var header *types.Header
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		header, err = client.HeaderByNumber(ctx, number)
		return err
	})
	return header, err
}

// GetTransactionReceipt 获取交易回执
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		receipt, err = client.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrTxNotFound
		}
		return err
	})
	return receipt, err
}

// WaitForReceipt 轮询直到回执出现或 ctx 结束
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.GetTransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrReceiptTimeout, ctx.Err())
		}
		if !errors.Is(err, ErrTxNotFound) {
			return nil, err
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReceiptTimeout, err)
		}
	}
}

// PendingNonceAt 获取待处理 Nonce
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// SuggestGasPrice 获取建议 Gas 价格
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	return gasPrice, err
}

// SuggestGasTipCap 获取建议 Gas Tip (EIP-1559)
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	var gasTip *big.Int
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gasTip, err = client.SuggestGasTipCap(ctx)
		return err
	})
	return gasTip, err
}

// EstimateGas 估算 Gas
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// SendTransaction 发送已签名交易
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.withRetry(ctx, func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

// CallContract 只读调用合约
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, func(client *ethclient.Client) error {
		var err error
		result, err = client.CallContract(ctx, msg, blockNumber)
		return err
	})
	return result, err
}

// SignTransaction 签名交易，支持 legacy 与 EIP-1559
func (c *Client) SignTransaction(tx *types.Transaction) (*types.Transaction, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	signer := types.LatestSignerForChainID(big.NewInt(c.chainID))
	return types.SignTx(tx, signer, c.privateKey)
}

// SignDigest 对 32 字节摘要签名，返回 65 字节签名 (v = 27/28)
func (c *Client) SignDigest(digest []byte) ([]byte, error) {
	if c.privateKey == nil {
		return nil, ErrNoSigner
	}
	sig, err := crypto.Sign(digest, c.privateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Close 关闭客户端
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// GetHealthyEndpoints 获取健康的端点列表
func (c *Client) GetHealthyEndpoints() []*RPCEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var healthy []*RPCEndpoint
	for _, ep := range c.endpoints {
		if ep.IsHealthy {
			healthy = append(healthy, ep)
		}
	}
	return healthy
}
