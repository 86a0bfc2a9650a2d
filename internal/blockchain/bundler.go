package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	ErrUserOpNotFound     = errors.New("user operation not found")
	ErrEntryPointMismatch = errors.New("entry point not supported by bundler")
	ErrUserOpWaitTimeout  = errors.New("timed out waiting for user operation")
)

// BundlerConfig Bundler 客户端配置
type BundlerConfig struct {
	URL          string
	EntryPoint   string
	PollInterval time.Duration
}

// BundlerClient ERC-4337 bundler JSON-RPC 客户端
type BundlerClient struct {
	rpc          *rpc.Client
	entryPoint   common.Address
	pollInterval time.Duration
}

// DialBundler 连接 bundler
func DialBundler(ctx context.Context, cfg *BundlerConfig) (*BundlerClient, error) {
	if !common.IsHexAddress(cfg.EntryPoint) {
		return nil, fmt.Errorf("invalid entry point address %q", cfg.EntryPoint)
	}
	c, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	return NewBundlerClient(c, common.HexToAddress(cfg.EntryPoint), cfg.PollInterval), nil
}

// NewBundlerClient 基于已有 rpc 连接创建客户端
func NewBundlerClient(c *rpc.Client, entryPoint common.Address, pollInterval time.Duration) *BundlerClient {
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	return &BundlerClient{
		rpc:          c,
		entryPoint:   entryPoint,
		pollInterval: pollInterval,
	}
}

// EntryPoint 返回使用的 EntryPoint 地址
func (b *BundlerClient) EntryPoint() common.Address {
	return b.entryPoint
}

// ChainID 返回 bundler 所在链 ID
func (b *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := b.rpc.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return id.ToInt(), nil
}

// CheckEntryPoint 确认 bundler 支持配置的 EntryPoint
func (b *BundlerClient) CheckEntryPoint(ctx context.Context) error {
	var supported []common.Address
	if err := b.rpc.CallContext(ctx, &supported, "eth_supportedEntryPoints"); err != nil {
		return err
	}
	for _, ep := range supported {
		if ep == b.entryPoint {
			return nil
		}
	}
	return ErrEntryPointMismatch
}

// SendUserOperation 提交用户操作，返回用户操作哈希
func (b *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation) (common.Hash, error) {
	var hash common.Hash
	err := b.rpc.CallContext(ctx, &hash, "eth_sendUserOperation", op, b.entryPoint)
	return hash, err
}

// GetUserOperationReceipt 查询用户操作回执，尚未打包时返回 ErrUserOpNotFound
func (b *BundlerClient) GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := b.rpc.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", opHash); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrUserOpNotFound
	}
	return receipt, nil
}

// WaitForUserOperationReceipt 轮询直到回执出现或 ctx 结束
func (b *BundlerClient) WaitForUserOperationReceipt(ctx context.Context, opHash common.Hash) (*UserOperationReceipt, error) {
	for {
		receipt, err := b.GetUserOperationReceipt(ctx, opHash)
		if err == nil {
			return receipt, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserOpWaitTimeout, ctx.Err())
		}
		if !errors.Is(err, ErrUserOpNotFound) {
			return nil, err
		}
		if err := sleepCtx(ctx, b.pollInterval); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserOpWaitTimeout, err)
		}
	}
}

// Close 关闭连接
func (b *BundlerClient) Close() {
	b.rpc.Close()
}
