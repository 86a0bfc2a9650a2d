package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

var ErrChainUnavailable = errors.New("requested chain is not available on the connected node")

// ChainBackend 注入式钱包依赖的链客户端能力，由 blockchain.Client 实现
type ChainBackend interface {
	Address() common.Address
	HasSigner() bool
	NetworkChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SignTransaction(tx *types.Transaction) (*types.Transaction, error)
	SignDigest(digest []byte) ([]byte, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// FeeQuoter 交易定价
type FeeQuoter interface {
	Quote(ctx context.Context, msg ethereum.CallMsg) (*blockchain.FeeQuote, error)
}

// Approver 每次签名前的用户确认，返回错误即视为拒绝
type Approver interface {
	ApproveTransaction(ctx context.Context, call ContractCall) error
	ApproveSignature(ctx context.Context, data TypedData) error
}

// InjectedWallet EOA 钱包，使用本地私钥签名并直接发送交易
type InjectedWallet struct {
	chain    ChainBackend
	fees     FeeQuoter
	approver Approver

	mu        sync.RWMutex
	chainID   int64
	connected bool
	connector model.ConnectorRef
}

// InjectedWalletConfig 注入式钱包配置
type InjectedWalletConfig struct {
	ChainID  int64
	Approver Approver
}

// NewInjectedWallet 创建注入式钱包
func NewInjectedWallet(chain ChainBackend, fees FeeQuoter, cfg InjectedWalletConfig) *InjectedWallet {
	return &InjectedWallet{
		chain:    chain,
		fees:     fees,
		approver: cfg.Approver,
		chainID:  cfg.ChainID,
	}
}

func (w *InjectedWallet) Kind() model.WalletKind {
	return model.WalletKindInjected
}

// Connect 连接签名器
func (w *InjectedWallet) Connect(ctx context.Context, connector model.ConnectorRef) (model.WalletState, error) {
	if !w.chain.HasSigner() {
		return model.WalletState{}, ErrNotConnected
	}

	w.mu.Lock()
	w.connected = true
	w.connector = connector
	w.mu.Unlock()

	logger.Info("injected wallet connected",
		logger.Account(w.chain.Address().Hex()),
		zap.String("connector", connector.ID),
	)
	return w.GetWalletState(ctx)
}

// Disconnect 断开连接
func (w *InjectedWallet) Disconnect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = false
	w.connector = model.ConnectorRef{}
	return nil
}

// SwitchChain 切换期望链，节点不在该链上时失败
func (w *InjectedWallet) SwitchChain(ctx context.Context, chainID int64) error {
	network, err := w.chain.NetworkChainID(ctx)
	if err != nil {
		return err
	}
	if network.Int64() != chainID {
		return fmt.Errorf("%w: node is on chain %d", ErrChainUnavailable, network.Int64())
	}

	w.mu.Lock()
	w.chainID = chainID
	w.mu.Unlock()
	return nil
}

// GetWalletState 未连接时返回空状态；节点链与期望链不一致时为 WRONG_CHAIN
func (w *InjectedWallet) GetWalletState(ctx context.Context) (model.WalletState, error) {
	w.mu.RLock()
	connected, connector, chainID := w.connected, w.connector, w.chainID
	w.mu.RUnlock()

	if !connected || !w.chain.HasSigner() {
		return model.EmptyWalletState(), nil
	}

	network, err := w.chain.NetworkChainID(ctx)
	if err != nil {
		return model.WalletState{}, err
	}

	status := model.WalletStatusConnected
	if network.Int64() != chainID {
		status = model.WalletStatusWrongChain
	}

	return model.NewWalletState(model.WalletStateParams{
		Account:   w.chain.Address().Hex(),
		Status:    status,
		Kind:      model.WalletKindInjected,
		Connector: &connector,
	})
}

// ReadContract 只读调用并解码返回值
func (w *InjectedWallet) ReadContract(ctx context.Context, call ContractCall) ([]interface{}, error) {
	data, err := call.Pack()
	if err != nil {
		return nil, err
	}
	to := call.Contract
	out, err := w.chain.CallContract(ctx, ethereum.CallMsg{
		From: w.chain.Address(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	return call.ABI.Unpack(call.FunctionName, out)
}

// WriteContract 签名并发送交易，返回交易哈希
func (w *InjectedWallet) WriteContract(ctx context.Context, call ContractCall) (WriteResult, error) {
	if w.approver != nil {
		if err := w.approver.ApproveTransaction(ctx, call); err != nil {
			return WriteResult{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
	}

	data, err := call.Pack()
	if err != nil {
		return WriteResult{}, err
	}

	from := w.chain.Address()
	to := call.Contract
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := w.chain.PendingNonceAt(ctx, from)
	if err != nil {
		return WriteResult{}, fmt.Errorf("get nonce: %w", err)
	}

	quote, err := w.fees.Quote(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return WriteResult{}, fmt.Errorf("estimate fees: %w", err)
	}

	w.mu.RLock()
	chainID := big.NewInt(w.chainID)
	w.mu.RUnlock()

	var txData types.TxData
	if quote.IsEIP1559() {
		txData = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: quote.GasTipCap,
			GasFeeCap: quote.GasFeeCap,
			Gas:       quote.GasLimit,
			To:        &to,
			Value:     value,
			Data:      data,
		}
	} else {
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: quote.GasPrice,
			Gas:      quote.GasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	}

	signed, err := w.chain.SignTransaction(types.NewTx(txData))
	if err != nil {
		return WriteResult{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.chain.SendTransaction(ctx, signed); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{Hash: signed.Hash().Hex()}, nil
}

// SignTypedData EIP-712 签名
func (w *InjectedWallet) SignTypedData(ctx context.Context, data TypedData) ([]byte, error) {
	if w.approver != nil {
		if err := w.approver.ApproveSignature(ctx, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
	}

	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return w.chain.SignDigest(digest)
}

// WaitForTransaction 等待交易回执
func (w *InjectedWallet) WaitForTransaction(ctx context.Context, hash string) (*Receipt, error) {
	receipt, err := w.chain.WaitForReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

func toReceipt(r *types.Receipt) *Receipt {
	out := &Receipt{
		Hash:    r.TxHash.Hex(),
		Success: r.Status == types.ReceiptStatusSuccessful,
		GasUsed: r.GasUsed,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
