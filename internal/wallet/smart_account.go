package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

// PasskeyAuthenticator WebAuthn 仪式由外部 SDK 完成
//
// 用户取消认证时应返回包装了 ErrUserRejected 的错误。
type PasskeyAuthenticator interface {
	Register(ctx context.Context, username string) (*model.Credential, error)
	Authenticate(ctx context.Context, username string) (*model.Credential, error)
	Sign(ctx context.Context, cred *model.Credential, digest []byte) ([]byte, error)
}

// UserOperationBuilder 用户操作的 nonce、gas 与 paymaster 字段由外部 SDK 填充
type UserOperationBuilder interface {
	Build(ctx context.Context, sender common.Address, callData []byte) (*blockchain.UserOperation, error)
	Hash(ctx context.Context, op *blockchain.UserOperation) (common.Hash, error)
}

// Bundler 用户操作提交通道，由 blockchain.BundlerClient 实现
type Bundler interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendUserOperation(ctx context.Context, op *blockchain.UserOperation) (common.Hash, error)
	WaitForUserOperationReceipt(ctx context.Context, opHash common.Hash) (*blockchain.UserOperationReceipt, error)
}

// ChainReader 只读链访问
type ChainReader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// CredentialStore 凭证读写
type CredentialStore interface {
	CredentialReader
	SetCredential(ctx context.Context, c *model.Credential) error
	DeleteCredential(ctx context.Context) error
}

// PasskeyConnector 抽象账户的连接器描述
var PasskeyConnector = model.ConnectorRef{ID: "passkey", Name: "Passkey"}

// simpleAccountABI 账户合约的 execute / executeBatch
const simpleAccountABI = `[
	{"type":"function","name":"execute","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

var accountABI = mustParseABI(simpleAccountABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EncodeAccountCalls 将调用编码为账户合约的 execute 或 executeBatch
func EncodeAccountCalls(calls []ContractCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to encode")
	}

	dests := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	datas := make([][]byte, len(calls))
	for i, call := range calls {
		data, err := call.Pack()
		if err != nil {
			return nil, err
		}
		dests[i] = call.Contract
		values[i] = call.Value
		if values[i] == nil {
			values[i] = new(big.Int)
		}
		datas[i] = data
	}

	if len(calls) == 1 {
		return accountABI.Pack("execute", dests[0], values[0], datas[0])
	}
	return accountABI.Pack("executeBatch", dests, values, datas)
}

// SmartAccount Passkey 控制的 ERC-4337 智能账户
type SmartAccount struct {
	creds   CredentialStore
	auth    PasskeyAuthenticator
	builder UserOperationBuilder
	bundler Bundler
	chain   ChainReader
	chainID int64

	// 缓存 bundler 链 ID，避免每次解析都请求
	mu           sync.Mutex
	networkChain *big.Int
	checkedAt    time.Time
	chainTTL     time.Duration
}

// SmartAccountConfig 智能账户配置
type SmartAccountConfig struct {
	ChainID int64
	// ChainCheckTTL bundler 链 ID 的缓存时长，默认 1 分钟
	ChainCheckTTL time.Duration
}

// NewSmartAccount 创建智能账户后端
func NewSmartAccount(creds CredentialStore, auth PasskeyAuthenticator, builder UserOperationBuilder, bundler Bundler, chain ChainReader, cfg SmartAccountConfig) *SmartAccount {
	ttl := cfg.ChainCheckTTL
	if ttl == 0 {
		ttl = time.Minute
	}
	return &SmartAccount{
		creds:    creds,
		auth:     auth,
		builder:  builder,
		bundler:  bundler,
		chain:    chain,
		chainID:  cfg.ChainID,
		chainTTL: ttl,
	}
}

func (a *SmartAccount) Kind() model.WalletKind {
	return model.WalletKindAbstracted
}

// Register 创建新的 Passkey 账户并保存凭证
func (a *SmartAccount) Register(ctx context.Context, username string) (*model.Credential, error) {
	cred, err := a.auth.Register(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.saveCredential(ctx, cred); err != nil {
		return nil, err
	}
	logger.Info("passkey account registered", zap.String("username", username), logger.Account(cred.Address))
	return cred, nil
}

// Login 使用已有 Passkey 登录并保存凭证
func (a *SmartAccount) Login(ctx context.Context, username string) (*model.Credential, error) {
	cred, err := a.auth.Authenticate(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := a.saveCredential(ctx, cred); err != nil {
		return nil, err
	}
	logger.Info("passkey account logged in", zap.String("username", username), logger.Account(cred.Address))
	return cred, nil
}

func (a *SmartAccount) saveCredential(ctx context.Context, cred *model.Credential) error {
	if _, err := model.ParseAddress(cred.Address); err != nil {
		return err
	}
	if cred.CreatedAt == 0 {
		cred.CreatedAt = time.Now().UnixMilli()
	}
	return a.creds.SetCredential(ctx, cred)
}

// Disconnect 删除本设备凭证
func (a *SmartAccount) Disconnect(ctx context.Context) error {
	return a.creds.DeleteCredential(ctx)
}

// GetWalletState 无凭证时返回空状态
func (a *SmartAccount) GetWalletState(ctx context.Context) (model.WalletState, error) {
	cred, err := a.creds.GetCredential(ctx)
	if err != nil {
		return model.WalletState{}, err
	}
	if cred == nil {
		return model.EmptyWalletState(), nil
	}

	network, err := a.networkChainID(ctx)
	if err != nil {
		return model.WalletState{}, err
	}

	status := model.WalletStatusConnected
	if a.chainID != 0 && network.Int64() != a.chainID {
		status = model.WalletStatusWrongChain
	}

	connector := PasskeyConnector
	return model.NewWalletState(model.WalletStateParams{
		Account:   cred.Address,
		Status:    status,
		Kind:      model.WalletKindAbstracted,
		Connector: &connector,
	})
}

func (a *SmartAccount) networkChainID(ctx context.Context) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.networkChain != nil && time.Since(a.checkedAt) < a.chainTTL {
		return a.networkChain, nil
	}
	id, err := a.bundler.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	a.networkChain = id
	a.checkedAt = time.Now()
	return id, nil
}

// ReadContract 只读调用并解码返回值
func (a *SmartAccount) ReadContract(ctx context.Context, call ContractCall) ([]interface{}, error) {
	data, err := call.Pack()
	if err != nil {
		return nil, err
	}
	to := call.Contract
	out, err := a.chain.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return call.ABI.Unpack(call.FunctionName, out)
}

// WriteContract 单个调用，作为只含一项的批次提交
func (a *SmartAccount) WriteContract(ctx context.Context, call ContractCall) (WriteResult, error) {
	return a.WriteContracts(ctx, []ContractCall{call})
}

// WriteContracts 构造、签名并提交用户操作，返回用户操作哈希
func (a *SmartAccount) WriteContracts(ctx context.Context, calls []ContractCall) (WriteResult, error) {
	cred, err := a.creds.GetCredential(ctx)
	if err != nil {
		return WriteResult{}, err
	}
	if cred == nil {
		return WriteResult{}, ErrNotConnected
	}

	callData, err := EncodeAccountCalls(calls)
	if err != nil {
		return WriteResult{}, err
	}

	op, err := a.builder.Build(ctx, common.HexToAddress(cred.Address), callData)
	if err != nil {
		return WriteResult{}, fmt.Errorf("build user operation: %w", err)
	}
	opHash, err := a.builder.Hash(ctx, op)
	if err != nil {
		return WriteResult{}, fmt.Errorf("hash user operation: %w", err)
	}

	sig, err := a.auth.Sign(ctx, cred, opHash.Bytes())
	if err != nil {
		return WriteResult{}, err
	}
	op.Signature = sig

	sent, err := a.bundler.SendUserOperation(ctx, op)
	if err != nil {
		return WriteResult{}, err
	}

	logger.Debug("user operation sent",
		logger.Account(cred.Address),
		logger.OperationHash(sent.Hex()),
		zap.Int("calls", len(calls)),
	)
	return WriteResult{OperationHash: sent.Hex()}, nil
}

// WaitForUserOperation 等待用户操作被打包
func (a *SmartAccount) WaitForUserOperation(ctx context.Context, operationHash string) (*OperationReceipt, error) {
	receipt, err := a.bundler.WaitForUserOperationReceipt(ctx, common.HexToHash(operationHash))
	if err != nil {
		return nil, err
	}

	out := &OperationReceipt{
		OperationHash: operationHash,
		Success:       receipt.Success,
	}
	if receipt.Receipt.TransactionHash != (common.Hash{}) {
		out.Hash = receipt.Receipt.TransactionHash.Hex()
	}
	return out, nil
}

// WaitForTransaction 等待交易回执
func (a *SmartAccount) WaitForTransaction(ctx context.Context, hash string) (*Receipt, error) {
	receipt, err := a.chain.WaitForReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		return nil, err
	}
	return toReceipt(receipt), nil
}

// SignTypedData 使用 Passkey 对 EIP-712 摘要签名
func (a *SmartAccount) SignTypedData(ctx context.Context, data TypedData) ([]byte, error) {
	cred, err := a.creds.GetCredential(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrNotConnected
	}

	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	return a.auth.Sign(ctx, cred, digest)
}
