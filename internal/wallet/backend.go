package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
)

var (
	// ErrUserRejected 签名器或认证器明确拒绝
	ErrUserRejected = errors.New("user rejected the request")
	ErrNotConnected = errors.New("wallet not connected")
)

// ContractCall 一次合约写入或读取
type ContractCall struct {
	Contract     common.Address
	ABI          *abi.ABI
	FunctionName string
	Args         []interface{}
	// Value 随调用发送的 wei，可为 nil
	Value *big.Int
	Type  model.TransactionType
}

// Pack ABI 编码调用数据
func (c ContractCall) Pack() ([]byte, error) {
	if c.ABI == nil {
		return nil, fmt.Errorf("contract call %s: abi is required", c.FunctionName)
	}
	return c.ABI.Pack(c.FunctionName, c.Args...)
}

// DisplayArgs 参数的展示形式，用于交易记录
func (c ContractCall) DisplayArgs() []string {
	if len(c.Args) == 0 {
		return nil
	}
	out := make([]string, len(c.Args))
	for i, a := range c.Args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

// WriteResult 写入结果，注入式钱包返回 Hash，抽象账户返回 OperationHash
type WriteResult struct {
	Hash          string
	OperationHash string
}

// Receipt 交易回执摘要
type Receipt struct {
	Hash        string
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}

// OperationReceipt 用户操作回执；Hash 为空表示尚未上链
type OperationReceipt struct {
	OperationHash string
	Hash          string
	Success       bool
}

// TypedData EIP-712 签名载荷
type TypedData = apitypes.TypedData

// Backend 两类钱包共同的能力接口
type Backend interface {
	Kind() model.WalletKind
	GetWalletState(ctx context.Context) (model.WalletState, error)
	WriteContract(ctx context.Context, call ContractCall) (WriteResult, error)
	SignTypedData(ctx context.Context, data TypedData) ([]byte, error)
	WaitForTransaction(ctx context.Context, hash string) (*Receipt, error)
}

// BatchBackend 支持批量调用和用户操作回执的后端
type BatchBackend interface {
	Backend
	WriteContracts(ctx context.Context, calls []ContractCall) (WriteResult, error)
	WaitForUserOperation(ctx context.Context, operationHash string) (*OperationReceipt, error)
}

// InjectedBackend 注入式钱包完整接口
type InjectedBackend interface {
	Backend
	Connect(ctx context.Context, connector model.ConnectorRef) (model.WalletState, error)
	Disconnect(ctx context.Context) error
	SwitchChain(ctx context.Context, chainID int64) error
	ReadContract(ctx context.Context, call ContractCall) ([]interface{}, error)
}

// AbstractedBackend 抽象账户完整接口
type AbstractedBackend interface {
	BatchBackend
	Register(ctx context.Context, username string) (*model.Credential, error)
	Login(ctx context.Context, username string) (*model.Credential, error)
	Disconnect(ctx context.Context) error
	ReadContract(ctx context.Context, call ContractCall) ([]interface{}, error)
}

// CredentialReader 凭证读取
type CredentialReader interface {
	GetCredential(ctx context.Context) (*model.Credential, error)
}

var (
	_ InjectedBackend   = (*InjectedWallet)(nil)
	_ AbstractedBackend = (*SmartAccount)(nil)
	_ ChainBackend      = (*blockchain.Client)(nil)
	_ ChainReader       = (*blockchain.Client)(nil)
	_ FeeQuoter         = (*blockchain.FeeEstimator)(nil)
	_ Bundler           = (*blockchain.BundlerClient)(nil)
)
