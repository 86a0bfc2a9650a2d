package wallet

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
)

const (
	testAccount  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testContract = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

const tokenABI = `[
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

func parseTokenABI(t *testing.T) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	require.NoError(t, err)
	return &parsed
}

func approveCall(t *testing.T) ContractCall {
	return ContractCall{
		Contract:     common.HexToAddress(testContract),
		ABI:          parseTokenABI(t),
		FunctionName: "approve",
		Args:         []interface{}{common.HexToAddress(testAccount), big.NewInt(1000)},
		Type:         model.TransactionTypeApprove,
	}
}

func testTypedData() TypedData {
	return TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {{Name: "name", Type: "string"}, {Name: "chainId", Type: "uint256"}},
			"Mail":         {{Name: "contents", Type: "string"}},
		},
		PrimaryType: "Mail",
		Domain:      apitypes.TypedDataDomain{Name: "Eidos", ChainId: math.NewHexOrDecimal256(31337)},
		Message:     apitypes.TypedDataMessage{"contents": "hello"},
	}
}

// MockBackend 模拟钱包后端
type MockBackend struct {
	mock.Mock
	kind model.WalletKind
}

func (m *MockBackend) Kind() model.WalletKind { return m.kind }

func (m *MockBackend) GetWalletState(ctx context.Context) (model.WalletState, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.WalletState), args.Error(1)
}

func (m *MockBackend) WriteContract(ctx context.Context, call ContractCall) (WriteResult, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(WriteResult), args.Error(1)
}

func (m *MockBackend) SignTypedData(ctx context.Context, data TypedData) ([]byte, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) WaitForTransaction(ctx context.Context, hash string) (*Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Receipt), args.Error(1)
}

// MockCredentialStore 模拟凭证存储
type MockCredentialStore struct {
	mock.Mock
}

func (m *MockCredentialStore) GetCredential(ctx context.Context) (*model.Credential, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockCredentialStore) SetCredential(ctx context.Context, c *model.Credential) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockCredentialStore) DeleteCredential(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockAuthenticator 模拟 Passkey 认证器
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Register(ctx context.Context, username string) (*model.Credential, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, username string) (*model.Credential, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

func (m *MockAuthenticator) Sign(ctx context.Context, cred *model.Credential, digest []byte) ([]byte, error) {
	args := m.Called(ctx, cred, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockBuilder 模拟用户操作构造器
type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) Build(ctx context.Context, sender common.Address, callData []byte) (*blockchain.UserOperation, error) {
	args := m.Called(ctx, sender, callData)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockchain.UserOperation), args.Error(1)
}

func (m *MockBuilder) Hash(ctx context.Context, op *blockchain.UserOperation) (common.Hash, error) {
	args := m.Called(ctx, op)
	return args.Get(0).(common.Hash), args.Error(1)
}

// MockBundler 模拟 bundler
type MockBundler struct {
	mock.Mock
}

func (m *MockBundler) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockBundler) SendUserOperation(ctx context.Context, op *blockchain.UserOperation) (common.Hash, error) {
	args := m.Called(ctx, op)
	return args.Get(0).(common.Hash), args.Error(1)
}

func (m *MockBundler) WaitForUserOperationReceipt(ctx context.Context, opHash common.Hash) (*blockchain.UserOperationReceipt, error) {
	args := m.Called(ctx, opHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*blockchain.UserOperationReceipt), args.Error(1)
}
