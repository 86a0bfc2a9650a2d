package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/wallet"
)

const (
	testAccount  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	otherAccount = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	testContract = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
	testOpHash   = "0x1111111111111111111111111111111111111111111111111111111111111111"
	testTxHash   = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

// MockResolver 模拟钱包状态解析
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context) (model.WalletState, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.WalletState), args.Error(1)
}

// MockBackend 模拟支持批量调用的钱包后端
type MockBackend struct {
	mock.Mock
	kind model.WalletKind
}

func (m *MockBackend) Kind() model.WalletKind { return m.kind }

func (m *MockBackend) GetWalletState(ctx context.Context) (model.WalletState, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.WalletState), args.Error(1)
}

func (m *MockBackend) WriteContract(ctx context.Context, call wallet.ContractCall) (wallet.WriteResult, error) {
	args := m.Called(ctx, call)
	return args.Get(0).(wallet.WriteResult), args.Error(1)
}

func (m *MockBackend) WriteContracts(ctx context.Context, calls []wallet.ContractCall) (wallet.WriteResult, error) {
	args := m.Called(ctx, calls)
	return args.Get(0).(wallet.WriteResult), args.Error(1)
}

func (m *MockBackend) SignTypedData(ctx context.Context, data wallet.TypedData) ([]byte, error) {
	args := m.Called(ctx, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) WaitForTransaction(ctx context.Context, hash string) (*wallet.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Receipt), args.Error(1)
}

func (m *MockBackend) WaitForUserOperation(ctx context.Context, operationHash string) (*wallet.OperationReceipt, error) {
	args := m.Called(ctx, operationHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.OperationReceipt), args.Error(1)
}

// MockLedger 模拟交易账本
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Upsert(ctx context.Context, tx *model.Transaction) error {
	return m.Called(ctx, tx).Error(0)
}

func (m *MockLedger) ListFor(ctx context.Context, account common.Address) ([]*model.Transaction, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockLedger) ClearFor(ctx context.Context, account common.Address) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockLedger) Snapshot(ctx context.Context, account common.Address) (model.TransactionSnapshot, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(model.TransactionSnapshot), args.Error(1)
}

// eventRecorder 记录总线上的全部事件
type eventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func recordEvents(bus *event.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.OnAll(func(ctx context.Context, e event.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *eventRecorder) names() []event.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *eventRecorder) count(name event.Name) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(name event.Name) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return event.Event{}, false
}

// setupLedger 基于 miniredis 的真实账本
func setupLedger(t *testing.T) repository.TransactionLedger {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := repository.NewTransactionStore(repository.NewRedisKVStore(rdb, 0), "test-device")
	return repository.NewTransactionLedger(store)
}

func connectedState(t *testing.T, kind model.WalletKind) model.WalletState {
	state, err := model.NewWalletState(model.WalletStateParams{
		Account: testAccount,
		Status:  model.WalletStatusConnected,
		Kind:    kind,
	})
	require.NoError(t, err)
	return state
}

func pendingTx(t *testing.T, account, hash, opHash string) *model.Transaction {
	tx, err := model.NewTransaction(model.TransactionParams{
		Account:       account,
		Type:          model.TransactionTypeMintAndStake,
		Hash:          hash,
		OperationHash: opHash,
	}, time.Now())
	require.NoError(t, err)
	return tx
}
