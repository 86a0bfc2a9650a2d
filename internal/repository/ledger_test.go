package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	walleterrors "github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

const (
	accountX = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	accountY = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

// MockKVStore 模拟键值存储
type MockKVStore struct {
	mock.Mock
}

func (m *MockKVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}

func (m *MockKVStore) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockKVStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func setupTestLedger(t *testing.T) (TransactionLedger, func()) {
	rdb, _, cleanup := setupRedis(t)
	store := NewTransactionStore(NewRedisKVStore(rdb, 0), "device-1")
	return NewTransactionLedger(store), cleanup
}

func newTx(t *testing.T, account string, p model.TransactionParams) *model.Transaction {
	p.Account = account
	tx, err := model.NewTransaction(p, time.Now())
	require.NoError(t, err)
	return tx
}

func hashes(txs []*model.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		if tx.Hash() != "" {
			out[i] = tx.Hash()
		} else {
			out[i] = tx.OperationHash()
		}
	}
	return out
}

func TestTransactionLedger_EmptyStore(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()

	txs, err := ledger.ListFor(context.Background(), common.HexToAddress(accountX))
	require.NoError(t, err)
	assert.Empty(t, txs)

	snap, err := ledger.Snapshot(context.Background(), common.HexToAddress(accountX))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len())
}

func TestTransactionLedger_UpsertAppendsInOrder(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	a := newTx(t, accountX, model.TransactionParams{Type: model.TransactionTypeApprove, Hash: "0x01"})
	b := newTx(t, accountX, model.TransactionParams{Type: model.TransactionTypeStake, OperationHash: "0x02"})
	c := newTx(t, accountX, model.TransactionParams{Type: model.TransactionTypeMint, Hash: "0x03"})

	require.NoError(t, ledger.Upsert(ctx, a))
	require.NoError(t, ledger.Upsert(ctx, b))
	require.NoError(t, ledger.Upsert(ctx, c))

	txs, err := ledger.ListFor(ctx, a.Account())
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01", "0x02", "0x03"}, hashes(txs))
}

func TestTransactionLedger_UpsertIdempotent(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	first := newTx(t, accountX, model.TransactionParams{Hash: "0x01"})
	second := newTx(t, accountX, model.TransactionParams{Hash: "0x02"})

	require.NoError(t, ledger.Upsert(ctx, first))
	require.NoError(t, ledger.Upsert(ctx, second))
	require.NoError(t, ledger.Upsert(ctx, first))
	require.NoError(t, ledger.Upsert(ctx, first))

	txs, err := ledger.ListFor(ctx, first.Account())
	require.NoError(t, err)
	assert.Equal(t, []string{"0x01", "0x02"}, hashes(txs))
}

func TestTransactionLedger_UpsertReidentifiesAttachedHash(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	opOnly := newTx(t, accountX, model.TransactionParams{Type: model.TransactionTypeMintAndStake, OperationHash: "0xaa"})
	later := newTx(t, accountX, model.TransactionParams{Hash: "0xcc"})
	require.NoError(t, ledger.Upsert(ctx, opOnly))
	require.NoError(t, ledger.Upsert(ctx, later))

	withHash, err := opOnly.WithHash("0xbb")
	require.NoError(t, err)
	require.NoError(t, ledger.Upsert(ctx, withHash))

	final, err := withHash.WithStatus(model.TransactionStatusSuccess)
	require.NoError(t, err)
	require.NoError(t, ledger.Upsert(ctx, final))

	txs, err := ledger.ListFor(ctx, opOnly.Account())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "0xbb", txs[0].Hash())
	assert.Equal(t, "0xaa", txs[0].OperationHash())
	assert.Equal(t, model.TransactionStatusSuccess, txs[0].Status())
	assert.Equal(t, "0xcc", txs[1].Hash())
}

func TestTransactionLedger_SameHashDifferentAccountsAreDistinct(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	x := newTx(t, accountX, model.TransactionParams{OperationHash: "0xaa"})
	y := newTx(t, accountY, model.TransactionParams{OperationHash: "0xaa"})
	require.NoError(t, ledger.Upsert(ctx, x))
	require.NoError(t, ledger.Upsert(ctx, y))

	xs, err := ledger.ListFor(ctx, x.Account())
	require.NoError(t, err)
	ys, err := ledger.ListFor(ctx, y.Account())
	require.NoError(t, err)
	assert.Len(t, xs, 1)
	assert.Len(t, ys, 1)
}

func TestTransactionLedger_ClearForOnlyTouchesAccount(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, ledger.Upsert(ctx, newTx(t, accountX, model.TransactionParams{Hash: "0x01"})))
	require.NoError(t, ledger.Upsert(ctx, newTx(t, accountY, model.TransactionParams{Hash: "0x02"})))
	require.NoError(t, ledger.Upsert(ctx, newTx(t, accountX, model.TransactionParams{Hash: "0x03"})))

	require.NoError(t, ledger.ClearFor(ctx, common.HexToAddress(accountX)))

	xs, err := ledger.ListFor(ctx, common.HexToAddress(accountX))
	require.NoError(t, err)
	assert.Empty(t, xs)

	ys, err := ledger.ListFor(ctx, common.HexToAddress(accountY))
	require.NoError(t, err)
	assert.Equal(t, []string{"0x02"}, hashes(ys))
}

func TestTransactionLedger_StalePendingReadAsExpired(t *testing.T) {
	ledger, cleanup := setupTestLedger(t)
	defer cleanup()
	ctx := context.Background()

	old := newTx(t, accountX, model.TransactionParams{Hash: "0x01", SubmittedAt: time.Now().Add(-61 * time.Minute)})
	assert.Equal(t, model.TransactionStatusExpired, old.Status())

	recent := newTx(t, accountX, model.TransactionParams{Hash: "0x02", SubmittedAt: time.Now().Add(-59 * time.Minute)})
	require.NoError(t, ledger.Upsert(ctx, recent))

	// 模拟时间推进
	ledger.(*transactionLedger).now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	txs, err := ledger.ListFor(ctx, recent.Account())
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionStatusExpired, txs[0].Status())
}

func TestTransactionLedger_StorageErrorsPropagate(t *testing.T) {
	kv := new(MockKVStore)
	ledger := NewTransactionLedger(NewTransactionStore(kv, "device-1"))
	ctx := context.Background()
	readErr := errors.New("redis: connection refused")

	kv.On("Get", mock.Anything, "eidos:wallet:txs:device-1").Return(nil, false, readErr)

	_, err := ledger.ListFor(ctx, common.HexToAddress(accountX))
	assert.True(t, walleterrors.Is(err, walleterrors.ErrStorage))
	assert.ErrorIs(t, err, readErr)

	err = ledger.Upsert(ctx, newTx(t, accountX, model.TransactionParams{Hash: "0x01"}))
	assert.True(t, walleterrors.Is(err, walleterrors.ErrStorage))
	kv.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything)
}

func TestTransactionLedger_WriteErrorPropagates(t *testing.T) {
	kv := new(MockKVStore)
	ledger := NewTransactionLedger(NewTransactionStore(kv, "device-1"))

	kv.On("Get", mock.Anything, mock.Anything).Return([]byte("[]"), true, nil)
	kv.On("Set", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))

	err := ledger.Upsert(context.Background(), newTx(t, accountX, model.TransactionParams{Hash: "0x01"}))
	assert.True(t, walleterrors.Is(err, walleterrors.ErrStorage))
	kv.AssertExpectations(t)
}

func TestTransactionLedger_CorruptStoreIsError(t *testing.T) {
	kv := new(MockKVStore)
	ledger := NewTransactionLedger(NewTransactionStore(kv, "device-1"))

	kv.On("Get", mock.Anything, mock.Anything).Return([]byte("{not json"), true, nil)

	_, err := ledger.ListFor(context.Background(), common.HexToAddress(accountX))
	assert.True(t, walleterrors.Is(err, walleterrors.ErrStorage))
}

func TestCredentialStore(t *testing.T) {
	rdb, mr, cleanup := setupRedis(t)
	defer cleanup()

	store := NewCredentialStore(NewRedisKVStore(rdb, 0), "device-1")
	ctx := context.Background()

	c, err := store.GetCredential(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)

	require.NoError(t, store.SetCredential(ctx, &model.Credential{ID: "cred-1", Username: "alice", Address: accountX}))
	assert.True(t, mr.Exists("eidos:wallet:credential:device-1"))

	c, err = store.GetCredential(ctx)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "alice", c.Username)

	require.NoError(t, store.DeleteCredential(ctx))
	c, err = store.GetCredential(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)
}
