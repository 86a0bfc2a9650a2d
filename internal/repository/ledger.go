package repository

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

// TransactionLedger 按账户隔离的交易账本
type TransactionLedger interface {
	// Upsert 按哈希或用户操作哈希匹配同账户记录，找到则原位替换，否则追加
	Upsert(ctx context.Context, tx *model.Transaction) error
	ListFor(ctx context.Context, account common.Address) ([]*model.Transaction, error)
	ClearFor(ctx context.Context, account common.Address) error
	Snapshot(ctx context.Context, account common.Address) (model.TransactionSnapshot, error)
}

type transactionLedger struct {
	store TransactionStore
	now   func() time.Time

	// 串行化进程内的读-改-写；存储本身不提供事务隔离
	mu sync.Mutex
}

// NewTransactionLedger 创建交易账本
func NewTransactionLedger(store TransactionStore) TransactionLedger {
	return &transactionLedger{
		store: store,
		now:   time.Now,
	}
}

func (l *transactionLedger) load(ctx context.Context) ([]*model.Transaction, error) {
	records, err := l.store.Load(ctx)
	if err != nil {
		return nil, errors.WrapWithCause(errors.ErrStorage, err, "load transactions")
	}

	now := l.now()
	txs := make([]*model.Transaction, 0, len(records))
	for _, r := range records {
		tx, err := model.TransactionFromRecord(r, now)
		if err != nil {
			return nil, errors.WrapWithCause(errors.ErrStorage, err, "decode stored transaction")
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (l *transactionLedger) save(ctx context.Context, txs []*model.Transaction) error {
	records := make([]model.TransactionRecord, len(txs))
	for i, tx := range txs {
		records[i] = tx.ToRecord()
	}
	if err := l.store.Save(ctx, records); err != nil {
		return errors.WrapWithCause(errors.ErrStorage, err, "save transactions")
	}
	return nil
}

func (l *transactionLedger) Upsert(ctx context.Context, tx *model.Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.load(ctx)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range txs {
		if existing.MatchesIdentity(tx) {
			txs[i] = tx
			replaced = true
			break
		}
	}
	if !replaced {
		txs = append(txs, tx)
	}

	return l.save(ctx, txs)
}

func (l *transactionLedger) ListFor(ctx context.Context, account common.Address) ([]*model.Transaction, error) {
	txs, err := l.load(ctx)
	if err != nil {
		return nil, err
	}

	var out []*model.Transaction
	for _, tx := range txs {
		if tx.Account() == account {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *transactionLedger) ClearFor(ctx context.Context, account common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	txs, err := l.load(ctx)
	if err != nil {
		return err
	}

	kept := txs[:0]
	for _, tx := range txs {
		if tx.Account() != account {
			kept = append(kept, tx)
		}
	}
	if len(kept) == len(txs) {
		return nil
	}
	return l.save(ctx, kept)
}

func (l *transactionLedger) Snapshot(ctx context.Context, account common.Address) (model.TransactionSnapshot, error) {
	txs, err := l.load(ctx)
	if err != nil {
		return model.TransactionSnapshot{}, err
	}
	return model.NewTransactionSnapshot(txs, account), nil
}
