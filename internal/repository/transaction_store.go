package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
)

const transactionKeyPrefix = "eidos:wallet:txs:"

// TransactionStore 交易集合的整体读写
type TransactionStore interface {
	Load(ctx context.Context) ([]model.TransactionRecord, error)
	Save(ctx context.Context, records []model.TransactionRecord) error
}

type kvTransactionStore struct {
	kv  KVStore
	key string
}

// NewTransactionStore 创建按设备隔离的交易存储
func NewTransactionStore(kv KVStore, deviceID string) TransactionStore {
	return &kvTransactionStore{
		kv:  kv,
		key: transactionKeyPrefix + deviceID,
	}
}

func (s *kvTransactionStore) Load(ctx context.Context) ([]model.TransactionRecord, error) {
	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var records []model.TransactionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode transactions %s: %w", s.key, err)
	}
	return records, nil
}

func (s *kvTransactionStore) Save(ctx context.Context, records []model.TransactionRecord) error {
	if records == nil {
		records = []model.TransactionRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}
