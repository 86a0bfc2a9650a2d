package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
)

const credentialKeyPrefix = "eidos:wallet:credential:"

// CredentialStore Passkey 凭证存储
type CredentialStore interface {
	// GetCredential 未保存时返回 nil, nil
	GetCredential(ctx context.Context) (*model.Credential, error)
	SetCredential(ctx context.Context, c *model.Credential) error
	DeleteCredential(ctx context.Context) error
}

type kvCredentialStore struct {
	kv  KVStore
	key string
}

// NewCredentialStore 创建按设备隔离的凭证存储
func NewCredentialStore(kv KVStore, deviceID string) CredentialStore {
	return &kvCredentialStore{
		kv:  kv,
		key: credentialKeyPrefix + deviceID,
	}
}

func (s *kvCredentialStore) GetCredential(ctx context.Context) (*model.Credential, error) {
	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var c model.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", s.key, err)
	}
	return &c, nil
}

func (s *kvCredentialStore) SetCredential(ctx context.Context, c *model.Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}

func (s *kvCredentialStore) DeleteCredential(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}
