package wallet

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	walleterrors "github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

// Resolver 决定当前生效的钱包并给出统一的 WalletState
//
// 本设备存有 Passkey 凭证时只查询抽象账户，否则只查询注入式钱包。
type Resolver struct {
	creds      CredentialReader
	injected   Backend
	abstracted Backend
}

// NewResolver 创建钱包状态解析器
func NewResolver(creds CredentialReader, injected, abstracted Backend) *Resolver {
	return &Resolver{
		creds:      creds,
		injected:   injected,
		abstracted: abstracted,
	}
}

// Resolve 返回当前钱包状态，后端或凭证读取失败时返回错误
func (r *Resolver) Resolve(ctx context.Context) (model.WalletState, error) {
	backend, err := r.Active(ctx)
	if err != nil {
		return model.WalletState{}, err
	}

	state, err := backend.GetWalletState(ctx)
	if err != nil {
		return model.WalletState{}, fmt.Errorf("get %s wallet state: %w", backend.Kind(), err)
	}

	if _, ok := state.Account(); !ok {
		return model.EmptyWalletState(), nil
	}
	return state, nil
}

// ResolveOrEmpty 解析失败时记录日志并降级为未连接状态
func (r *Resolver) ResolveOrEmpty(ctx context.Context) model.WalletState {
	state, err := r.Resolve(ctx)
	if err != nil {
		logger.Warn("resolve wallet state failed, treating as disconnected", zap.Error(err))
		return model.EmptyWalletState()
	}
	return state
}

// Active 按凭证是否存在选择后端，凭证读取失败归为 STORAGE_FAILED
func (r *Resolver) Active(ctx context.Context) (Backend, error) {
	cred, err := r.creds.GetCredential(ctx)
	if err != nil {
		return nil, walleterrors.WrapWithCause(walleterrors.ErrStorage, err, "read credential")
	}
	if cred != nil {
		return r.abstracted, nil
	}
	return r.injected, nil
}
