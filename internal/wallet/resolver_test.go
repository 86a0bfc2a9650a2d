package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	walleterrors "github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

func connectedState(t *testing.T, kind model.WalletKind) model.WalletState {
	state, err := model.NewWalletState(model.WalletStateParams{
		Account: testAccount,
		Status:  model.WalletStatusConnected,
		Kind:    kind,
	})
	require.NoError(t, err)
	return state
}

func setupResolver() (*Resolver, *MockCredentialStore, *MockBackend, *MockBackend) {
	creds := new(MockCredentialStore)
	injected := &MockBackend{kind: model.WalletKindInjected}
	abstracted := &MockBackend{kind: model.WalletKindAbstracted}
	return NewResolver(creds, injected, abstracted), creds, injected, abstracted
}

// TestResolver_NothingConnected 无凭证且注入式钱包未连接时返回空状态
func TestResolver_NothingConnected(t *testing.T) {
	resolver, creds, injected, abstracted := setupResolver()
	ctx := context.Background()

	creds.On("GetCredential", ctx).Return(nil, nil)
	injected.On("GetWalletState", ctx).Return(model.EmptyWalletState(), nil)

	state, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.True(t, state.Equal(model.EmptyWalletState()))
	assert.Equal(t, model.WalletStatusDisconnected, state.Status())
	_, hasKind := state.Kind()
	assert.False(t, hasKind)

	abstracted.AssertNotCalled(t, "GetWalletState", mock.Anything)
}

// TestResolver_CredentialSelectsAbstracted 存在凭证时只查询抽象账户
func TestResolver_CredentialSelectsAbstracted(t *testing.T) {
	resolver, creds, injected, abstracted := setupResolver()
	ctx := context.Background()

	creds.On("GetCredential", ctx).Return(&model.Credential{ID: "cred-1", Address: testAccount}, nil)
	abstracted.On("GetWalletState", ctx).Return(connectedState(t, model.WalletKindAbstracted), nil)

	state, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsConnected())
	kind, _ := state.Kind()
	assert.Equal(t, model.WalletKindAbstracted, kind)

	injected.AssertNotCalled(t, "GetWalletState", mock.Anything)
	abstracted.AssertNumberOfCalls(t, "GetWalletState", 1)
}

// TestResolver_NoCredentialSelectsInjected 无凭证时只查询注入式钱包
func TestResolver_NoCredentialSelectsInjected(t *testing.T) {
	resolver, creds, injected, abstracted := setupResolver()
	ctx := context.Background()

	creds.On("GetCredential", ctx).Return(nil, nil)
	injected.On("GetWalletState", ctx).Return(connectedState(t, model.WalletKindInjected), nil)

	state, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	account, ok := state.Account()
	require.True(t, ok)
	assert.Equal(t, testAccount, account.Hex())

	abstracted.AssertNotCalled(t, "GetWalletState", mock.Anything)

	backend, err := resolver.Active(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.WalletKindInjected, backend.Kind())
}

// TestResolver_Errors 凭证或后端失败时向上返回错误
func TestResolver_Errors(t *testing.T) {
	t.Run("credential read fails", func(t *testing.T) {
		resolver, creds, injected, _ := setupResolver()
		ctx := context.Background()
		storeErr := errors.New("redis down")

		creds.On("GetCredential", ctx).Return(nil, storeErr)

		_, err := resolver.Resolve(ctx)
		assert.ErrorIs(t, err, storeErr)
		assert.True(t, walleterrors.Is(err, walleterrors.ErrStorage))
		assert.Equal(t, "STORAGE_FAILED", walleterrors.GetCode(err))
		injected.AssertNotCalled(t, "GetWalletState", mock.Anything)
	})

	t.Run("backend fails", func(t *testing.T) {
		resolver, creds, injected, _ := setupResolver()
		ctx := context.Background()
		backendErr := errors.New("rpc unavailable")

		creds.On("GetCredential", ctx).Return(nil, nil)
		injected.On("GetWalletState", ctx).Return(model.WalletState{}, backendErr)

		_, err := resolver.Resolve(ctx)
		assert.ErrorIs(t, err, backendErr)
		assert.False(t, walleterrors.Is(err, walleterrors.ErrStorage))
	})
}

// TestResolver_ResolveOrEmpty 失败时降级为空状态
func TestResolver_ResolveOrEmpty(t *testing.T) {
	resolver, creds, injected, _ := setupResolver()
	ctx := context.Background()

	creds.On("GetCredential", ctx).Return(nil, nil)
	injected.On("GetWalletState", ctx).Return(model.WalletState{}, errors.New("rpc unavailable"))

	state := resolver.ResolveOrEmpty(ctx)
	assert.True(t, state.Equal(model.EmptyWalletState()))
}

// TestResolver_Idempotent 外部状态不变时多次解析结果一致
func TestResolver_Idempotent(t *testing.T) {
	resolver, creds, injected, _ := setupResolver()
	ctx := context.Background()

	creds.On("GetCredential", ctx).Return(nil, nil)
	injected.On("GetWalletState", ctx).Return(connectedState(t, model.WalletKindInjected), nil)

	first, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}
