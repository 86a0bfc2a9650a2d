package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/wallet"
)

// EIP-1193 userRejectedRequest
const userRejectedCode = 4001

// StateResolver 钱包状态来源，由 wallet.Resolver 实现
type StateResolver interface {
	Resolve(ctx context.Context) (model.WalletState, error)
}

// SubmissionService 通过当前钱包提交合约写入并记录待确认交易
type SubmissionService struct {
	resolver StateResolver
	backends map[model.WalletKind]wallet.Backend
	ledger   repository.TransactionLedger
	bus      event.Publisher
	chainID  int64
	now      func() time.Time
}

// SubmissionServiceConfig 配置
type SubmissionServiceConfig struct {
	ChainID int64
}

// NewSubmissionService 创建提交服务
func NewSubmissionService(
	resolver StateResolver,
	injected wallet.Backend,
	abstracted wallet.Backend,
	ledger repository.TransactionLedger,
	bus event.Publisher,
	cfg *SubmissionServiceConfig,
) *SubmissionService {
	return &SubmissionService{
		resolver: resolver,
		backends: map[model.WalletKind]wallet.Backend{
			model.WalletKindInjected:   injected,
			model.WalletKindAbstracted: abstracted,
		},
		ledger:  ledger,
		bus:     bus,
		chainID: cfg.ChainID,
		now:     time.Now,
	}
}

// SubmitSingle 提交单个调用
//
// 注入式钱包得到交易哈希，抽象账户得到用户操作哈希。
func (s *SubmissionService) SubmitSingle(ctx context.Context, call wallet.ContractCall) (*model.Transaction, error) {
	state, backend, err := s.activeBackend(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	return s.submit(ctx, state, call, 1, func(ctx context.Context) (wallet.WriteResult, error) {
		return backend.WriteContract(ctx, call)
	})
}

// SubmitBatch 以一个用户操作提交多个调用，仅抽象账户支持
//
// 返回交易的类型取最后一个调用的类型。
func (s *SubmissionService) SubmitBatch(ctx context.Context, calls []wallet.ContractCall) (*model.Transaction, error) {
	if len(calls) == 0 {
		return nil, s.fail(ctx, errors.ErrInvalidRequest.WithMessage("batch requires at least one call"))
	}

	state, backend, err := s.activeBackend(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	kind, _ := state.Kind()
	batcher, ok := backend.(wallet.BatchBackend)
	if kind != model.WalletKindAbstracted || !ok {
		return nil, s.fail(ctx, errors.ErrBatchUnsupported.WithDetail("wallet_kind", string(kind)))
	}

	last := calls[len(calls)-1]
	return s.submit(ctx, state, last, len(calls), func(ctx context.Context) (wallet.WriteResult, error) {
		return batcher.WriteContracts(ctx, calls)
	})
}

// SignTypedData EIP-712 签名
func (s *SubmissionService) SignTypedData(ctx context.Context, data wallet.TypedData) ([]byte, error) {
	_, backend, err := s.activeBackend(ctx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	s.bus.Emit(ctx, event.NewSubmitSignature())

	sig, err := backend.SignTypedData(ctx, data)
	if err != nil {
		return nil, s.fail(ctx, classifySubmissionError(err))
	}

	s.bus.Emit(ctx, event.NewSuccessSignature())
	return sig, nil
}

// activeBackend 解析钱包状态并检查提交前置条件
func (s *SubmissionService) activeBackend(ctx context.Context) (model.WalletState, wallet.Backend, error) {
	state, err := s.resolver.Resolve(ctx)
	if err != nil {
		logger.Warn("resolve wallet state failed", zap.Error(err))
		if errors.Is(err, errors.ErrStorage) {
			return model.WalletState{}, nil, err
		}
		return model.WalletState{}, nil, errors.Wrap(errors.ErrNoActiveWallet, err)
	}

	if state.Status() == model.WalletStatusWrongChain {
		return model.WalletState{}, nil, errors.ErrWrongChain
	}
	if !state.IsConnected() {
		return model.WalletState{}, nil, errors.ErrNoActiveWallet
	}

	kind, _ := state.Kind()
	backend := s.backends[kind]
	if backend == nil {
		return model.WalletState{}, nil, errors.ErrNoActiveWallet.WithMessagef("no backend for %s wallet", kind)
	}
	return state, backend, nil
}

func (s *SubmissionService) submit(
	ctx context.Context,
	state model.WalletState,
	last wallet.ContractCall,
	calls int,
	write func(ctx context.Context) (wallet.WriteResult, error),
) (*model.Transaction, error) {
	account, _ := state.Account()
	kind, _ := state.Kind()

	s.bus.Emit(ctx, event.NewSubmitTransaction(last.Type))

	start := time.Now()
	result, err := write(ctx)
	if err != nil {
		classified := classifySubmissionError(err)
		label := "failed"
		if errors.Is(classified, errors.ErrUserRejected) {
			label = "rejected"
		}
		metrics.RecordSubmission(string(kind), label, 0)
		logger.Warn("submission failed",
			logger.Account(account.Hex()),
			logger.TxType(string(last.Type)),
			zap.String("code", classified.Code),
			zap.Error(err),
		)
		return nil, s.fail(ctx, classified)
	}
	metrics.RecordSubmission(string(kind), "submitted", time.Since(start).Seconds())

	value := decimal.Zero
	if last.Value != nil {
		value = decimal.NewFromBigInt(last.Value, 0)
	}

	tx, err := model.NewTransaction(model.TransactionParams{
		Account:       account.Hex(),
		Type:          last.Type,
		Hash:          result.Hash,
		OperationHash: result.OperationHash,
		ChainID:       s.chainID,
		Contract:      last.Contract.Hex(),
		FunctionName:  last.FunctionName,
		Args:          last.DisplayArgs(),
		Value:         value,
	}, s.now())
	if err != nil {
		return nil, s.fail(ctx, err)
	}

	if err := s.ledger.Upsert(ctx, tx); err != nil {
		return nil, s.fail(ctx, err)
	}
	s.bus.Emit(ctx, event.NewTransactionSet(tx))

	logger.Info("transaction submitted",
		logger.Account(account.Hex()),
		logger.TxType(string(tx.Type())),
		logger.TxHash(tx.Hash()),
		logger.OperationHash(tx.OperationHash()),
		zap.Int("calls", calls),
	)
	return tx, nil
}

// fail 分类错误并发出唯一的 ERROR 事件
func (s *SubmissionService) fail(ctx context.Context, err error) error {
	classified := errors.FromError(err)
	s.bus.Emit(ctx, event.NewError(classified))
	return classified
}

// classifySubmissionError 区分用户拒绝与一般提交失败
func classifySubmissionError(err error) *errors.Error {
	if isUserRejection(err) {
		return errors.Wrap(errors.ErrUserRejected, err)
	}
	return errors.Wrap(errors.ErrSubmissionFailed, err)
}

func isUserRejection(err error) bool {
	if stderrors.Is(err, wallet.ErrUserRejected) {
		return true
	}

	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"notallowederror", "user rejected", "user denied"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
