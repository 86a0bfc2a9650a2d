package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/wallet"
)

const (
	phaseOperation   = "operation"
	phaseTransaction = "transaction"
)

var errOperationNotIncluded = stderrors.New("user operation receipt has no transaction hash")

// OperationWaiter 等待用户操作被打包，由抽象账户实现
type OperationWaiter interface {
	WaitForUserOperation(ctx context.Context, operationHash string) (*wallet.OperationReceipt, error)
}

// ReceiptWaiter 等待交易回执
type ReceiptWaiter interface {
	WaitForTransaction(ctx context.Context, hash string) (*wallet.Receipt, error)
}

// ConfirmationService 推进待确认交易到终态
//
// 抽象账户的交易先由用户操作哈希换得交易哈希，再等待交易回执。
// 每个阶段按 RetryPolicy 有界重试，用尽后原样返回交易，由调用方稍后再试。
type ConfirmationService struct {
	operations  OperationWaiter
	receipts    ReceiptWaiter
	ledger      repository.TransactionLedger
	bus         event.Publisher
	policy      RetryPolicy
	concurrency int
}

// ConfirmationServiceConfig 配置
type ConfirmationServiceConfig struct {
	Policy RetryPolicy
	// Concurrency ConfirmPending 的并发上限
	Concurrency int
}

// NewConfirmationService 创建确认服务
func NewConfirmationService(
	operations OperationWaiter,
	receipts ReceiptWaiter,
	ledger repository.TransactionLedger,
	bus event.Publisher,
	cfg *ConfirmationServiceConfig,
) *ConfirmationService {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &ConfirmationService{
		operations:  operations,
		receipts:    receipts,
		ledger:      ledger,
		bus:         bus,
		policy:      cfg.Policy.withDefaults(),
		concurrency: concurrency,
	}
}

// AwaitOperation 为只有用户操作哈希的交易附加交易哈希
//
// 已有哈希时原样返回。回执报告执行失败时同时置为 REVERTED。重试用尽不视为错误。
func (s *ConfirmationService) AwaitOperation(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.Hash() != "" || tx.OperationHash() == "" {
		return tx, nil
	}

	start := time.Now()
	var receipt *wallet.OperationReceipt
	err := s.policy.Run(ctx, func(ctx context.Context, attempt int) error {
		r, err := s.operations.WaitForUserOperation(ctx, tx.OperationHash())
		if err == nil && r.Hash == "" {
			err = errOperationNotIncluded
		}
		if err != nil {
			logger.Warn("wait for user operation failed",
				logger.OperationHash(tx.OperationHash()),
				logger.Attempt(attempt),
				zap.Error(err),
			)
			metrics.RecordConfirmAttemptFailure(phaseOperation)
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		metrics.RecordConfirmPhase(phaseOperation, false, 0)
		logger.Info("user operation still pending",
			logger.OperationHash(tx.OperationHash()),
			zap.Error(err),
		)
		return tx, nil
	}
	metrics.RecordConfirmPhase(phaseOperation, true, time.Since(start).Seconds())

	included, err := tx.WithHash(receipt.Hash)
	if err != nil {
		return nil, err
	}
	if !receipt.Success {
		return included.WithStatus(model.TransactionStatusReverted)
	}
	return included, nil
}

// AwaitTransaction 等待交易回执并映射为 SUCCESS 或 REVERTED
//
// 交易没有哈希时返回 MISSING_TX_HASH。重试用尽不视为错误。
func (s *ConfirmationService) AwaitTransaction(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.Hash() == "" {
		return nil, errors.ErrMissingTxHash.WithDetail("operation_hash", tx.OperationHash())
	}

	start := time.Now()
	var receipt *wallet.Receipt
	err := s.policy.Run(ctx, func(ctx context.Context, attempt int) error {
		r, err := s.receipts.WaitForTransaction(ctx, tx.Hash())
		if err != nil {
			logger.Warn("wait for transaction receipt failed",
				logger.TxHash(tx.Hash()),
				logger.Attempt(attempt),
				zap.Error(err),
			)
			metrics.RecordConfirmAttemptFailure(phaseTransaction)
			return err
		}
		receipt = r
		return nil
	})
	if err != nil {
		metrics.RecordConfirmPhase(phaseTransaction, false, 0)
		logger.Info("transaction still pending", logger.TxHash(tx.Hash()), zap.Error(err))
		return tx, nil
	}
	metrics.RecordConfirmPhase(phaseTransaction, true, time.Since(start).Seconds())

	status := model.TransactionStatusReverted
	if receipt.Success {
		status = model.TransactionStatusSuccess
	}
	return tx.WithStatus(status)
}

// Confirm 依次执行两个阶段，有变化时写入账本并发出事件
//
// 终态交易原样返回。确认本身从不把交易置为 EXPIRED。
func (s *ConfirmationService) Confirm(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.Status().IsTerminal() {
		return tx, nil
	}

	current, err := s.AwaitOperation(ctx, tx)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	if current.Hash() != "" && !current.Status().IsTerminal() {
		current, err = s.AwaitTransaction(ctx, current)
		if err != nil {
			return nil, s.fail(ctx, err)
		}
	}

	if current.Equal(tx) {
		return tx, nil
	}

	if err := s.ledger.Upsert(ctx, current); err != nil {
		return nil, s.fail(ctx, err)
	}
	s.bus.Emit(ctx, event.NewTransactionSet(current))
	if terminal, ok := event.NewTerminal(current); ok {
		s.bus.Emit(ctx, terminal)
	}

	logger.Info("transaction updated",
		logger.Account(current.Account().Hex()),
		logger.TxHash(current.Hash()),
		logger.OperationHash(current.OperationHash()),
		zap.String("status", string(current.Status())),
	)
	return current, nil
}

// ConfirmPending 并发确认账户下全部待确认交易，结果顺序与账本一致
func (s *ConfirmationService) ConfirmPending(ctx context.Context, account common.Address) ([]*model.Transaction, error) {
	snapshot, err := s.ledger.Snapshot(ctx, account)
	if err != nil {
		return nil, err
	}

	pending := snapshot.Pending()
	if len(pending) == 0 {
		return nil, nil
	}

	results := make([]*model.Transaction, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, tx := range pending {
		i, tx := i, tx
		g.Go(func() error {
			confirmed, err := s.Confirm(gctx, tx)
			if err != nil {
				return err
			}
			results[i] = confirmed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *ConfirmationService) fail(ctx context.Context, err error) error {
	classified := errors.FromError(err)
	s.bus.Emit(ctx, event.NewError(classified))
	return classified
}
