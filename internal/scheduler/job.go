package scheduler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

// Job 定时任务
type Job interface {
	Name() string
	Timeout() time.Duration
	Execute(ctx context.Context) error
}

// StateResolver 解析当前钱包状态
type StateResolver interface {
	ResolveOrEmpty(ctx context.Context) model.WalletState
}

// PendingConfirmer 确认账户下的待确认交易
type PendingConfirmer interface {
	ConfirmPending(ctx context.Context, account common.Address) ([]*model.Transaction, error)
}

// SweepJob 对当前账户的 PENDING 交易重新执行确认
//
// 进程重启或前台确认放弃后，交易仍停留在 PENDING，由巡检补齐。
type SweepJob struct {
	resolver  StateResolver
	confirmer PendingConfirmer
	timeout   time.Duration
}

// NewSweepJob 创建巡检任务
func NewSweepJob(resolver StateResolver, confirmer PendingConfirmer, timeout time.Duration) *SweepJob {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SweepJob{resolver: resolver, confirmer: confirmer, timeout: timeout}
}

func (j *SweepJob) Name() string {
	return "pending-sweep"
}

func (j *SweepJob) Timeout() time.Duration {
	return j.timeout
}

// Execute 未连接钱包时跳过
func (j *SweepJob) Execute(ctx context.Context) error {
	state := j.resolver.ResolveOrEmpty(ctx)
	account, ok := state.Account()
	if !ok {
		metrics.RecordSweep("skipped", 0)
		return nil
	}

	results, err := j.confirmer.ConfirmPending(ctx, account)
	if err != nil {
		metrics.RecordSweep("failed", -1)
		return err
	}

	stillPending := 0
	for _, tx := range results {
		if tx.Status() == model.TransactionStatusPending {
			stillPending++
		}
	}
	metrics.RecordSweep("ok", stillPending)

	if len(results) > 0 {
		logger.Info("pending sweep finished",
			logger.Account(account.Hex()),
			zap.Int("checked", len(results)),
			zap.Int("still_pending", stillPending),
		)
	}
	return nil
}
