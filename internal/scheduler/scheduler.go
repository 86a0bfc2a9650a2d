package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	cron    *cron.Cron
	redis   redis.UniversalClient
	lockTTL time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	running chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

// Config 调度器配置
type Config struct {
	MaxConcurrentJobs int
	// RedisClient 为空时不加锁
	RedisClient redis.UniversalClient
	LockTTL     time.Duration
}

// New 创建调度器
func New(cfg *Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrentJobs
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}

	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		redis:   cfg.RedisClient,
		lockTTL: lockTTL,
		jobs:    make(map[string]Job),
		running: make(chan struct{}, maxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob 注册任务，cronSpec 为空时只允许手动触发
func (s *Scheduler) RegisterJob(job Job, cronSpec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}
	s.jobs[job.Name()] = job

	if cronSpec == "" {
		logger.Info("job registered without schedule", zap.String("job", job.Name()))
		return nil
	}

	if _, err := s.cron.AddFunc(cronSpec, func() { s.executeJob(job) }); err != nil {
		delete(s.jobs, job.Name())
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	logger.Info("job registered", zap.String("job", job.Name()), zap.String("cron", cronSpec))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Info("scheduler started")
}

// Stop 停止调度器并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Info("scheduler stopped")
}

// TriggerJob 同步执行一次任务
func (s *Scheduler) TriggerJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return s.executeJob(job)
}

// ErrJobSkipped 并发已满或其他实例持有锁
var ErrJobSkipped = errors.New("job skipped")

func (s *Scheduler) executeJob(job Job) error {
	select {
	case s.running <- struct{}{}:
		defer func() { <-s.running }()
	default:
		logger.Warn("max concurrent jobs reached, skipping", zap.String("job", job.Name()))
		metrics.RecordSweep("skipped", -1)
		return ErrJobSkipped
	}

	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if s.redis != nil {
		lock := NewLock(s.redis, job.Name(), s.lockTTL)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire lock", zap.String("job", job.Name()), zap.Error(err))
			metrics.RecordSweep("failed", -1)
			return err
		}
		if !acquired {
			logger.Debug("job is already running on another instance", zap.String("job", job.Name()))
			metrics.RecordSweep("skipped", -1)
			return ErrJobSkipped
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("failed to release lock", zap.String("job", job.Name()), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	if err := job.Execute(ctx); err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return err
	}

	logger.Debug("job completed", zap.String("job", job.Name()), zap.Duration("duration", time.Since(start)))
	return nil
}
