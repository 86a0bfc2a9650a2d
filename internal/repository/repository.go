package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL 可重试错误码
// 参考: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrSerializationFailure  = "40001"
	pgErrDeadlockDetected      = "40P01"
	pgErrConnectionFailure     = "08006"
	pgErrConnectionException   = "08000"
	pgErrSQLClientCantConnect  = "08001"
	pgErrInsufficientResources = "53000"
	pgErrTooManyConnections    = "53300"
	pgErrQueryCanceled         = "57014"
	pgErrCannotConnectNow      = "57P03"
)

// Repository 基础仓储
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建基础仓储
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB 返回数据库连接，处于事务中时返回事务连接
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction 执行事务
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// TransactionWithRetry 带重试的事务执行，仅重试临时性错误
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil || !isRetryableError(err) {
			return err
		}
		// 指数退避
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<uint(i)) * 100 * time.Millisecond):
		}
	}
	return err
}

// isRetryableError 死锁、序列化失败、连接问题、资源不足等临时性错误
func isRetryableError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected,
		pgErrConnectionFailure, pgErrConnectionException, pgErrSQLClientCantConnect,
		pgErrInsufficientResources, pgErrTooManyConnections,
		pgErrQueryCanceled, pgErrCannotConnectNow:
		return true
	}
	return false
}
