package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error 钱包业务错误
type Error struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	GRPCCode codes.Code        `json:"-"`
	Cause    error             `json:"-"`
	Details  map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较，供 errors.Is 使用
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetail 添加单个详情
func (e *Error) WithDetail(key, value string) *Error {
	newErr := e.Copy()
	if newErr.Details == nil {
		newErr.Details = make(map[string]string)
	}
	newErr.Details[key] = value
	return newErr
}

// WithMessage 替换错误消息
func (e *Error) WithMessage(message string) *Error {
	newErr := e.Copy()
	newErr.Message = message
	return newErr
}

// WithMessagef 格式化替换错误消息
func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// Copy 复制错误
func (e *Error) Copy() *Error {
	newErr := &Error{
		Code:     e.Code,
		Message:  e.Message,
		GRPCCode: e.GRPCCode,
		Cause:    e.Cause,
	}
	if e.Details != nil {
		newErr.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			newErr.Details[k] = v
		}
	}
	return newErr
}

// New 创建新错误
func New(code, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		GRPCCode: codes.Internal,
	}
}

// NewWithCode 创建带 gRPC 状态码的错误
func NewWithCode(code, message string, grpcCode codes.Code) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		GRPCCode: grpcCode,
	}
}

// Wrap 包装错误
func Wrap(err *Error, cause error) *Error {
	newErr := err.Copy()
	newErr.Cause = cause
	return newErr
}

// Wrapf 包装错误并追加信息
func Wrapf(err *Error, format string, args ...interface{}) *Error {
	newErr := err.Copy()
	newErr.Message = fmt.Sprintf("%s: %s", err.Message, fmt.Sprintf(format, args...))
	return newErr
}

// WrapWithCause 包装错误并添加原因和信息
func WrapWithCause(err *Error, cause error, format string, args ...interface{}) *Error {
	newErr := Wrapf(err, format, args...)
	newErr.Cause = cause
	return newErr
}

// FromError 从标准错误转换
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr
	}

	return Wrap(ErrInternal, err)
}

// 通用错误码
var (
	ErrInternal       = NewWithCode("INTERNAL_ERROR", "internal error", codes.Internal)
	ErrInvalidRequest = NewWithCode("INVALID_REQUEST", "invalid request", codes.InvalidArgument)
	ErrTimeout        = NewWithCode("TIMEOUT", "operation timed out", codes.DeadlineExceeded)
)

// 钱包错误码
var (
	// 前置条件
	ErrNoActiveWallet   = NewWithCode("NO_ACTIVE_WALLET", "no connected wallet", codes.FailedPrecondition)
	ErrWrongChain       = NewWithCode("WRONG_CHAIN", "wallet is connected to the wrong chain", codes.FailedPrecondition)
	ErrBatchUnsupported = NewWithCode("BATCH_UNSUPPORTED", "wallet does not support batched calls", codes.FailedPrecondition)
	ErrMissingTxHash    = NewWithCode("MISSING_TX_HASH", "transaction has no hash", codes.FailedPrecondition)

	// 数据校验
	ErrInvalidAddress     = NewWithCode("INVALID_ADDRESS", "invalid address", codes.InvalidArgument)
	ErrInvalidWalletState = NewWithCode("INVALID_WALLET_STATE", "invalid wallet state", codes.InvalidArgument)
	ErrInvalidTransaction = NewWithCode("INVALID_TRANSACTION", "invalid transaction", codes.InvalidArgument)

	// 提交
	ErrUserRejected     = NewWithCode("USER_REJECTED", "request rejected by user", codes.Canceled)
	ErrSubmissionFailed = NewWithCode("SUBMISSION_FAILED", "submission failed", codes.Unavailable)

	// 存储
	ErrStorage = NewWithCode("STORAGE_FAILED", "storage operation failed", codes.Internal)
)

// ToGRPCError 转换为 gRPC 错误
func ToGRPCError(err error) error {
	if err == nil {
		return nil
	}

	var bizErr *Error
	if errors.As(err, &bizErr) {
		return status.Error(bizErr.GRPCCode, bizErr.Error())
	}

	return status.Error(codes.Internal, err.Error())
}

// Is 判断错误类型
func Is(err error, target *Error) bool {
	if err == nil || target == nil {
		return false
	}
	return errors.Is(err, target)
}

// As 提取错误类型
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// GetCode 获取错误码
func GetCode(err error) string {
	if err == nil {
		return ""
	}
	var bizErr *Error
	if errors.As(err, &bizErr) {
		return bizErr.Code
	}
	return "UNKNOWN"
}

// IsPrecondition 判断是否为前置条件错误
func IsPrecondition(err error) bool {
	var bizErr *Error
	if !errors.As(err, &bizErr) {
		return false
	}
	return bizErr.GRPCCode == codes.FailedPrecondition
}

// IsInvalidArgument 判断是否为参数错误
func IsInvalidArgument(err error) bool {
	var bizErr *Error
	if !errors.As(err, &bizErr) {
		return false
	}
	return bizErr.GRPCCode == codes.InvalidArgument
}
