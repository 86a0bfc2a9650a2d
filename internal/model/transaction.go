package model

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

// StaleAfter 超过该时长仍未确认的交易视为过期
const StaleAfter = time.Hour

// TransactionStatus 交易状态
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "PENDING"
	TransactionStatusSuccess  TransactionStatus = "SUCCESS"
	TransactionStatusReverted TransactionStatus = "REVERTED"
	TransactionStatusExpired  TransactionStatus = "EXPIRED"
)

// IsValid 判断状态是否合法
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusReverted, TransactionStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal 判断是否为终态
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusReverted || s == TransactionStatusExpired
}

// TransactionType 业务动作标签，应用可自行扩展
type TransactionType string

const (
	TransactionTypeMint         TransactionType = "MINT"
	TransactionTypeApprove      TransactionType = "APPROVE"
	TransactionTypeStake        TransactionType = "STAKE"
	TransactionTypeUnstake      TransactionType = "UNSTAKE"
	TransactionTypeMintAndStake TransactionType = "MINT_AND_STAKE"
	TransactionTypeTransfer     TransactionType = "TRANSFER"
)

// ApplyStaleness 将超过 StaleAfter 的 PENDING 状态重新归类为 EXPIRED
func ApplyStaleness(status TransactionStatus, submittedAt, now time.Time) TransactionStatus {
	if status == TransactionStatusPending && now.Sub(submittedAt) > StaleAfter {
		return TransactionStatusExpired
	}
	return status
}

// TransactionParams 构造参数
type TransactionParams struct {
	Account       string
	Type          TransactionType
	Status        TransactionStatus // 为空时为 PENDING
	Hash          string
	OperationHash string
	SubmittedAt   time.Time // 为零值时取 now
	ChainID       int64
	Contract      string
	FunctionName  string
	Args          []string
	Value         decimal.Decimal
}

// Transaction 一次已提交的链上动作，不可变
type Transaction struct {
	account       common.Address
	txType        TransactionType
	status        TransactionStatus
	hash          string
	operationHash string
	submittedAt   time.Time
	chainID       int64
	contract      string
	functionName  string
	args          []string
	value         decimal.Decimal
}

// NewTransaction 校验并创建交易
func NewTransaction(p TransactionParams, now time.Time) (*Transaction, error) {
	account, err := ParseAddress(p.Account)
	if err != nil {
		return nil, err
	}

	if p.Hash == "" && p.OperationHash == "" {
		return nil, errors.ErrInvalidTransaction.WithMessage("hash or operation hash is required")
	}
	if p.Hash != "" && !isHexHash(p.Hash) {
		return nil, errors.ErrInvalidTransaction.WithMessage("malformed transaction hash").WithDetail("hash", p.Hash)
	}
	if p.OperationHash != "" && !isHexHash(p.OperationHash) {
		return nil, errors.ErrInvalidTransaction.WithMessage("malformed operation hash").WithDetail("operation_hash", p.OperationHash)
	}

	status := p.Status
	if status == "" {
		status = TransactionStatusPending
	}
	if !status.IsValid() {
		return nil, errors.ErrInvalidTransaction.WithMessagef("unknown status %q", status)
	}

	if p.Contract != "" && !common.IsHexAddress(p.Contract) {
		return nil, errors.ErrInvalidTransaction.WithMessage("malformed contract address").WithDetail("contract", p.Contract)
	}

	submittedAt := p.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = now
	}

	var args []string
	if len(p.Args) > 0 {
		args = append(args, p.Args...)
	}

	return &Transaction{
		account:       account,
		txType:        p.Type,
		status:        ApplyStaleness(status, submittedAt, now),
		hash:          p.Hash,
		operationHash: p.OperationHash,
		submittedAt:   submittedAt,
		chainID:       p.ChainID,
		contract:      p.Contract,
		functionName:  p.FunctionName,
		args:          args,
		value:         p.Value,
	}, nil
}

func isHexHash(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	body := s[2:]
	if body == "" {
		return false
	}
	for _, c := range body {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func (t *Transaction) Account() common.Address   { return t.account }
func (t *Transaction) Type() TransactionType     { return t.txType }
func (t *Transaction) Status() TransactionStatus { return t.status }
func (t *Transaction) Hash() string              { return t.hash }
func (t *Transaction) OperationHash() string     { return t.operationHash }
func (t *Transaction) SubmittedAt() time.Time    { return t.submittedAt }
func (t *Transaction) ChainID() int64            { return t.chainID }
func (t *Transaction) Contract() string          { return t.contract }
func (t *Transaction) FunctionName() string      { return t.functionName }
func (t *Transaction) Value() decimal.Decimal    { return t.value }

// Args 返回调用参数副本
func (t *Transaction) Args() []string {
	if len(t.args) == 0 {
		return nil
	}
	out := make([]string, len(t.args))
	copy(out, t.args)
	return out
}

// IsPending 是否仍待确认
func (t *Transaction) IsPending() bool {
	return t.status == TransactionStatusPending
}

// WithHash 返回附加了链上哈希的新实例
func (t *Transaction) WithHash(hash string) (*Transaction, error) {
	if !isHexHash(hash) {
		return nil, errors.ErrInvalidTransaction.WithMessage("malformed transaction hash").WithDetail("hash", hash)
	}
	next := *t
	next.hash = hash
	return &next, nil
}

// WithStatus 返回状态更新后的新实例
func (t *Transaction) WithStatus(status TransactionStatus) (*Transaction, error) {
	if !status.IsValid() {
		return nil, errors.ErrInvalidTransaction.WithMessagef("unknown status %q", status)
	}
	next := *t
	next.status = status
	return &next, nil
}

// MatchesIdentity 判断是否指向同一笔逻辑交易
//
// 同一账户下，按 other 的哈希或用户操作哈希匹配；两者在生命周期中先后出现。
func (t *Transaction) MatchesIdentity(other *Transaction) bool {
	if other == nil || t.account != other.account {
		return false
	}
	if other.hash != "" && strings.EqualFold(t.hash, other.hash) {
		return true
	}
	if other.operationHash != "" && strings.EqualFold(t.operationHash, other.operationHash) {
		return true
	}
	return false
}

// Equal 全字段比较
func (t *Transaction) Equal(other *Transaction) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.args) != len(other.args) {
		return false
	}
	for i := range t.args {
		if t.args[i] != other.args[i] {
			return false
		}
	}
	return t.account == other.account &&
		t.txType == other.txType &&
		t.status == other.status &&
		t.hash == other.hash &&
		t.operationHash == other.operationHash &&
		t.submittedAt.Equal(other.submittedAt) &&
		t.chainID == other.chainID &&
		t.contract == other.contract &&
		t.functionName == other.functionName &&
		t.value.Equal(other.value)
}

// TransactionRecord 交易持久化结构
type TransactionRecord struct {
	Account       string            `json:"account"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Hash          string            `json:"hash,omitempty"`
	OperationHash string            `json:"operation_hash,omitempty"`
	SubmittedAt   int64             `json:"submitted_at"` // 毫秒
	ChainID       int64             `json:"chain_id,omitempty"`
	Contract      string            `json:"contract,omitempty"`
	FunctionName  string            `json:"function_name,omitempty"`
	Args          []string          `json:"args,omitempty"`
	Value         decimal.Decimal   `json:"value"`
}

// ToRecord 转换为持久化结构
func (t *Transaction) ToRecord() TransactionRecord {
	return TransactionRecord{
		Account:       t.account.Hex(),
		Type:          t.txType,
		Status:        t.status,
		Hash:          t.hash,
		OperationHash: t.operationHash,
		SubmittedAt:   t.submittedAt.UnixMilli(),
		ChainID:       t.chainID,
		Contract:      t.contract,
		FunctionName:  t.functionName,
		Args:          t.Args(),
		Value:         t.value,
	}
}

// TransactionFromRecord 从持久化结构恢复，读取时应用过期规则
func TransactionFromRecord(r TransactionRecord, now time.Time) (*Transaction, error) {
	return NewTransaction(TransactionParams{
		Account:       r.Account,
		Type:          r.Type,
		Status:        r.Status,
		Hash:          r.Hash,
		OperationHash: r.OperationHash,
		SubmittedAt:   time.UnixMilli(r.SubmittedAt),
		ChainID:       r.ChainID,
		Contract:      r.Contract,
		FunctionName:  r.FunctionName,
		Args:          r.Args,
		Value:         r.Value,
	}, now)
}
