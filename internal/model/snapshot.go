package model

import "github.com/ethereum/go-ethereum/common"

// TransactionSnapshot 某账户交易的内存投影，保持存储顺序
type TransactionSnapshot struct {
	account      common.Address
	transactions []*Transaction
}

// NewTransactionSnapshot 从存储中的交易和当前账户构造快照
func NewTransactionSnapshot(stored []*Transaction, account common.Address) TransactionSnapshot {
	txs := make([]*Transaction, 0, len(stored))
	for _, tx := range stored {
		if tx.Account() == account {
			txs = append(txs, tx)
		}
	}
	return TransactionSnapshot{account: account, transactions: txs}
}

// Account 快照所属账户
func (s TransactionSnapshot) Account() common.Address {
	return s.account
}

// Transactions 全部交易
func (s TransactionSnapshot) Transactions() []*Transaction {
	out := make([]*Transaction, len(s.transactions))
	copy(out, s.transactions)
	return out
}

// Pending 待确认子集
func (s TransactionSnapshot) Pending() []*Transaction {
	var out []*Transaction
	for _, tx := range s.transactions {
		if tx.IsPending() {
			out = append(out, tx)
		}
	}
	return out
}

// HasPending 指定类型是否有待确认交易
func (s TransactionSnapshot) HasPending(txType TransactionType) bool {
	for _, tx := range s.transactions {
		if tx.IsPending() && tx.Type() == txType {
			return true
		}
	}
	return false
}

// HasAnyPending 是否有任意待确认交易
func (s TransactionSnapshot) HasAnyPending() bool {
	for _, tx := range s.transactions {
		if tx.IsPending() {
			return true
		}
	}
	return false
}

// Len 交易数量
func (s TransactionSnapshot) Len() int {
	return len(s.transactions)
}
