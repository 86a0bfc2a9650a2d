package event

import (
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

// 事件构造函数

func NewSubmitTransaction(t model.TransactionType) Event {
	return Event{Name: SubmitTransaction, Type: t}
}

func NewTransactionSet(tx *model.Transaction) Event {
	return Event{Name: TransactionSet, Type: tx.Type(), Transaction: tx}
}

// NewTerminal 根据终态返回 SUCCESS/REVERTED 事件，其他状态返回 false
func NewTerminal(tx *model.Transaction) (Event, bool) {
	switch tx.Status() {
	case model.TransactionStatusSuccess:
		return Event{Name: SuccessTransaction, Type: tx.Type(), Transaction: tx}, true
	case model.TransactionStatusReverted:
		return Event{Name: RevertedTransaction, Type: tx.Type(), Transaction: tx}, true
	default:
		return Event{}, false
	}
}

func NewSubmitSignature() Event {
	return Event{Name: SubmitSignature}
}

func NewSuccessSignature() Event {
	return Event{Name: SuccessSignature}
}

func NewError(err *errors.Error) Event {
	return Event{Name: Error, Err: err}
}
