package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

// Name 领域事件名
type Name string

const (
	SubmitTransaction   Name = "SUBMIT_TRANSACTION"
	TransactionSet      Name = "TRANSACTION_SET"
	SuccessTransaction  Name = "SUCCESS_TRANSACTION"
	RevertedTransaction Name = "REVERTED_TRANSACTION"
	SubmitSignature     Name = "SUBMIT_SIGNATURE"
	SuccessSignature    Name = "SUCCESS_SIGNATURE"
	Error               Name = "ERROR"
)

// Names 全部事件名
var Names = []Name{
	SubmitTransaction,
	TransactionSet,
	SuccessTransaction,
	RevertedTransaction,
	SubmitSignature,
	SuccessSignature,
	Error,
}

// Event 领域事件
type Event struct {
	ID   string
	Name Name
	At   time.Time

	// SUBMIT_TRANSACTION
	Type model.TransactionType
	// TRANSACTION_SET / SUCCESS_TRANSACTION / REVERTED_TRANSACTION
	Transaction *model.Transaction
	// ERROR
	Err *errors.Error
}

// Handler 事件监听器
type Handler func(ctx context.Context, e Event)

// SubscriptionID 订阅标识，用于取消订阅
type SubscriptionID uint64

// Publisher 事件发布接口
type Publisher interface {
	Emit(ctx context.Context, e Event)
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Bus 同步广播的事件总线，不缓冲
type Bus struct {
	mu     sync.RWMutex
	nextID SubscriptionID
	subs   map[Name][]subscription
	now    func() time.Time
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Name][]subscription),
		now:  time.Now,
	}
}

// On 注册监听器
func (b *Bus) On(name Name, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: h})
	return id
}

// OnAll 为所有事件注册同一个监听器
func (b *Bus) OnAll(h Handler) map[Name]SubscriptionID {
	ids := make(map[Name]SubscriptionID, len(Names))
	for _, name := range Names {
		ids[name] = b.On(name, h)
	}
	return ids
}

// Off 取消订阅，返回是否找到
func (b *Bus) Off(name Name, id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[name] = next
			return true
		}
	}
	return false
}

// ListenerCount 监听器数量
func (b *Bus) ListenerCount(name Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Emit 在调用方 goroutine 中按注册顺序依次调用当前监听器
func (b *Bus) Emit(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = b.now()
	}

	b.mu.RLock()
	subs := b.subs[e.Name]
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(ctx, s, e)
	}
}

func (b *Bus) dispatch(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked",
				zap.String("event", string(e.Name)),
				zap.Uint64("subscription", uint64(s.id)),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.handler(ctx, e)
}
