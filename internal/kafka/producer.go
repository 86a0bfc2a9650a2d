// Package kafka 将钱包领域事件发布到 Kafka
//
// ========================================
// Kafka 生产者对接说明
// ========================================
//
// 1. Topic: wallet-transactions
//    - 事件: TRANSACTION_SET / SUCCESS_TRANSACTION / REVERTED_TRANSACTION
//    - Partition Key: account，同一账户的交易事件保持有序
//
// 2. Topic: wallet-errors
//    - 事件: ERROR
//    - Partition Key: 错误码
//
// 3. Topic: wallet-activity
//    - 事件: SUBMIT_TRANSACTION / SUBMIT_SIGNATURE / SUCCESS_SIGNATURE
//
// 消息格式: model.WalletEventMessage
// ========================================
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/model"
	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/logger"
)

const (
	TopicWalletTransactions = "wallet-transactions"
	TopicWalletErrors       = "wallet-errors"
	TopicWalletActivity     = "wallet-activity"
)

var ErrProducerClosed = errors.New("producer is closed")

// Producer Kafka 生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	RequiredAcks sarama.RequiredAcks
	MaxRetries   int
	RetryBackoff time.Duration
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, err
	}
	return NewProducerWithClient(producer), nil
}

// NewProducerWithClient 使用已有的 SyncProducer
func NewProducerWithClient(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

func newSaramaConfig(cfg *ProducerConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = sarama.WaitForAll
	}
	config.Producer.RequiredAcks = requiredAcks

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	return config
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// send 发送消息
func (p *Producer) send(topic string, key string, value []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrProducerClosed
	}
	p.mu.RUnlock()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	metrics.RecordKafkaMessage(topic, err)
	if err != nil {
		logger.Error("failed to send kafka message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	logger.Debug("kafka message sent",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// SendWalletEvent 发送领域事件消息
func (p *Producer) SendWalletEvent(ctx context.Context, topic, key string, msg *model.WalletEventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.send(topic, key, data)
}

// KafkaEventPublisher 订阅事件总线并转发到 Kafka
type KafkaEventPublisher struct {
	producer *Producer
}

// NewKafkaEventPublisher 创建 Kafka 事件发布器
func NewKafkaEventPublisher(producer *Producer) *KafkaEventPublisher {
	return &KafkaEventPublisher{
		producer: producer,
	}
}

// Subscribe 订阅全部领域事件
func (p *KafkaEventPublisher) Subscribe(bus *event.Bus) map[event.Name]event.SubscriptionID {
	return bus.OnAll(p.handle)
}

// handle 发送失败只记录日志，不影响其他监听器
func (p *KafkaEventPublisher) handle(ctx context.Context, e event.Event) {
	if err := p.Publish(ctx, e); err != nil {
		logger.Warn("publish wallet event failed",
			zap.String("event", string(e.Name)),
			zap.String("event_id", e.ID),
			zap.Error(err))
	}
}

// Publish 发送单个领域事件
func (p *KafkaEventPublisher) Publish(ctx context.Context, e event.Event) error {
	msg := ToMessage(e)
	return p.producer.SendWalletEvent(ctx, TopicFor(e.Name), partitionKey(e), msg)
}

// TopicFor 事件对应的 Topic
func TopicFor(name event.Name) string {
	switch name {
	case event.TransactionSet, event.SuccessTransaction, event.RevertedTransaction:
		return TopicWalletTransactions
	case event.Error:
		return TopicWalletErrors
	default:
		return TopicWalletActivity
	}
}

func partitionKey(e event.Event) string {
	switch {
	case e.Transaction != nil:
		return e.Transaction.Account().Hex()
	case e.Err != nil:
		return e.Err.Code
	default:
		return string(e.Name)
	}
}

// ToMessage 转换为消息体
func ToMessage(e event.Event) *model.WalletEventMessage {
	msg := &model.WalletEventMessage{
		EventID:   e.ID,
		Event:     string(e.Name),
		Type:      e.Type,
		EmittedAt: e.At.UnixMilli(),
	}
	if e.Transaction != nil {
		record := e.Transaction.ToRecord()
		msg.Transaction = &record
		msg.Type = e.Transaction.Type()
	}
	if e.Err != nil {
		msg.ErrorCode = e.Err.Code
		msg.ErrorMsg = e.Err.Message
	}
	return msg
}
