// Package metrics 提供 eidos-wallet 的 Prometheus 监控指标
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/event"
)

const namespace = "eidos_wallet"

// 提交指标
var (
	// SubmissionsTotal 提交总数
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "交易提交总数",
		},
		[]string{"kind", "result"}, // kind: INJECTED/ABSTRACTED, result: submitted/rejected/failed
	)

	// SubmissionDuration 提交耗时
	SubmissionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submission_duration_seconds",
			Help:      "后端写入耗时(秒)，包含用户确认",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)
)

// 确认指标
var (
	// ConfirmAttemptFailures 确认阶段失败的尝试次数
	ConfirmAttemptFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_attempt_failures_total",
			Help:      "确认阶段失败的尝试次数",
		},
		[]string{"phase"}, // operation, transaction
	)

	// ConfirmExhaustedTotal 重试用尽仍未确认
	ConfirmExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "confirm_exhausted_total",
			Help:      "重试用尽后原样返回的交易数",
		},
		[]string{"phase"},
	)

	// ConfirmDuration 确认耗时
	ConfirmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirm_duration_seconds",
			Help:      "单阶段确认耗时(秒)",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"phase"},
	)

	// PendingTransactionsGauge 最近一次巡检时的待确认交易数
	PendingTransactionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_transactions",
			Help:      "最近一次巡检时的待确认交易数",
		},
	)

	// SweepRunsTotal 巡检执行次数
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "待确认交易巡检执行次数",
		},
		[]string{"result"}, // ok, skipped, failed
	)
)

// 事件指标
var (
	// EventsEmittedTotal 领域事件数
	EventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "领域事件总数",
		},
		[]string{"event"},
	)

	// TransactionsFinalTotal 终态交易数
	TransactionsFinalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_final_total",
			Help:      "进入终态的交易数",
		},
		[]string{"type", "status"},
	)

	// ErrorsTotal 按错误码统计
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "ERROR 事件数，按错误码",
		},
		[]string{"code"},
	)
)

// 基础设施指标
var (
	// RPCFailoverTotal RPC 端点故障转移次数
	RPCFailoverTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_failover_total",
			Help:      "RPC 端点标记为不健康的次数",
		},
	)

	// KafkaMessagesProduced Kafka 生产消息数
	KafkaMessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_produced_total",
			Help:      "Kafka 生产消息总数",
		},
		[]string{"topic", "status"},
	)
)

// RecordSubmission 记录提交
func RecordSubmission(kind, result string, durationSeconds float64) {
	SubmissionsTotal.WithLabelValues(kind, result).Inc()
	if durationSeconds > 0 {
		SubmissionDuration.WithLabelValues(kind).Observe(durationSeconds)
	}
}

// RecordConfirmAttemptFailure 记录一次失败的确认尝试
func RecordConfirmAttemptFailure(phase string) {
	ConfirmAttemptFailures.WithLabelValues(phase).Inc()
}

// RecordConfirmPhase 记录确认阶段结果
func RecordConfirmPhase(phase string, confirmed bool, durationSeconds float64) {
	if !confirmed {
		ConfirmExhaustedTotal.WithLabelValues(phase).Inc()
		return
	}
	ConfirmDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordSweep 记录巡检
func RecordSweep(result string, pending int) {
	SweepRunsTotal.WithLabelValues(result).Inc()
	if pending >= 0 {
		PendingTransactionsGauge.Set(float64(pending))
	}
}

// RecordKafkaMessage 记录 Kafka 消息
func RecordKafkaMessage(topic string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	KafkaMessagesProduced.WithLabelValues(topic, status).Inc()
}

// Subscribe 订阅全部领域事件并计数
func Subscribe(bus *event.Bus) map[event.Name]event.SubscriptionID {
	return bus.OnAll(observeEvent)
}

func observeEvent(_ context.Context, e event.Event) {
	EventsEmittedTotal.WithLabelValues(string(e.Name)).Inc()

	switch e.Name {
	case event.SuccessTransaction, event.RevertedTransaction:
		if e.Transaction != nil {
			TransactionsFinalTotal.WithLabelValues(string(e.Transaction.Type()), string(e.Transaction.Status())).Inc()
		}
	case event.Error:
		if e.Err != nil {
			ErrorsTotal.WithLabelValues(e.Err.Code).Inc()
		}
	}
}

// Handler /metrics 处理器
func Handler() http.Handler {
	return promhttp.Handler()
}
