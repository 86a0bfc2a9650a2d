package model

// WalletEventMessage 领域事件的 Kafka 消息体
type WalletEventMessage struct {
	EventID     string             `json:"event_id"`
	Event       string             `json:"event"`
	Type        TransactionType    `json:"type,omitempty"`
	Transaction *TransactionRecord `json:"transaction,omitempty"`
	ErrorCode   string             `json:"error_code,omitempty"`
	ErrorMsg    string             `json:"error_message,omitempty"`
	EmittedAt   int64              `json:"emitted_at"` // 毫秒时间戳
}
