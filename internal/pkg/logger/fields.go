package logger

import "go.uber.org/zap"

// 钱包领域常用字段

func Account(addr string) zap.Field {
	return zap.String("account", addr)
}

func TxHash(hash string) zap.Field {
	return zap.String("tx_hash", hash)
}

func OperationHash(hash string) zap.Field {
	return zap.String("operation_hash", hash)
}

func TxType(t string) zap.Field {
	return zap.String("tx_type", t)
}

func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}
