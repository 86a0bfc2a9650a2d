package model

// KVEntry 键值存储行，用于 postgres 存储后端
type KVEntry struct {
	Key       string `gorm:"column:entry_key;type:varchar(255);primaryKey" json:"key"`
	Value     string `gorm:"column:value;type:text;not null" json:"value"`
	UpdatedAt int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (KVEntry) TableName() string {
	return "wallet_kv_entries"
}
