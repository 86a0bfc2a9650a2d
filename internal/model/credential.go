package model

// Credential 本设备保存的 Passkey 账户凭证，存在即表示当前设备使用抽象账户
type Credential struct {
	// WebAuthn credential id
	ID       string `json:"id"`
	Username string `json:"username"`
	// 智能账户地址
	Address string `json:"address"`
	// hex 编码的公钥
	PublicKey string `json:"public_key"`
	CreatedAt int64  `json:"created_at"`
}
