package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eidos-exchange/eidos/eidos-wallet/internal/pkg/errors"
)

// WalletStatus 钱包连接状态
type WalletStatus string

const (
	WalletStatusConnected    WalletStatus = "CONNECTED"
	WalletStatusConnecting   WalletStatus = "CONNECTING"
	WalletStatusDisconnected WalletStatus = "DISCONNECTED"
	WalletStatusWrongChain   WalletStatus = "WRONG_CHAIN"
)

// IsValid 判断状态是否合法
func (s WalletStatus) IsValid() bool {
	switch s {
	case WalletStatusConnected, WalletStatusConnecting, WalletStatusDisconnected, WalletStatusWrongChain:
		return true
	default:
		return false
	}
}

// allowsAccount 仅已连接或链不匹配时可携带账户
func (s WalletStatus) allowsAccount() bool {
	return s == WalletStatusConnected || s == WalletStatusWrongChain
}

// WalletKind 钱包后端类型
type WalletKind string

const (
	WalletKindInjected   WalletKind = "INJECTED"   // 注入式 EOA 签名器
	WalletKindAbstracted WalletKind = "ABSTRACTED" // Passkey 智能合约账户
)

// IsValid 判断类型是否合法
func (k WalletKind) IsValid() bool {
	return k == WalletKindInjected || k == WalletKindAbstracted
}

// ConnectorRef 连接器描述，仅用于展示
type ConnectorRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// WalletStateParams 构造参数
type WalletStateParams struct {
	Account   string
	Status    WalletStatus
	Kind      WalletKind
	Connector *ConnectorRef
}

// WalletState 当前可用钱包的不可变快照
//
// 所有字段均可比较，两个快照可直接用 == 判断是否相同。
type WalletState struct {
	account      common.Address
	hasAccount   bool
	status       WalletStatus
	kind         WalletKind
	connector    ConnectorRef
	hasConnector bool
}

// EmptyWalletState 返回未连接状态
func EmptyWalletState() WalletState {
	return WalletState{status: WalletStatusDisconnected}
}

// NewWalletState 校验并创建钱包状态
func NewWalletState(p WalletStateParams) (WalletState, error) {
	if !p.Status.IsValid() {
		return WalletState{}, errors.ErrInvalidWalletState.WithMessagef("unknown status %q", p.Status)
	}

	state := WalletState{status: p.Status}

	if p.Account != "" {
		addr, err := ParseAddress(p.Account)
		if err != nil {
			return WalletState{}, err
		}
		if !p.Status.allowsAccount() {
			return WalletState{}, errors.ErrInvalidWalletState.WithMessagef("account present with status %s", p.Status)
		}
		state.account = addr
		state.hasAccount = true
	}

	if p.Kind != "" {
		if !p.Kind.IsValid() {
			return WalletState{}, errors.ErrInvalidWalletState.WithMessagef("unknown wallet kind %q", p.Kind)
		}
		if !state.hasAccount {
			return WalletState{}, errors.ErrInvalidWalletState.WithMessage("wallet kind requires an account")
		}
		state.kind = p.Kind
	}

	if p.Connector != nil {
		state.connector = *p.Connector
		state.hasConnector = true
	}

	return state, nil
}

// Account 返回账户地址
func (s WalletState) Account() (common.Address, bool) {
	return s.account, s.hasAccount
}

// Status 返回连接状态
func (s WalletState) Status() WalletStatus {
	if s.status == "" {
		return WalletStatusDisconnected
	}
	return s.status
}

// Kind 返回钱包类型
func (s WalletState) Kind() (WalletKind, bool) {
	return s.kind, s.kind != ""
}

// Connector 返回连接器描述
func (s WalletState) Connector() (ConnectorRef, bool) {
	return s.connector, s.hasConnector
}

// IsConnected 已连接且可用于提交
func (s WalletState) IsConnected() bool {
	return s.status == WalletStatusConnected && s.hasAccount && s.kind != ""
}

// Equal 全字段值比较
func (s WalletState) Equal(other WalletState) bool {
	return s == other
}

// ParseAddress 校验并解析地址
//
// 接受带或不带 0x 前缀的 40 位十六进制；大小写混合时必须符合 EIP-55 校验和。
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.ErrInvalidAddress.WithDetail("address", s)
	}
	addr := common.HexToAddress(s)

	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexPart != strings.ToLower(hexPart) && hexPart != strings.ToUpper(hexPart) {
		if addr.Hex()[2:] != hexPart {
			return common.Address{}, errors.ErrInvalidAddress.WithMessage("address checksum mismatch").WithDetail("address", s)
		}
	}
	return addr, nil
}
