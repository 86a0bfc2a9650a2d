package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// UserOperation ERC-4337 用户操作 (EntryPoint v0.6 编码)
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"` // 前 20 字节为 paymaster 地址
	Signature            hexutil.Bytes  `json:"signature"`
}

// PaymasterAddress 取 paymaster 地址，没有时返回零地址
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// HasPaymaster 是否由 paymaster 代付
func (op *UserOperation) HasPaymaster() bool {
	return op.PaymasterAddress() != (common.Address{})
}

// TotalGasLimit 总 gas 上限
func (op *UserOperation) TotalGasLimit() *big.Int {
	total := new(big.Int)
	for _, v := range []*hexutil.Big{op.CallGasLimit, op.VerificationGasLimit, op.PreVerificationGas} {
		if v != nil {
			total.Add(total, v.ToInt())
		}
	}
	return total
}

// UserOperationReceipt eth_getUserOperationReceipt 返回结构
type UserOperationReceipt struct {
	UserOpHash    common.Hash     `json:"userOpHash"`
	EntryPoint    common.Address  `json:"entryPoint"`
	Sender        common.Address  `json:"sender"`
	Nonce         *hexutil.Big    `json:"nonce"`
	Paymaster     common.Address  `json:"paymaster"`
	ActualGasCost *hexutil.Big    `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big    `json:"actualGasUsed"`
	Success       bool            `json:"success"`
	Reason        string          `json:"reason,omitempty"`
	Receipt       BundleTxReceipt `json:"receipt"`
}

// BundleTxReceipt 打包交易的回执摘要
type BundleTxReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
}
