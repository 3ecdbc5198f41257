package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Operation selects how the Safe performs a call.
type Operation uint8

const (
	OperationCall         Operation = 0
	OperationDelegateCall Operation = 1
)

func (o Operation) String() string {
	switch o {
	case OperationCall:
		return "CALL"
	case OperationDelegateCall:
		return "DELEGATECALL"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether the operation is one the Safe contract accepts.
func (o Operation) Valid() bool {
	return o == OperationCall || o == OperationDelegateCall
}

// Call is a single target invocation, either standing alone or as one
// element of a MultiSend batch. Nonce and gas parameters live on the
// wrapping SafeTx, never here.
type Call struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation
}

// SafeTx is the canonical unit of multisig authorization. Every field
// except the signature collection participates in the EIP-712 digest, so
// two SafeTx values with equal fields are the same transaction as far as
// the verifying contract is concerned.
type SafeTx struct {
	Safe    common.Address
	ChainID uint64

	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation Operation

	SafeTxGas *big.Int
	BaseGas   *big.Int
	GasPrice  *big.Int

	GasToken       common.Address
	RefundReceiver common.Address

	// Nonce is assigned at proposal time and immutable afterwards. Multiple
	// pending transactions may share a nonce; at most one ever executes.
	Nonce uint64
}

// ValueOrZero returns the transfer value, treating nil as zero.
func (tx *SafeTx) ValueOrZero() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

// IsRejection reports whether the transaction is a nonce-consuming
// zero-value self-call, the shape used to cancel a competing proposal.
func (tx *SafeTx) IsRejection() bool {
	return tx.To == tx.Safe &&
		(tx.Value == nil || tx.Value.Sign() == 0) &&
		len(tx.Data) == 0 &&
		tx.Operation == OperationCall
}
