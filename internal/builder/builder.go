// Package builder assembles canonical SafeTx values from one or more
// calls. A single call maps directly onto the transaction; a batch is
// packed through the MultiSend codec and dispatched as a delegatecall to
// the chain's batch-execution contract.
package builder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/multisend"
	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyBatch is returned when Build is given no calls.
var ErrEmptyBatch = errors.New("builder: empty call batch")

// GasOverrides carries the optional gas parameters of a SafeTx. Nil
// fields keep the Safe's zero defaults, which the execution environment
// reads as "estimate / unbounded".
type GasOverrides struct {
	SafeTxGas      *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       *common.Address
	RefundReceiver *common.Address
}

// Builder constructs SafeTx values for one Safe on one chain.
type Builder struct {
	safe     common.Address
	chainID  uint64
	version  string
	registry *multisend.Registry
}

func New(safe common.Address, chainID uint64, version string, registry *multisend.Registry) *Builder {
	return &Builder{
		safe:     safe,
		chainID:  chainID,
		version:  version,
		registry: registry,
	}
}

// Build produces an unsigned SafeTx at the given nonce. Nonce assignment
// policy is the reconciler's concern; Build never contacts anything.
func (b *Builder) Build(calls []model.Call, nonce uint64, gas GasOverrides) (*model.SafeTx, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}

	tx := &model.SafeTx{
		Safe:    b.safe,
		ChainID: b.chainID,
		Nonce:   nonce,
	}

	if len(calls) == 1 {
		call := calls[0]
		if !call.Operation.Valid() {
			return nil, fmt.Errorf("builder: invalid operation %d", call.Operation)
		}
		tx.To = call.To
		tx.Value = call.Value
		tx.Data = call.Data
		tx.Operation = call.Operation
	} else {
		packed, err := multisend.Encode(calls)
		if err != nil {
			return nil, fmt.Errorf("encode batch: %w", err)
		}
		target, err := b.registry.Resolve(b.chainID, b.version)
		if err != nil {
			return nil, err
		}
		tx.To = target
		tx.Value = new(big.Int)
		tx.Data = packed
		tx.Operation = model.OperationDelegateCall
	}

	applyGas(tx, gas)
	return tx, nil
}

// BuildRejection produces the zero-value self-call that consumes nonce
// without doing anything else, invalidating every competing proposal at
// that nonce once executed.
func (b *Builder) BuildRejection(nonce uint64) (*model.SafeTx, error) {
	return b.Build([]model.Call{{
		To:        b.safe,
		Value:     new(big.Int),
		Operation: model.OperationCall,
	}}, nonce, GasOverrides{})
}

func applyGas(tx *model.SafeTx, gas GasOverrides) {
	if gas.SafeTxGas != nil {
		tx.SafeTxGas = gas.SafeTxGas
	}
	if gas.BaseGas != nil {
		tx.BaseGas = gas.BaseGas
	}
	if gas.GasPrice != nil {
		tx.GasPrice = gas.GasPrice
	}
	if gas.GasToken != nil {
		tx.GasToken = *gas.GasToken
	}
	if gas.RefundReceiver != nil {
		tx.RefundReceiver = *gas.RefundReceiver
	}
}
