// Package gate turns a quorum-satisfied candidate into the final
// execTransaction submission payload. It performs no I/O and never
// broadcasts; the surrounding system hands the payload to its
// broadcaster collaborator.
package gate

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/metrics"
	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrThresholdNotMet is returned when the candidate's signature set
	// does not satisfy the current owner threshold.
	ErrThresholdNotMet = errors.New("gate: signature threshold not met")

	// ErrStaleCandidate is returned when the candidate lost its nonce to
	// a competing execution and can never be executed.
	ErrStaleCandidate = errors.New("gate: candidate superseded")
)

const execTransactionABI = `[{
	"name": "execTransaction",
	"type": "function",
	"stateMutability": "payable",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "data", "type": "bytes"},
		{"name": "operation", "type": "uint8"},
		{"name": "safeTxGas", "type": "uint256"},
		{"name": "baseGas", "type": "uint256"},
		{"name": "gasPrice", "type": "uint256"},
		{"name": "gasToken", "type": "address"},
		{"name": "refundReceiver", "type": "address"},
		{"name": "signatures", "type": "bytes"}
	],
	"outputs": [{"name": "success", "type": "bool"}]
}]`

// SubmissionPayload is the fully assembled call the broadcaster submits.
type SubmissionPayload struct {
	To    common.Address // the Safe contract
	Value *big.Int       // always zero; refunds are paid from the Safe
	Data  []byte         // execTransaction calldata
}

// Gate finalizes candidates into submission payloads.
type Gate struct {
	safeABI abi.ABI
}

func New() (*Gate, error) {
	parsed, err := abi.JSON(strings.NewReader(execTransactionABI))
	if err != nil {
		return nil, fmt.Errorf("parse execTransaction abi: %w", err)
	}
	return &Gate{safeABI: parsed}, nil
}

// Finalize produces the execTransaction payload for cand. It fails with
// ErrThresholdNotMet before quorum and ErrStaleCandidate once the nonce
// was consumed by a competitor. Repeated calls on the same satisfied
// candidate yield byte-identical payloads.
func (g *Gate) Finalize(cand *queue.Candidate, owners model.SignerSet) (*SubmissionPayload, error) {
	switch cand.Status() {
	case queue.CandidateSuperseded:
		return nil, fmt.Errorf("%w: nonce %d digest %s",
			ErrStaleCandidate, cand.Tx.Nonce, cand.Digest)
	case queue.CandidateExecuted:
		// Already on-chain; producing the payload again is harmless and
		// keeps Finalize idempotent for retrying callers.
	}

	if !cand.Sigs.IsSatisfied(owners) {
		return nil, fmt.Errorf("%w: have %d of %d",
			ErrThresholdNotMet, cand.Sigs.Count(), owners.Threshold)
	}

	signatures, err := cand.Sigs.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack signatures: %w", err)
	}

	tx := cand.Tx
	data, err := g.safeABI.Pack("execTransaction",
		tx.To,
		tx.ValueOrZero(),
		tx.Data,
		uint8(tx.Operation),
		orZero(tx.SafeTxGas),
		orZero(tx.BaseGas),
		orZero(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		signatures,
	)
	if err != nil {
		return nil, fmt.Errorf("encode execTransaction: %w", err)
	}

	metrics.FinalizedTotal.WithLabelValues(tx.Safe.Hex()).Inc()
	return &SubmissionPayload{
		To:    tx.Safe,
		Value: new(big.Int),
		Data:  data,
	}, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
