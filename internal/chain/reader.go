// Package chain reads live Safe contract state over JSON-RPC: the
// current nonce, the owner set and threshold, and contract metadata.
// Nonce and owner reads always hit the node; only slow-moving metadata
// (chain id, contract version) goes through the TTL cache.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/cache"
	"github.com/emperorhan/safe-coordinator/internal/chain/rpc"
	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const safeReadABI = `[
	{"name": "nonce", "type": "function", "stateMutability": "view",
	 "inputs": [], "outputs": [{"type": "uint256"}]},
	{"name": "getOwners", "type": "function", "stateMutability": "view",
	 "inputs": [], "outputs": [{"type": "address[]"}]},
	{"name": "getThreshold", "type": "function", "stateMutability": "view",
	 "inputs": [], "outputs": [{"type": "uint256"}]},
	{"name": "VERSION", "type": "function", "stateMutability": "view",
	 "inputs": [], "outputs": [{"type": "string"}]},
	{"name": "approveHash", "type": "function", "stateMutability": "nonpayable",
	 "inputs": [{"name": "hashToApprove", "type": "bytes32"}], "outputs": []}
]`

// Reader reads one Safe's on-chain state. It satisfies the reconciler's
// ChainState dependency.
type Reader struct {
	client  *rpc.Client
	safe    common.Address
	safeABI abi.ABI
	meta    *cache.LRU[string, string]
	logger  *slog.Logger
}

func NewReader(client *rpc.Client, safe common.Address, logger *slog.Logger) (*Reader, error) {
	parsed, err := abi.JSON(strings.NewReader(safeReadABI))
	if err != nil {
		return nil, fmt.Errorf("parse safe abi: %w", err)
	}
	return &Reader{
		client:  client,
		safe:    safe,
		safeABI: parsed,
		meta:    cache.NewLRU[string, string](8, 10*time.Minute),
		logger:  logger.With("component", "chain_reader", "safe", safe.Hex()),
	}, nil
}

// Safe returns the address this reader is bound to.
func (r *Reader) Safe() common.Address {
	return r.safe
}

// NextNonce returns the contract's nonce, i.e. one past the highest
// executed nonce. Never cached.
func (r *Reader) NextNonce(ctx context.Context) (uint64, error) {
	out, err := r.viewCall(ctx, "nonce")
	if err != nil {
		return 0, err
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("nonce: unexpected return type %T", out[0])
	}
	if !nonce.IsUint64() {
		return 0, fmt.Errorf("nonce %s out of range", nonce)
	}
	return nonce.Uint64(), nil
}

// SignerSet returns the current owner list and threshold. The two reads
// are not atomic; a rotation between them shows up as a failed
// signature re-validation on the next pass rather than silent
// corruption. Never cached.
func (r *Reader) SignerSet(ctx context.Context) (model.SignerSet, error) {
	out, err := r.viewCall(ctx, "getOwners")
	if err != nil {
		return model.SignerSet{}, err
	}
	owners, ok := out[0].([]common.Address)
	if !ok {
		return model.SignerSet{}, fmt.Errorf("getOwners: unexpected return type %T", out[0])
	}

	out, err = r.viewCall(ctx, "getThreshold")
	if err != nil {
		return model.SignerSet{}, err
	}
	threshold, ok := out[0].(*big.Int)
	if !ok {
		return model.SignerSet{}, fmt.Errorf("getThreshold: unexpected return type %T", out[0])
	}

	return model.SignerSet{Owners: owners, Threshold: threshold.Uint64()}, nil
}

// Version returns the Safe contract version string, cached.
func (r *Reader) Version(ctx context.Context) (string, error) {
	if v, ok := r.meta.Get("version"); ok {
		return v, nil
	}
	out, err := r.viewCall(ctx, "VERSION")
	if err != nil {
		return "", err
	}
	version, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("VERSION: unexpected return type %T", out[0])
	}
	r.meta.Put("version", version)
	return version, nil
}

// ChainID returns the node's chain id, cached.
func (r *Reader) ChainID(ctx context.Context) (uint64, error) {
	if v, ok := r.meta.Get("chain_id"); ok {
		var id uint64
		if _, err := fmt.Sscanf(v, "%d", &id); err == nil {
			return id, nil
		}
	}
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	r.meta.Put("chain_id", fmt.Sprintf("%d", id))
	return id, nil
}

// ApproveHashCalldata builds the calldata for an on-chain approveHash
// call, the signature path used when the submitter is itself an owner.
func (r *Reader) ApproveHashCalldata(digest common.Hash) ([]byte, error) {
	data, err := r.safeABI.Pack("approveHash", [32]byte(digest))
	if err != nil {
		return nil, fmt.Errorf("encode approveHash: %w", err)
	}
	return data, nil
}

func (r *Reader) viewCall(ctx context.Context, method string) ([]interface{}, error) {
	data, err := r.safeABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	raw, err := r.client.Call(ctx, r.safe.Hex(), data)
	if err != nil {
		if gs := DecodeGSError(err.Error()); gs != nil {
			return nil, gs
		}
		return nil, err
	}
	out, err := r.safeABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty return data", method)
	}
	return out, nil
}
