// Package safetx computes the EIP-712 structured digest of a Safe
// transaction. The byte layout must match the verifying contract exactly:
// the contract recomputes this hash during execTransaction and rejects
// signatures made over anything else, so the words are packed by hand
// rather than routed through a generic typed-data encoder.
package safetx

import (
	"math/big"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// keccak256("EIP712Domain(uint256 chainId,address verifyingContract)")
var domainSeparatorTypehash = common.HexToHash(
	"0x47e79534a245952e8b16893a336b85a3d9ea9fa8c573f3d803afb92a79469218")

// keccak256("SafeTx(address to,uint256 value,bytes data,uint8 operation,
// uint256 safeTxGas,uint256 baseGas,uint256 gasPrice,address gasToken,
// address refundReceiver,uint256 nonce)")
var safeTxTypehash = common.HexToHash(
	"0xbb8310d486368db6bd6f849402fdd73ad53d316b5a4b2644ad6efe0f941286d8")

var ethSignPrefix = []byte("\x19Ethereum Signed Message:\n32")

// DomainSeparator derives the per-Safe, per-chain domain hash that scopes
// every SafeTx digest.
func DomainSeparator(chainID uint64, safe common.Address) common.Hash {
	return crypto.Keccak256Hash(
		domainSeparatorTypehash.Bytes(),
		uint64Word(chainID),
		addressWord(safe),
	)
}

// Digest returns the canonical structured hash of tx. It is a pure
// function of every SafeTx field; changing any one of them, including a
// zero-valued gas field or the nonce, yields a different digest.
func Digest(tx *model.SafeTx) common.Hash {
	structHash := crypto.Keccak256Hash(
		safeTxTypehash.Bytes(),
		addressWord(tx.To),
		bigWord(tx.Value),
		crypto.Keccak256(tx.Data), // dynamic field: hash embedded, not inlined
		uint64Word(uint64(tx.Operation)),
		bigWord(tx.SafeTxGas),
		bigWord(tx.BaseGas),
		bigWord(tx.GasPrice),
		addressWord(tx.GasToken),
		addressWord(tx.RefundReceiver),
		uint64Word(tx.Nonce),
	)

	domain := DomainSeparator(tx.ChainID, tx.Safe)
	return crypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		domain.Bytes(),
		structHash.Bytes(),
	)
}

// EthSignDigest applies the personal-message prefix to a SafeTx digest.
// Owners signing through eth_sign produce signatures over this value.
func EthSignDigest(digest common.Hash) common.Hash {
	return crypto.Keccak256Hash(ethSignPrefix, digest.Bytes())
}

func addressWord(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func uint64Word(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func bigWord(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}
