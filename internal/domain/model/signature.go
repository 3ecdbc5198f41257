package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// SignatureType tags how a signature entry must be encoded and verified.
// Values match the transaction service wire names.
type SignatureType string

const (
	// SignatureTypeEOA is a standard secp256k1 recoverable signature over
	// the SafeTx digest (v in {27, 28}).
	SignatureTypeEOA SignatureType = "EOA"

	// SignatureTypeEthSign is a recoverable signature over the
	// "\x19Ethereum Signed Message" prefixed digest (v in {31, 32}).
	SignatureTypeEthSign SignatureType = "ETH_SIGN"

	// SignatureTypeApprovedHash marks an owner that approved the digest
	// on-chain (or will, as the submitter). Encoded as v=1, r=owner, s=0.
	SignatureTypeApprovedHash SignatureType = "APPROVED_HASH"

	// SignatureTypeContract is an EIP-1271 indirection: the static part
	// points at a dynamic verification blob appended after all entries.
	SignatureTypeContract SignatureType = "CONTRACT_SIGNATURE"
)

// SignatureLength is the size of one static signature part (r ‖ s ‖ v).
const SignatureLength = 65

// Signature is one owner's authorization of a SafeTx digest.
type Signature struct {
	Signer common.Address
	Type   SignatureType

	// Bytes is the 65-byte static part for EOA, ETH_SIGN and APPROVED_HASH
	// entries. Empty for CONTRACT_SIGNATURE entries, whose static part is
	// synthesized at pack time.
	Bytes []byte

	// VerifierData is the dynamic EIP-1271 blob for CONTRACT_SIGNATURE
	// entries; unused otherwise.
	VerifierData []byte
}

// NewApprovedHashSignature builds the marker entry for an owner that
// approves the digest on-chain instead of signing it.
func NewApprovedHashSignature(owner common.Address) Signature {
	b := make([]byte, SignatureLength)
	copy(b[12:32], owner.Bytes())
	b[64] = 1
	return Signature{Signer: owner, Type: SignatureTypeApprovedHash, Bytes: b}
}
