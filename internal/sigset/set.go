// Package sigset collects owner signatures for one SafeTx digest and
// produces the packed byte layout the Safe contract walks during
// execTransaction. Entries are keyed by signer address; the canonical
// output order is ascending numeric address value, which the contract
// enforces on-chain. Insertion order never matters.
package sigset

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrDuplicateSignature is returned when the signer already has an
	// entry for this digest. The existing entry is left untouched.
	ErrDuplicateSignature = errors.New("sigset: signer already signed this digest")

	// ErrNotASigner is returned when the signer is not an owner in the
	// snapshot passed to Add.
	ErrNotASigner = errors.New("sigset: signer is not a current owner")

	// ErrBadSignature is returned when a recoverable signature does not
	// recover to the claimed signer, or is structurally invalid.
	ErrBadSignature = errors.New("sigset: signature does not verify")

	// ErrUnknownSignatureType is returned for a type tag Pack or Add does
	// not understand.
	ErrUnknownSignatureType = errors.New("sigset: unknown signature type")
)

// Set accumulates signatures over a single digest. Add is atomic with
// respect to its own duplicate check; concurrent signers for the same
// digest are expected.
type Set struct {
	digest common.Hash

	mu   sync.Mutex
	sigs map[common.Address]model.Signature
}

// New creates an empty signature set bound to digest.
func New(digest common.Hash) *Set {
	return &Set{
		digest: digest,
		sigs:   make(map[common.Address]model.Signature),
	}
}

// Digest returns the digest this set signs over.
func (s *Set) Digest() common.Hash {
	return s.digest
}

// Add records sig after validating it against the owner snapshot. The
// signature itself is verified locally where possible (EOA and eth_sign
// recovery); claims from external sources are never trusted as-is.
func (s *Set) Add(sig model.Signature, owners model.SignerSet) error {
	if !owners.Contains(sig.Signer) {
		return fmt.Errorf("%w: %s", ErrNotASigner, sig.Signer)
	}
	if err := s.verify(sig); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sigs[sig.Signer]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSignature, sig.Signer)
	}
	s.sigs[sig.Signer] = sig
	return nil
}

func (s *Set) verify(sig model.Signature) error {
	switch sig.Type {
	case model.SignatureTypeEOA:
		return s.verifyRecoverable(sig, s.digest, 27)

	case model.SignatureTypeEthSign:
		return s.verifyRecoverable(sig, safetx.EthSignDigest(s.digest), 31)

	case model.SignatureTypeApprovedHash:
		if len(sig.Bytes) != model.SignatureLength {
			return fmt.Errorf("%w: approved-hash entry must be %d bytes",
				ErrBadSignature, model.SignatureLength)
		}
		if !bytes.Equal(sig.Bytes[12:32], sig.Signer.Bytes()) || sig.Bytes[64] != 1 {
			return fmt.Errorf("%w: malformed approved-hash entry for %s",
				ErrBadSignature, sig.Signer)
		}
		return nil

	case model.SignatureTypeContract:
		// EIP-1271 validity is decided by the signer contract on-chain;
		// nothing to check locally beyond having a verification blob.
		if len(sig.VerifierData) == 0 {
			return fmt.Errorf("%w: contract signature without verifier data", ErrBadSignature)
		}
		return nil

	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignatureType, sig.Type)
	}
}

func (s *Set) verifyRecoverable(sig model.Signature, digest common.Hash, vBase byte) error {
	if len(sig.Bytes) != model.SignatureLength {
		return fmt.Errorf("%w: expected %d bytes, got %d",
			ErrBadSignature, model.SignatureLength, len(sig.Bytes))
	}
	v := sig.Bytes[64]
	if v != vBase && v != vBase+1 {
		return fmt.Errorf("%w: recovery id %d out of range for type %s",
			ErrBadSignature, v, sig.Type)
	}

	normalized := make([]byte, model.SignatureLength)
	copy(normalized, sig.Bytes)
	normalized[64] = v - vBase

	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != sig.Signer {
		return fmt.Errorf("%w: recovered %s, claimed %s",
			ErrBadSignature, crypto.PubkeyToAddress(*pub), sig.Signer)
	}
	return nil
}

// Count returns the number of distinct signers with an entry.
func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sigs)
}

// Has reports whether signer already has an entry.
func (s *Set) Has(signer common.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sigs[signer]
	return ok
}

// IsSatisfied reports whether the set meets the snapshot's threshold,
// counting only entries whose signer is still an owner. Signatures from
// since-removed owners remain stored but stop counting.
func (s *Set) IsSatisfied(owners model.SignerSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	valid := uint64(0)
	for signer := range s.sigs {
		if owners.Contains(signer) {
			valid++
		}
	}
	return owners.Threshold > 0 && valid >= owners.Threshold
}

// Ordered returns the entries sorted by ascending numeric signer address.
// This order is load-bearing: the contract rejects any other arrangement.
func (s *Set) Ordered() []model.Signature {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Signature, 0, len(s.sigs))
	for _, sig := range s.sigs {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Signer.Bytes(), out[j].Signer.Bytes()) < 0
	})
	return out
}

// Pack concatenates the ordered 65-byte static parts, then appends the
// dynamic tails of contract signatures. A contract entry's static part is
// v=0, r=signer address, s=byte offset of its tail within the blob.
func (s *Set) Pack() ([]byte, error) {
	ordered := s.Ordered()

	staticLen := len(ordered) * model.SignatureLength
	static := make([]byte, 0, staticLen)
	var dynamic []byte

	for _, sig := range ordered {
		switch sig.Type {
		case model.SignatureTypeEOA, model.SignatureTypeEthSign, model.SignatureTypeApprovedHash:
			if len(sig.Bytes) != model.SignatureLength {
				return nil, fmt.Errorf("%w: %s entry is %d bytes",
					ErrBadSignature, sig.Type, len(sig.Bytes))
			}
			static = append(static, sig.Bytes...)

		case model.SignatureTypeContract:
			part := make([]byte, model.SignatureLength)
			copy(part[12:32], sig.Signer.Bytes())
			offset := uint64(staticLen + len(dynamic))
			putUint64Word(part[32:64], offset)
			// part[64] stays 0: contract signature marker.
			static = append(static, part...)

			lenWord := make([]byte, 32)
			putUint64Word(lenWord, uint64(len(sig.VerifierData)))
			dynamic = append(dynamic, lenWord...)
			dynamic = append(dynamic, sig.VerifierData...)

		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownSignatureType, sig.Type)
		}
	}

	return append(static, dynamic...), nil
}

func putUint64Word(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[len(dst)-1-i] = byte(v >> (8 * i))
	}
}
