package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// SentinelOwner anchors the Safe contract's owner linked list. It is the
// "previous owner" of the first entry in the on-chain list.
var SentinelOwner = common.HexToAddress("0x0000000000000000000000000000000000000001")

// SignerSet is a point-in-time snapshot of a Safe's owners and threshold.
// Owner membership is mutated only by executed owner-management
// transactions, so a snapshot goes stale the moment one lands; validating
// code takes the snapshot as an explicit argument and callers re-fetch it
// rather than holding one long-term.
type SignerSet struct {
	Owners    []common.Address
	Threshold uint64
}

// Contains reports whether addr is an owner in this snapshot.
func (s SignerSet) Contains(addr common.Address) bool {
	for _, owner := range s.Owners {
		if owner == addr {
			return true
		}
	}
	return false
}

// PrevOwner returns the owner preceding addr in the contract's linked
// list, or the sentinel for the first owner. Owner-management calls
// (removeOwner, swapOwner) need this pair. The second return is false when
// addr is not an owner.
func (s SignerSet) PrevOwner(addr common.Address) (common.Address, bool) {
	for i, owner := range s.Owners {
		if owner != addr {
			continue
		}
		if i == 0 {
			return SentinelOwner, true
		}
		return s.Owners[i-1], true
	}
	return common.Address{}, false
}
