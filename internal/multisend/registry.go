package multisend

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrUnsupportedChain is returned when no batch contract deployment is
// known for the requested chain and contract version.
var ErrUnsupportedChain = errors.New("multisend: no batch contract for chain/version")

// canonical MultiSendCallOnly v1.3.0 deployment, shared across most chains.
var callOnlyV130 = common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D")

// EIP-155 variant deployment of the same contract.
var callOnlyV130EIP155 = common.HexToAddress("0xA1dabEF33b3B82c7814B6D82A79e50F4AC44102B")

type registryKey struct {
	chainID uint64
	version string
}

// Registry maps (chain id, Safe version) to the MultiSendCallOnly
// deployment the builder should target. Deployments are chain- and
// version-specific; resolution failure is a configuration error, not
// something to paper over with a default.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]common.Address
}

// NewRegistry returns a registry preloaded with the well-known v1.3.0
// MultiSendCallOnly deployments.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[registryKey]common.Address)}

	for _, chainID := range []uint64{1, 5, 10, 56, 100, 137, 250, 8453, 42161, 43114} {
		r.Register(chainID, "1.3.0", callOnlyV130)
	}
	// Chains whose deployment used the EIP-155 bytecode variant.
	for _, chainID := range []uint64{324, 1101} {
		r.Register(chainID, "1.3.0", callOnlyV130EIP155)
	}
	return r
}

// Register adds or overrides a deployment entry.
func (r *Registry) Register(chainID uint64, version string, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey{chainID: chainID, version: version}] = addr
}

// Resolve returns the batch contract address for the chain/version pair.
func (r *Registry) Resolve(chainID uint64, version string) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.entries[registryKey{chainID: chainID, version: version}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: chain %d version %s",
			ErrUnsupportedChain, chainID, version)
	}
	return addr, nil
}
