// Package store defines the persistence boundary for the coordinator's
// audit trail. The reconciler records every slot and candidate state
// change; the postgres implementation persists them for later review.
package store

import (
	"context"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/ethereum/go-ethereum/common"
)

// AuditRepository persists nonce slot transitions.
type AuditRepository interface {
	SaveTransitions(ctx context.Context, transitions []queue.Transition) error
	ListTransitions(ctx context.Context, safe common.Address, nonce uint64) ([]queue.Transition, error)
	ListSince(ctx context.Context, safe common.Address, since time.Time) ([]queue.Transition, error)
}
