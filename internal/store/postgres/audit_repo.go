package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/ethereum/go-ethereum/common"
)

// AuditRepo persists nonce slot transitions. It satisfies both the
// store.AuditRepository interface and the reconciler's AuditSink.
type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

const transitionColumns = 8

// SaveTransitions batch-inserts transitions in one statement. Replayed
// ids are ignored so a retried reconciliation cannot duplicate rows.
func (r *AuditRepo) SaveTransitions(ctx context.Context, transitions []queue.Transition) error {
	if len(transitions) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query, args := buildTransitionInsert(transitions)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert slot transitions: %w", err)
	}
	return nil
}

func buildTransitionInsert(transitions []queue.Transition) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO slot_transitions
			(id, safe_address, chain_id, nonce, digest, from_state, to_state, occurred_at)
		VALUES `)

	args := make([]interface{}, 0, len(transitions)*transitionColumns)
	for i, tr := range transitions {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * transitionColumns
		sb.WriteString("(")
		for j := 1; j <= transitionColumns; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")
		args = append(args,
			tr.ID, tr.Safe.Hex(), tr.ChainID, tr.Nonce,
			tr.Digest.Hex(), tr.From, tr.To, tr.At,
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")
	return sb.String(), args
}

// ListTransitions returns the audit trail of one nonce slot, oldest
// first.
func (r *AuditRepo) ListTransitions(ctx context.Context, safe common.Address, nonce uint64) ([]queue.Transition, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, safe_address, chain_id, nonce, digest, from_state, to_state, occurred_at
		FROM slot_transitions
		WHERE safe_address = $1 AND nonce = $2
		ORDER BY occurred_at ASC
	`, safe.Hex(), nonce)
	if err != nil {
		return nil, fmt.Errorf("list slot transitions: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

// ListSince returns every transition of a safe after the given time,
// oldest first.
func (r *AuditRepo) ListSince(ctx context.Context, safe common.Address, since time.Time) ([]queue.Transition, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, safe_address, chain_id, nonce, digest, from_state, to_state, occurred_at
		FROM slot_transitions
		WHERE safe_address = $1 AND occurred_at > $2
		ORDER BY occurred_at ASC
	`, safe.Hex(), since)
	if err != nil {
		return nil, fmt.Errorf("list slot transitions since: %w", err)
	}
	defer rows.Close()

	return scanTransitions(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTransitions(rows rowScanner) ([]queue.Transition, error) {
	var out []queue.Transition
	for rows.Next() {
		var (
			tr        queue.Transition
			safeHex   string
			digestHex string
		)
		if err := rows.Scan(&tr.ID, &safeHex, &tr.ChainID, &tr.Nonce,
			&digestHex, &tr.From, &tr.To, &tr.At); err != nil {
			return nil, fmt.Errorf("scan slot transition: %w", err)
		}
		tr.Safe = common.HexToAddress(safeHex)
		tr.Digest = common.HexToHash(digestHex)
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slot transitions: %w", err)
	}
	return out, nil
}
