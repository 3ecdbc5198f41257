package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/alert"
	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/metrics"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/emperorhan/safe-coordinator/internal/sigset"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// ChainState reads the Safe's live on-chain state. Every call returns a
// fresh snapshot; nothing here is cached across reconciliations.
type ChainState interface {
	// NextNonce returns the contract's nonce, i.e. one past the highest
	// executed nonce.
	NextNonce(ctx context.Context) (uint64, error)

	// SignerSet returns the current owner list and threshold.
	SignerSet(ctx context.Context) (model.SignerSet, error)
}

// PendingRecord is one transaction reported by the external pending
// source. Everything in it is untrusted until re-validated locally.
type PendingRecord struct {
	Tx            *model.SafeTx
	ClaimedDigest common.Hash
	IsExecuted    bool
	Confirmations []model.Signature
}

// PendingSource lists the transactions the relay service knows about for
// the Safe, executed and pending alike, from startNonce upward.
type PendingSource interface {
	ListTransactions(ctx context.Context, startNonce uint64) ([]PendingRecord, error)
}

// AuditSink persists slot transitions. Optional.
type AuditSink interface {
	SaveTransitions(ctx context.Context, transitions []Transition) error
}

// Result aggregates one reconciliation run.
type Result struct {
	OnChainNonce       uint64    `json:"on_chain_nonce"`
	NextAvailableNonce uint64    `json:"next_available_nonce"`
	Pending            int       `json:"pending"`
	Proposed           int       `json:"proposed"`
	Confirmed          int       `json:"confirmed"`
	Superseded         int       `json:"superseded"`
	SignaturesAdded    int       `json:"signatures_added"`
	SignaturesRejected int       `json:"signatures_rejected"`
	DigestMismatches   int       `json:"digest_mismatches"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Reconciler merges on-chain nonce state with the relay service's view of
// pending transactions, re-validating every claim against the current
// signer set.
type Reconciler struct {
	queue   *Queue
	chain   ChainState
	pending PendingSource
	alerter alert.Alerter
	audit   AuditSink
	logger  *slog.Logger
}

func NewReconciler(
	q *Queue,
	chain ChainState,
	pending PendingSource,
	alerter alert.Alerter,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		queue:   q,
		chain:   chain,
		pending: pending,
		alerter: alerter,
		logger:  logger.With("component", "reconciler"),
	}
}

// SetAuditSink sets the optional transition persistence layer.
func (r *Reconciler) SetAuditSink(sink AuditSink) {
	r.audit = sink
}

// Queue exposes the underlying slot store.
func (r *Reconciler) Queue() *Queue {
	return r.queue
}

// NextOnChainNonce reads the contract's next unused nonce.
func (r *Reconciler) NextOnChainNonce(ctx context.Context) (uint64, error) {
	return r.chain.NextNonce(ctx)
}

// NextAvailableNonce returns the nonce a new proposal should claim so it
// does not silently collide with anything already queued.
func (r *Reconciler) NextAvailableNonce(ctx context.Context) (uint64, error) {
	onChain, err := r.chain.NextNonce(ctx)
	if err != nil {
		return 0, fmt.Errorf("read on-chain nonce: %w", err)
	}
	return r.queue.NextAvailableNonce(onChain), nil
}

// Reconcile pulls a fresh snapshot from both collaborators and advances
// the slot state machine: executed records confirm their slot and
// supersede competitors, pending records become candidates and their
// confirmations are re-verified against the current signer set.
func (r *Reconciler) Reconcile(ctx context.Context) (*Result, error) {
	safeLabel := r.queue.safe.Hex()
	result := &Result{StartedAt: time.Now()}
	timer := time.Now()
	defer func() {
		metrics.ReconcileLatency.WithLabelValues(safeLabel).Observe(time.Since(timer).Seconds())
	}()

	owners, err := r.chain.SignerSet(ctx)
	if err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues(safeLabel).Inc()
		return nil, fmt.Errorf("read signer set: %w", err)
	}
	onChainNext, err := r.chain.NextNonce(ctx)
	if err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues(safeLabel).Inc()
		return nil, fmt.Errorf("read on-chain nonce: %w", err)
	}
	result.OnChainNonce = onChainNext

	records, err := r.pending.ListTransactions(ctx, 0)
	if err != nil {
		metrics.ReconcileErrorsTotal.WithLabelValues(safeLabel).Inc()
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}

	var transitions []Transition

	// Pass 1: executed records settle their slots.
	for _, rec := range records {
		if !rec.IsExecuted {
			continue
		}
		digest := safetx.Digest(rec.Tx)
		ts, err := r.queue.MarkExecuted(rec.Tx.Nonce, digest)
		if err != nil {
			// Competing executed claims for one nonce: the first wins, the
			// rest are the service being inconsistent. Log, don't fail.
			r.logger.Warn("conflicting executed record",
				"nonce", rec.Tx.Nonce, "digest", digest, "error", err)
			continue
		}
		if len(ts) > 0 {
			result.Confirmed++
			metrics.SlotsConfirmedTotal.WithLabelValues(safeLabel).Inc()
		}
		transitions = append(transitions, ts...)
	}

	// Pass 2: pending records become candidates with re-validated
	// signatures.
	for _, rec := range records {
		if rec.IsExecuted || rec.Tx.Nonce < onChainNext {
			continue
		}
		result.Pending++

		digest := safetx.Digest(rec.Tx)
		if rec.ClaimedDigest != (common.Hash{}) && rec.ClaimedDigest != digest {
			result.DigestMismatches++
			r.logger.Warn("pending record digest mismatch",
				"nonce", rec.Tx.Nonce,
				"claimed", rec.ClaimedDigest,
				"computed", digest,
			)
			r.sendAlert(ctx, alert.Alert{
				Type:    alert.AlertTypeDigestMismatch,
				Safe:    safeLabel,
				Nonce:   rec.Tx.Nonce,
				Title:   "Pending transaction digest mismatch",
				Message: "relay-reported safe_tx_hash does not match the locally computed digest",
			})
			continue
		}

		cand, tr, err := r.queue.Propose(rec.Tx)
		if err != nil {
			r.logger.Warn("propose from snapshot failed",
				"nonce", rec.Tx.Nonce, "error", err)
			continue
		}
		if tr.ID != uuid.Nil {
			result.Proposed++
			transitions = append(transitions, tr)
			metrics.ProposalsTotal.WithLabelValues(safeLabel).Inc()
		}

		for _, sig := range rec.Confirmations {
			if cand.Sigs.Has(sig.Signer) {
				continue
			}
			if err := cand.Sigs.Add(sig, owners); err != nil {
				result.SignaturesRejected++
				metrics.SignaturesRejectedTotal.WithLabelValues(safeLabel, rejectReason(err)).Inc()
				r.logger.Warn("rejected relayed confirmation",
					"nonce", rec.Tx.Nonce,
					"signer", sig.Signer,
					"error", err,
				)
				continue
			}
			result.SignaturesAdded++
			metrics.SignaturesAddedTotal.WithLabelValues(safeLabel, string(sig.Type)).Inc()
		}
	}

	result.NextAvailableNonce = r.queue.NextAvailableNonce(onChainNext)
	result.FinishedAt = time.Now()

	r.noteSupersessions(ctx, safeLabel, transitions, result)
	r.persistTransitions(ctx, transitions)

	metrics.ReconcileRunsTotal.WithLabelValues(safeLabel).Inc()
	r.logger.Info("reconciliation completed",
		"on_chain_nonce", result.OnChainNonce,
		"next_available", result.NextAvailableNonce,
		"pending", result.Pending,
		"proposed", result.Proposed,
		"confirmed", result.Confirmed,
		"superseded", result.Superseded,
		"sigs_added", result.SignaturesAdded,
		"sigs_rejected", result.SignaturesRejected,
	)
	return result, nil
}

func (r *Reconciler) noteSupersessions(ctx context.Context, safeLabel string, transitions []Transition, result *Result) {
	for _, tr := range transitions {
		if tr.To != CandidateSuperseded.String() {
			continue
		}
		result.Superseded++
		metrics.SlotsSupersededTotal.WithLabelValues(safeLabel).Inc()
		r.sendAlert(ctx, alert.Alert{
			Type:    alert.AlertTypeSuperseded,
			Safe:    safeLabel,
			Nonce:   tr.Nonce,
			Title:   "Pending transaction superseded",
			Message: fmt.Sprintf("candidate %s lost nonce %d to a competing execution", tr.Digest, tr.Nonce),
		})
	}
}

func (r *Reconciler) persistTransitions(ctx context.Context, transitions []Transition) {
	if r.audit == nil || len(transitions) == 0 {
		return
	}
	if err := r.audit.SaveTransitions(ctx, transitions); err != nil {
		r.logger.Warn("failed to persist slot transitions", "error", err)
	}
}

func (r *Reconciler) sendAlert(ctx context.Context, a alert.Alert) {
	if r.alerter == nil {
		return
	}
	_ = r.alerter.Send(ctx, a)
}

// RunPeriodic reconciles at the given interval until ctx is cancelled.
func (r *Reconciler) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	r.logger.Info("periodic reconciliation started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("periodic reconciliation stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn("reconciliation failed", "error", err)
			}
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, sigset.ErrDuplicateSignature):
		return "duplicate"
	case errors.Is(err, sigset.ErrNotASigner):
		return "not_a_signer"
	case errors.Is(err, sigset.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, sigset.ErrUnknownSignatureType):
		return "unknown_type"
	default:
		return "invalid"
	}
}
