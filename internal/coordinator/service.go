// Package coordinator orchestrates the full lifecycle of a Safe
// transaction: building, digesting, collecting local signatures,
// publishing to the transaction service, and executing once quorum is
// reached. It owns no cryptographic keys; signers and the broadcaster
// are injected interfaces.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/emperorhan/safe-coordinator/internal/alert"
	"github.com/emperorhan/safe-coordinator/internal/builder"
	"github.com/emperorhan/safe-coordinator/internal/chain"
	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/gate"
	"github.com/emperorhan/safe-coordinator/internal/metrics"
	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/emperorhan/safe-coordinator/internal/sigset"
	"github.com/emperorhan/safe-coordinator/internal/tracing"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownDigest is returned when an operation references a digest
	// the queue has never seen.
	ErrUnknownDigest = errors.New("coordinator: unknown transaction digest")

	// ErrRejectingRejection is returned when asked to reject a nonce whose
	// only pending candidate is already a rejection.
	ErrRejectingRejection = errors.New("coordinator: slot already holds a rejection")

	// ErrNoSigners is returned when an operation needs at least one local
	// signer and none is configured.
	ErrNoSigners = errors.New("coordinator: no local signers configured")
)

// Signer produces recoverable EOA signatures over SafeTx digests.
// Implementations hold the key material; the coordinator never sees it.
type Signer interface {
	Address() common.Address
	SignDigest(ctx context.Context, digest common.Hash) ([]byte, error)
}

// Broadcaster submits a finalized call to the chain and returns the
// resulting transaction hash. Sender is the account paying for gas.
type Broadcaster interface {
	Sender() common.Address
	Submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error)
}

// PendingPublisher pushes proposals and confirmations to the shared
// off-chain store so other owners can see and countersign them.
type PendingPublisher interface {
	Propose(ctx context.Context, tx *model.SafeTx, digest common.Hash, sender common.Address, signature []byte) error
	Confirm(ctx context.Context, digest common.Hash, signature []byte) error
}

// Service ties the pure core (builder, digest, sigset, queue, gate)
// to the I/O collaborators.
type Service struct {
	safe    common.Address
	chainID uint64

	builder     *builder.Builder
	gate        *gate.Gate
	queue       *queue.Queue
	reconciler  *queue.Reconciler
	chainState  queue.ChainState
	publisher   PendingPublisher
	broadcaster Broadcaster
	signers     []Signer
	alerter     alert.Alerter

	tracer trace.Tracer
	logger *slog.Logger
}

type Config struct {
	Safe        common.Address
	ChainID     uint64
	Builder     *builder.Builder
	Gate        *gate.Gate
	Queue       *queue.Queue
	Reconciler  *queue.Reconciler
	ChainState  queue.ChainState
	Publisher   PendingPublisher
	Broadcaster Broadcaster
	Signers     []Signer
	Alerter     alert.Alerter
	Logger      *slog.Logger
}

func NewService(cfg Config) *Service {
	return &Service{
		safe:        cfg.Safe,
		chainID:     cfg.ChainID,
		builder:     cfg.Builder,
		gate:        cfg.Gate,
		queue:       cfg.Queue,
		reconciler:  cfg.Reconciler,
		chainState:  cfg.ChainState,
		publisher:   cfg.Publisher,
		broadcaster: cfg.Broadcaster,
		signers:     cfg.Signers,
		alerter:     cfg.Alerter,
		tracer:      tracing.Tracer("coordinator"),
		logger:      cfg.Logger.With("component", "coordinator", "safe", cfg.Safe.Hex()),
	}
}

// ProposeOptions tweaks a proposal. A nil Nonce claims the next
// available nonce; setting it pins an explicit slot (including
// deliberate competition with an existing candidate).
type ProposeOptions struct {
	Nonce *uint64
	Gas   builder.GasOverrides
}

// Propose builds a SafeTx from calls, signs it with every local signer,
// registers it in the queue and publishes it to the shared store.
func (s *Service) Propose(ctx context.Context, calls []model.Call, opts ProposeOptions) (*queue.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "coordinator.propose",
		tracing.SafeAttributes(s.safe.Hex(), s.chainID, 0))
	defer span.End()

	nonce, err := s.resolveNonce(ctx, opts.Nonce)
	if err != nil {
		return nil, err
	}

	tx, err := s.builder.Build(calls, nonce, opts.Gas)
	if err != nil {
		return nil, err
	}
	return s.proposeTx(ctx, tx)
}

// Reject proposes the zero-value self-call that invalidates everything
// pending at nonce once executed. Rejecting a slot that only holds a
// rejection is refused; executing the existing one achieves the same.
func (s *Service) Reject(ctx context.Context, nonce uint64) (*queue.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "coordinator.reject",
		tracing.SafeAttributes(s.safe.Hex(), s.chainID, nonce))
	defer span.End()

	cands := s.queue.Candidates(nonce)
	if len(cands) > 0 {
		onlyRejections := true
		for _, c := range cands {
			if !c.IsRejection() {
				onlyRejections = false
				break
			}
		}
		if onlyRejections {
			return nil, fmt.Errorf("%w: nonce %d", ErrRejectingRejection, nonce)
		}
	}

	tx, err := s.builder.BuildRejection(nonce)
	if err != nil {
		return nil, err
	}
	return s.proposeTx(ctx, tx)
}

// Approve signs an already-proposed digest with every local signer and
// publishes the confirmations.
func (s *Service) Approve(ctx context.Context, digest common.Hash) (*queue.Candidate, error) {
	ctx, span := s.tracer.Start(ctx, "coordinator.approve",
		tracing.SafeAttributes(s.safe.Hex(), s.chainID, 0))
	defer span.End()

	cand, ok := s.queue.Find(digest)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDigest, digest)
	}

	owners, err := s.chainState.SignerSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("read signer set: %w", err)
	}
	if err := s.collectLocalSignatures(ctx, cand, owners, true); err != nil {
		return nil, err
	}
	return cand, nil
}

// Execute finalizes a quorum-satisfied candidate and submits it. When
// the broadcaster's account is itself an owner one recoverable
// signature short of quorum, its approved-hash entry is spliced in; the
// contract accepts it because the owner is msg.sender.
func (s *Service) Execute(ctx context.Context, digest common.Hash) (string, error) {
	ctx, span := s.tracer.Start(ctx, "coordinator.execute",
		tracing.SafeAttributes(s.safe.Hex(), s.chainID, 0))
	defer span.End()

	cand, ok := s.queue.Find(digest)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownDigest, digest)
	}

	owners, err := s.chainState.SignerSet(ctx)
	if err != nil {
		return "", fmt.Errorf("read signer set: %w", err)
	}

	s.spliceSubmitterApproval(cand, owners)

	payload, err := s.gate.Finalize(cand, owners)
	if err != nil {
		return "", err
	}

	txHash, err := s.broadcaster.Submit(ctx, payload.To, payload.Value, payload.Data)
	if err != nil {
		if gs := chain.DecodeGSError(err.Error()); gs != nil {
			return "", fmt.Errorf("execution reverted: %w", gs)
		}
		return "", fmt.Errorf("submit execution: %w", err)
	}

	if _, err := s.queue.MarkExecuted(cand.Tx.Nonce, cand.Digest); err != nil {
		// The chain accepted the submission; local bookkeeping losing a
		// race with the reconciler is not a caller-visible failure.
		s.logger.Warn("mark executed after submit", "nonce", cand.Tx.Nonce, "error", err)
	}

	s.logger.Info("execution submitted",
		"nonce", cand.Tx.Nonce, "digest", cand.Digest, "tx_hash", txHash)
	s.notifyThresholdExecution(ctx, cand)
	return txHash, nil
}

func (s *Service) proposeTx(ctx context.Context, tx *model.SafeTx) (*queue.Candidate, error) {
	if len(s.signers) == 0 {
		return nil, ErrNoSigners
	}

	owners, err := s.chainState.SignerSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("read signer set: %w", err)
	}

	cand, _, err := s.queue.Propose(tx)
	if err != nil {
		return nil, err
	}
	metrics.ProposalsTotal.WithLabelValues(s.safe.Hex()).Inc()

	if err := s.collectLocalSignatures(ctx, cand, owners, false); err != nil {
		return nil, err
	}

	if s.publisher != nil {
		sender, sig := s.proposerSignature(cand)
		if err := s.publisher.Propose(ctx, tx, cand.Digest, sender, sig); err != nil {
			// The proposal is live locally; publication is retried by the
			// next reconcile-and-publish cycle.
			s.logger.Warn("publish proposal", "digest", cand.Digest, "error", err)
		}
	}

	s.logger.Info("transaction proposed",
		"nonce", tx.Nonce, "digest", cand.Digest, "signatures", cand.Sigs.Count())
	return cand, nil
}

// collectLocalSignatures signs the candidate's digest with every local
// signer that is a current owner, in parallel, and optionally publishes
// each confirmation.
func (s *Service) collectLocalSignatures(ctx context.Context, cand *queue.Candidate, owners model.SignerSet, publish bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, signer := range s.signers {
		if !owners.Contains(signer.Address()) || cand.Sigs.Has(signer.Address()) {
			continue
		}
		signer := signer
		g.Go(func() error {
			raw, err := signer.SignDigest(ctx, cand.Digest)
			if err != nil {
				return fmt.Errorf("sign with %s: %w", signer.Address(), err)
			}
			sig := model.Signature{
				Signer: signer.Address(),
				Type:   model.SignatureTypeEOA,
				Bytes:  raw,
			}
			if err := cand.Sigs.Add(sig, owners); err != nil {
				if errors.Is(err, sigset.ErrDuplicateSignature) {
					return nil
				}
				return err
			}
			metrics.SignaturesAddedTotal.WithLabelValues(s.safe.Hex(), string(sig.Type)).Inc()
			if publish && s.publisher != nil {
				if err := s.publisher.Confirm(ctx, cand.Digest, raw); err != nil {
					s.logger.Warn("publish confirmation",
						"digest", cand.Digest, "signer", sig.Signer, "error", err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// spliceSubmitterApproval adds the broadcaster's approved-hash entry
// when the submitting account is an owner that has not signed yet. This
// lets a threshold be met with threshold-1 collected signatures.
func (s *Service) spliceSubmitterApproval(cand *queue.Candidate, owners model.SignerSet) {
	if s.broadcaster == nil {
		return
	}
	sender := s.broadcaster.Sender()
	if !owners.Contains(sender) || cand.Sigs.Has(sender) {
		return
	}
	if cand.Sigs.IsSatisfied(owners) {
		return
	}
	if err := cand.Sigs.Add(model.NewApprovedHashSignature(sender), owners); err != nil {
		s.logger.Warn("splice submitter approval", "sender", sender, "error", err)
		return
	}
	metrics.SignaturesAddedTotal.WithLabelValues(s.safe.Hex(), string(model.SignatureTypeApprovedHash)).Inc()
}

func (s *Service) proposerSignature(cand *queue.Candidate) (common.Address, []byte) {
	for _, sig := range cand.Sigs.Ordered() {
		if sig.Type == model.SignatureTypeEOA {
			return sig.Signer, sig.Bytes
		}
	}
	if len(s.signers) > 0 {
		return s.signers[0].Address(), nil
	}
	return common.Address{}, nil
}

func (s *Service) resolveNonce(ctx context.Context, explicit *uint64) (uint64, error) {
	if explicit != nil {
		return *explicit, nil
	}
	if s.reconciler != nil {
		return s.reconciler.NextAvailableNonce(ctx)
	}
	next, err := s.chainState.NextNonce(ctx)
	if err != nil {
		return 0, fmt.Errorf("read on-chain nonce: %w", err)
	}
	return s.queue.NextAvailableNonce(next), nil
}

func (s *Service) notifyThresholdExecution(ctx context.Context, cand *queue.Candidate) {
	if s.alerter == nil {
		return
	}
	_ = s.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeThresholdReached,
		Safe:    s.safe.Hex(),
		Nonce:   cand.Tx.Nonce,
		Title:   "Transaction executed",
		Message: fmt.Sprintf("digest %s submitted for execution", cand.Digest),
	})
}
