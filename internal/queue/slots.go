// Package queue tracks the pending-transaction queue of one Safe: for
// every nonce it holds the set of competing candidate transactions and
// the slot's lifecycle state. A slot starts Empty, becomes Proposed when
// the first candidate arrives, and is terminal the moment the chain
// consumes the nonce: the executed candidate's slot is Confirmed and all
// competing candidates become Superseded, permanently.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/emperorhan/safe-coordinator/internal/sigset"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	// ErrStaleSlot is returned for operations against a nonce whose slot
	// is already Confirmed; the caller must re-fetch pending state.
	ErrStaleSlot = errors.New("queue: nonce slot already consumed")

	// ErrWrongSafe is returned when a transaction belongs to a different
	// safe or chain than the queue tracks.
	ErrWrongSafe = errors.New("queue: transaction targets a different safe/chain")
)

// SlotState is the lifecycle state of one nonce slot.
type SlotState int

const (
	SlotEmpty SlotState = iota
	SlotProposed
	SlotConfirmed
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "EMPTY"
	case SlotProposed:
		return "PROPOSED"
	case SlotConfirmed:
		return "CONFIRMED"
	default:
		return "UNKNOWN"
	}
}

// CandidateStatus is the per-candidate outcome within a slot.
type CandidateStatus int

const (
	CandidatePending CandidateStatus = iota
	CandidateExecuted
	CandidateSuperseded
)

func (s CandidateStatus) String() string {
	switch s {
	case CandidatePending:
		return "PENDING"
	case CandidateExecuted:
		return "EXECUTED"
	case CandidateSuperseded:
		return "SUPERSEDED"
	default:
		return "UNKNOWN"
	}
}

// Candidate is one proposed transaction competing for a nonce, together
// with its accumulated signature set.
type Candidate struct {
	Tx     *model.SafeTx
	Digest common.Hash
	Sigs   *sigset.Set

	mu     sync.Mutex
	status CandidateStatus
}

// Status returns the candidate's current outcome.
func (c *Candidate) Status() CandidateStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Candidate) setStatus(s CandidateStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// IsRejection reports whether the candidate is a nonce-consuming
// cancellation of its competitors.
func (c *Candidate) IsRejection() bool {
	return c.Tx.IsRejection()
}

// Transition is an audit record of a slot or candidate state change.
type Transition struct {
	ID      uuid.UUID
	Safe    common.Address
	ChainID uint64
	Nonce   uint64
	Digest  common.Hash
	From    string
	To      string
	At      time.Time
}

type slot struct {
	state      SlotState
	candidates map[common.Hash]*Candidate
	executed   common.Hash
}

// Queue holds the nonce slots of one (safe, chain) pair.
type Queue struct {
	safe    common.Address
	chainID uint64

	mu    sync.Mutex
	slots map[uint64]*slot
}

func New(safe common.Address, chainID uint64) *Queue {
	return &Queue{
		safe:    safe,
		chainID: chainID,
		slots:   make(map[uint64]*slot),
	}
}

// Propose registers tx as a candidate at its nonce. Re-proposing a known
// digest returns the existing candidate, so signature state survives
// snapshot refreshes. Proposing into a consumed slot fails with
// ErrStaleSlot.
func (q *Queue) Propose(tx *model.SafeTx) (*Candidate, Transition, error) {
	if tx.Safe != q.safe || tx.ChainID != q.chainID {
		return nil, Transition{}, fmt.Errorf("%w: got safe %s chain %d",
			ErrWrongSafe, tx.Safe, tx.ChainID)
	}

	digest := safetx.Digest(tx)

	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[tx.Nonce]
	if !ok {
		s = &slot{state: SlotEmpty, candidates: make(map[common.Hash]*Candidate)}
		q.slots[tx.Nonce] = s
	}
	if s.state == SlotConfirmed {
		return nil, Transition{}, fmt.Errorf("%w: nonce %d", ErrStaleSlot, tx.Nonce)
	}

	if existing, ok := s.candidates[digest]; ok {
		return existing, Transition{}, nil
	}

	from := s.state.String()
	s.state = SlotProposed
	cand := &Candidate{
		Tx:     tx,
		Digest: digest,
		Sigs:   sigset.New(digest),
	}
	s.candidates[digest] = cand

	return cand, q.transition(tx.Nonce, digest, from, SlotProposed.String()), nil
}

// MarkExecuted records that digest consumed nonce on-chain. The slot is
// Confirmed irreversibly and every other candidate becomes Superseded.
// The executed transaction need not have been proposed locally. Marking
// an already-confirmed slot with the same digest is a no-op; with a
// different digest it reports ErrStaleSlot, since one nonce cannot be
// consumed twice.
func (q *Queue) MarkExecuted(nonce uint64, digest common.Hash) ([]Transition, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[nonce]
	if !ok {
		s = &slot{state: SlotEmpty, candidates: make(map[common.Hash]*Candidate)}
		q.slots[nonce] = s
	}
	if s.state == SlotConfirmed {
		if s.executed == digest {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: nonce %d already consumed by %s",
			ErrStaleSlot, nonce, s.executed)
	}

	from := s.state.String()
	s.state = SlotConfirmed
	s.executed = digest

	transitions := []Transition{q.transition(nonce, digest, from, SlotConfirmed.String())}
	for d, cand := range s.candidates {
		if d == digest {
			cand.setStatus(CandidateExecuted)
			continue
		}
		cand.setStatus(CandidateSuperseded)
		transitions = append(transitions,
			q.transition(nonce, d, CandidatePending.String(), CandidateSuperseded.String()))
	}
	return transitions, nil
}

// State returns the lifecycle state of a nonce slot.
func (q *Queue) State(nonce uint64) SlotState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.slots[nonce]; ok {
		return s.state
	}
	return SlotEmpty
}

// Candidates returns the candidates proposed at nonce, in no particular
// order.
func (q *Queue) Candidates(nonce uint64) []*Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.slots[nonce]
	if !ok {
		return nil
	}
	out := make([]*Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		out = append(out, c)
	}
	return out
}

// Find locates a candidate by digest across all slots.
func (q *Queue) Find(digest common.Hash) (*Candidate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, s := range q.slots {
		if c, ok := s.candidates[digest]; ok {
			return c, true
		}
	}
	return nil, false
}

// NextAvailableNonce returns the nonce a brand-new proposal should use:
// one past the highest nonce with a live Proposed slot, or the chain's
// next nonce when the queue has nothing ahead of it.
func (q *Queue) NextAvailableNonce(onChainNext uint64) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := onChainNext
	for nonce, s := range q.slots {
		if s.state == SlotProposed && nonce+1 > next {
			next = nonce + 1
		}
	}
	return next
}

func (q *Queue) transition(nonce uint64, digest common.Hash, from, to string) Transition {
	return Transition{
		ID:      uuid.New(),
		Safe:    q.safe,
		ChainID: q.chainID,
		Nonce:   nonce,
		Digest:  digest,
		From:    from,
		To:      to,
		At:      time.Now().UTC(),
	}
}
