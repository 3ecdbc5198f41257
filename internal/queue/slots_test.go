package queue

import (
	"math/big"
	"testing"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	safeAddr = common.HexToAddress("0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe")
	chainID  = uint64(1)
)

func txAtNonce(nonce uint64, to common.Address, value int64) *model.SafeTx {
	return &model.SafeTx{
		Safe:      safeAddr,
		ChainID:   chainID,
		To:        to,
		Value:     big.NewInt(value),
		Operation: model.OperationCall,
		Nonce:     nonce,
	}
}

func rejectionAt(nonce uint64) *model.SafeTx {
	return &model.SafeTx{
		Safe:      safeAddr,
		ChainID:   chainID,
		To:        safeAddr,
		Value:     new(big.Int),
		Operation: model.OperationCall,
		Nonce:     nonce,
	}
}

func TestPropose_EmptyToProposed(t *testing.T) {
	q := New(safeAddr, chainID)
	require.Equal(t, SlotEmpty, q.State(5))

	cand, tr, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)
	require.NotNil(t, cand)
	assert.Equal(t, SlotProposed, q.State(5))
	assert.Equal(t, "EMPTY", tr.From)
	assert.Equal(t, "PROPOSED", tr.To)
	assert.Equal(t, CandidatePending, cand.Status())
}

func TestPropose_SameDigestIdempotent(t *testing.T) {
	q := New(safeAddr, chainID)
	tx := txAtNonce(5, common.HexToAddress("0x01"), 1)

	first, _, err := q.Propose(tx)
	require.NoError(t, err)
	second, _, err := q.Propose(tx)
	require.NoError(t, err)

	assert.Same(t, first, second, "re-proposal must return the live candidate")
	assert.Len(t, q.Candidates(5), 1)
}

func TestPropose_CompetingCandidatesShareSlot(t *testing.T) {
	q := New(safeAddr, chainID)

	_, _, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)
	rej, _, err := q.Propose(rejectionAt(5))
	require.NoError(t, err)

	assert.Len(t, q.Candidates(5), 2)
	assert.True(t, rej.IsRejection())
	assert.Equal(t, SlotProposed, q.State(5))
}

func TestPropose_WrongSafeRejected(t *testing.T) {
	q := New(safeAddr, chainID)
	tx := txAtNonce(1, common.HexToAddress("0x01"), 1)
	tx.Safe = common.HexToAddress("0xbad")

	_, _, err := q.Propose(tx)
	assert.ErrorIs(t, err, ErrWrongSafe)
}

func TestMarkExecuted_SupersedesCompetitors(t *testing.T) {
	q := New(safeAddr, chainID)

	tx1 := txAtNonce(5, common.HexToAddress("0x01"), 100)
	tx2 := rejectionAt(5)
	cand1, _, err := q.Propose(tx1)
	require.NoError(t, err)
	cand2, _, err := q.Propose(tx2)
	require.NoError(t, err)

	transitions, err := q.MarkExecuted(5, cand2.Digest)
	require.NoError(t, err)

	assert.Equal(t, SlotConfirmed, q.State(5))
	assert.Equal(t, CandidateExecuted, cand2.Status())
	assert.Equal(t, CandidateSuperseded, cand1.Status())

	// One slot confirmation plus one candidate supersession.
	require.Len(t, transitions, 2)
}

func TestMarkExecuted_Irreversible(t *testing.T) {
	q := New(safeAddr, chainID)
	cand, _, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)

	_, err = q.MarkExecuted(5, cand.Digest)
	require.NoError(t, err)

	// Same digest again: no-op.
	transitions, err := q.MarkExecuted(5, cand.Digest)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// Different digest: the nonce cannot be consumed twice.
	_, err = q.MarkExecuted(5, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, ErrStaleSlot)
}

func TestMarkExecuted_UnknownDigestStillConfirms(t *testing.T) {
	// The executed transaction may never have been proposed locally.
	q := New(safeAddr, chainID)
	cand, _, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)

	foreign := safetx.Digest(txAtNonce(5, common.HexToAddress("0x02"), 2))
	_, err = q.MarkExecuted(5, foreign)
	require.NoError(t, err)

	assert.Equal(t, SlotConfirmed, q.State(5))
	assert.Equal(t, CandidateSuperseded, cand.Status())
}

func TestPropose_AfterConfirmIsStale(t *testing.T) {
	q := New(safeAddr, chainID)
	cand, _, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)
	_, err = q.MarkExecuted(5, cand.Digest)
	require.NoError(t, err)

	_, _, err = q.Propose(rejectionAt(5))
	assert.ErrorIs(t, err, ErrStaleSlot)
}

func TestNextAvailableNonce(t *testing.T) {
	q := New(safeAddr, chainID)

	// Nothing queued: chain's next nonce wins.
	assert.Equal(t, uint64(10), q.NextAvailableNonce(10))

	// A proposal ahead of the chain bumps the answer.
	_, _, err := q.Propose(txAtNonce(12, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(13), q.NextAvailableNonce(10))

	// A confirmed slot no longer reserves its nonce range.
	cand, _, err := q.Propose(txAtNonce(20, common.HexToAddress("0x02"), 1))
	require.NoError(t, err)
	_, err = q.MarkExecuted(20, cand.Digest)
	require.NoError(t, err)
	assert.Equal(t, uint64(21), q.NextAvailableNonce(21))
	assert.Equal(t, uint64(13), q.NextAvailableNonce(10))
}

func TestFind_LocatesCandidateByDigest(t *testing.T) {
	q := New(safeAddr, chainID)
	cand, _, err := q.Propose(txAtNonce(5, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)

	found, ok := q.Find(cand.Digest)
	require.True(t, ok)
	assert.Same(t, cand, found)

	_, ok = q.Find(common.HexToHash("0xffff"))
	assert.False(t, ok)
}
