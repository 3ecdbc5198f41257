package queue

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/emperorhan/safe-coordinator/internal/alert"
	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	nonce  uint64
	owners model.SignerSet
}

func (f *fakeChain) NextNonce(context.Context) (uint64, error)          { return f.nonce, nil }
func (f *fakeChain) SignerSet(context.Context) (model.SignerSet, error) { return f.owners, nil }

type fakePending struct {
	records []PendingRecord
}

func (f *fakePending) ListTransactions(context.Context, uint64) ([]PendingRecord, error) {
	return f.records, nil
}

type fakeAlerter struct {
	mu   sync.Mutex
	sent []alert.Alert
}

func (f *fakeAlerter) Send(_ context.Context, a alert.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeAlerter) byType(t alert.AlertType) []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alert.Alert
	for _, a := range f.sent {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

type fakeAudit struct {
	mu    sync.Mutex
	saved []Transition
}

func (f *fakeAudit) SaveTransitions(_ context.Context, ts []Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, ts...)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ownerKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func eoaSig(t *testing.T, key *ecdsa.PrivateKey, signer common.Address, digest common.Hash) model.Signature {
	t.Helper()
	raw, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)
	raw[64] += 27
	return model.Signature{Signer: signer, Type: model.SignatureTypeEOA, Bytes: raw}
}

func TestReconcile_ProposesPendingAndValidatesSignatures(t *testing.T) {
	keyA, addrA := ownerKey(t)
	_, addrB := ownerKey(t)
	outsiderKey, outsiderAddr := ownerKey(t)

	owners := model.SignerSet{Owners: []common.Address{addrA, addrB}, Threshold: 2}
	tx := txAtNonce(10, common.HexToAddress("0x01"), 100)
	digest := safetx.Digest(tx)

	pending := &fakePending{records: []PendingRecord{{
		Tx:            tx,
		ClaimedDigest: digest,
		Confirmations: []model.Signature{
			eoaSig(t, keyA, addrA, digest),
			// non-owner signature relayed by the untrusted service
			eoaSig(t, outsiderKey, outsiderAddr, digest),
		},
	}}}

	r := NewReconciler(New(safeAddr, chainID), &fakeChain{nonce: 10, owners: owners}, pending, nil, discardLogger())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Proposed)
	assert.Equal(t, 1, result.SignaturesAdded)
	assert.Equal(t, 1, result.SignaturesRejected)

	cands := r.Queue().Candidates(10)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].Sigs.Count())
	assert.True(t, cands[0].Sigs.Has(addrA))
}

func TestReconcile_DigestMismatchQuarantinesRecord(t *testing.T) {
	_, addrA := ownerKey(t)
	owners := model.SignerSet{Owners: []common.Address{addrA}, Threshold: 1}
	tx := txAtNonce(10, common.HexToAddress("0x01"), 100)

	alerter := &fakeAlerter{}
	pending := &fakePending{records: []PendingRecord{{
		Tx:            tx,
		ClaimedDigest: common.HexToHash("0xbadbadbad"),
	}}}

	r := NewReconciler(New(safeAddr, chainID), &fakeChain{nonce: 10, owners: owners}, pending, alerter, discardLogger())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.DigestMismatches)
	assert.Zero(t, result.Proposed, "mismatched record must not enter the queue")
	assert.Len(t, alerter.byType(alert.AlertTypeDigestMismatch), 1)
}

func TestReconcile_SupersessionScenario(t *testing.T) {
	// Propose tx1 at nonce 5, then a rejection at nonce 5; the rejection
	// executes on-chain. tx1 must become permanently superseded.
	keyA, addrA := ownerKey(t)
	keyB, addrB := ownerKey(t)
	owners := model.SignerSet{Owners: []common.Address{addrA, addrB}, Threshold: 2}

	q := New(safeAddr, chainID)
	tx1 := txAtNonce(5, common.HexToAddress("0x01"), 100)
	rejection := rejectionAt(5)

	cand1, _, err := q.Propose(tx1)
	require.NoError(t, err)

	// tx1 independently reaches threshold before losing the race.
	require.NoError(t, cand1.Sigs.Add(eoaSig(t, keyA, addrA, cand1.Digest), owners))
	require.NoError(t, cand1.Sigs.Add(eoaSig(t, keyB, addrB, cand1.Digest), owners))
	require.True(t, cand1.Sigs.IsSatisfied(owners))

	alerter := &fakeAlerter{}
	audit := &fakeAudit{}
	pending := &fakePending{records: []PendingRecord{{
		Tx:         rejection,
		IsExecuted: true,
	}}}

	r := NewReconciler(q, &fakeChain{nonce: 6, owners: owners}, pending, alerter, discardLogger())
	r.SetAuditSink(audit)

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 1, result.Superseded)
	assert.Equal(t, CandidateSuperseded, cand1.Status())
	assert.Equal(t, SlotConfirmed, q.State(5))
	assert.Len(t, alerter.byType(alert.AlertTypeSuperseded), 1)
	assert.NotEmpty(t, audit.saved)
}

func TestReconcile_SkipsPendingBelowOnChainNonce(t *testing.T) {
	_, addrA := ownerKey(t)
	owners := model.SignerSet{Owners: []common.Address{addrA}, Threshold: 1}

	// The service still lists a record at nonce 4 but the chain already
	// consumed it; the record must not be proposed.
	pending := &fakePending{records: []PendingRecord{{
		Tx: txAtNonce(4, common.HexToAddress("0x01"), 1),
	}}}

	r := NewReconciler(New(safeAddr, chainID), &fakeChain{nonce: 5, owners: owners}, pending, nil, discardLogger())

	result, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Proposed)
	assert.Equal(t, SlotEmpty, r.Queue().State(4))
}

func TestNextAvailableNonce_AccountsForQueue(t *testing.T) {
	_, addrA := ownerKey(t)
	owners := model.SignerSet{Owners: []common.Address{addrA}, Threshold: 1}
	q := New(safeAddr, chainID)

	_, _, err := q.Propose(txAtNonce(7, common.HexToAddress("0x01"), 1))
	require.NoError(t, err)

	r := NewReconciler(q, &fakeChain{nonce: 5, owners: owners}, &fakePending{}, nil, discardLogger())

	next, err := r.NextAvailableNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next)

	onChain, err := r.NextOnChainNonce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), onChain)
}
