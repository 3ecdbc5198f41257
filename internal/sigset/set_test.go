package sigset

import (
	"crypto/ecdsa"
	"testing"

	"github.com/emperorhan/safe-coordinator/internal/domain/model"
	"github.com/emperorhan/safe-coordinator/internal/safetx"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestSigner(t *testing.T) testSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return testSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (ts testSigner) signEOA(t *testing.T, digest common.Hash) model.Signature {
	t.Helper()
	raw, err := crypto.Sign(digest.Bytes(), ts.key)
	require.NoError(t, err)
	raw[64] += 27
	return model.Signature{Signer: ts.addr, Type: model.SignatureTypeEOA, Bytes: raw}
}

func (ts testSigner) signEthSign(t *testing.T, digest common.Hash) model.Signature {
	t.Helper()
	raw, err := crypto.Sign(safetx.EthSignDigest(digest).Bytes(), ts.key)
	require.NoError(t, err)
	raw[64] += 31
	return model.Signature{Signer: ts.addr, Type: model.SignatureTypeEthSign, Bytes: raw}
}

func ownersOf(threshold uint64, addrs ...common.Address) model.SignerSet {
	return model.SignerSet{Owners: addrs, Threshold: threshold}
}

var testDigest = common.HexToHash("0x00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff")

func TestAdd_EOASignatureVerifies(t *testing.T) {
	signer := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(1, signer.addr)

	require.NoError(t, set.Add(signer.signEOA(t, testDigest), owners))
	assert.Equal(t, 1, set.Count())
	assert.True(t, set.Has(signer.addr))
}

func TestAdd_EthSignSignatureVerifies(t *testing.T) {
	signer := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(1, signer.addr)

	require.NoError(t, set.Add(signer.signEthSign(t, testDigest), owners))
	assert.Equal(t, 1, set.Count())
}

func TestAdd_WrongDigestRejected(t *testing.T) {
	signer := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(1, signer.addr)

	other := common.HexToHash("0xffff000000000000000000000000000000000000000000000000000000000000")
	err := set.Add(signer.signEOA(t, other), owners)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Zero(t, set.Count())
}

func TestAdd_ClaimedSignerMismatchRejected(t *testing.T) {
	signer := newTestSigner(t)
	impostor := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(1, signer.addr, impostor.addr)

	sig := signer.signEOA(t, testDigest)
	sig.Signer = impostor.addr

	err := set.Add(sig, owners)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestAdd_NotASigner(t *testing.T) {
	signer := newTestSigner(t)
	outsider := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(1, signer.addr)

	err := set.Add(outsider.signEOA(t, testDigest), owners)
	assert.ErrorIs(t, err, ErrNotASigner)
}

func TestAdd_DuplicateRejectedSetIntact(t *testing.T) {
	signer := newTestSigner(t)
	set := New(testDigest)
	owners := ownersOf(2, signer.addr)

	first := signer.signEOA(t, testDigest)
	require.NoError(t, set.Add(first, owners))

	err := set.Add(signer.signEthSign(t, testDigest), owners)
	assert.ErrorIs(t, err, ErrDuplicateSignature)

	require.Equal(t, 1, set.Count())
	assert.Equal(t, first.Bytes, set.Ordered()[0].Bytes, "original entry must survive the duplicate")
}

func TestIsSatisfied_ThresholdProgression(t *testing.T) {
	a, b, c := newTestSigner(t), newTestSigner(t), newTestSigner(t)
	owners := ownersOf(2, a.addr, b.addr, c.addr)
	set := New(testDigest)

	assert.False(t, set.IsSatisfied(owners))

	require.NoError(t, set.Add(a.signEOA(t, testDigest), owners))
	assert.False(t, set.IsSatisfied(owners), "1 of 2 signatures")

	require.NoError(t, set.Add(b.signEOA(t, testDigest), owners))
	assert.True(t, set.IsSatisfied(owners), "2 of 2 signatures")

	require.NoError(t, set.Add(c.signEOA(t, testDigest), owners))
	assert.True(t, set.IsSatisfied(owners), "extra signature never invalidates")
}

func TestIsSatisfied_RemovedOwnerStopsCounting(t *testing.T) {
	a, b := newTestSigner(t), newTestSigner(t)
	before := ownersOf(2, a.addr, b.addr)
	set := New(testDigest)

	require.NoError(t, set.Add(a.signEOA(t, testDigest), before))
	require.NoError(t, set.Add(b.signEOA(t, testDigest), before))
	require.True(t, set.IsSatisfied(before))

	// b is removed from the owner set between proposal and execution.
	after := ownersOf(2, a.addr)
	assert.False(t, set.IsSatisfied(after))
}

func TestOrdered_AscendingNumericAddress(t *testing.T) {
	// Approved-hash entries let us pin exact addresses.
	addrAA := common.HexToAddress("0xAA00000000000000000000000000000000000000")
	addr11 := common.HexToAddress("0x1100000000000000000000000000000000000000")
	addr99 := common.HexToAddress("0x9900000000000000000000000000000000000000")
	owners := ownersOf(3, addrAA, addr11, addr99)

	set := New(testDigest)
	for _, addr := range []common.Address{addrAA, addr11, addr99} {
		require.NoError(t, set.Add(model.NewApprovedHashSignature(addr), owners))
	}

	ordered := set.Ordered()
	require.Len(t, ordered, 3)
	assert.Equal(t, addr11, ordered[0].Signer)
	assert.Equal(t, addr99, ordered[1].Signer)
	assert.Equal(t, addrAA, ordered[2].Signer)
}

func TestPack_StaticConcatenation(t *testing.T) {
	a, b := newTestSigner(t), newTestSigner(t)
	owners := ownersOf(2, a.addr, b.addr)
	set := New(testDigest)

	require.NoError(t, set.Add(a.signEOA(t, testDigest), owners))
	require.NoError(t, set.Add(b.signEOA(t, testDigest), owners))

	packed, err := set.Pack()
	require.NoError(t, err)
	require.Len(t, packed, 2*model.SignatureLength)

	ordered := set.Ordered()
	assert.Equal(t, ordered[0].Bytes, packed[:65])
	assert.Equal(t, ordered[1].Bytes, packed[65:])
}

func TestPack_ContractSignatureDynamicTail(t *testing.T) {
	verifier := common.HexToAddress("0x00000000000000000000000000000000000000c0")
	signer := newTestSigner(t)
	owners := ownersOf(2, verifier, signer.addr)
	set := New(testDigest)

	blob := []byte{0x01, 0x02, 0x03}
	require.NoError(t, set.Add(model.Signature{
		Signer:       verifier,
		Type:         model.SignatureTypeContract,
		VerifierData: blob,
	}, owners))
	require.NoError(t, set.Add(signer.signEOA(t, testDigest), owners))

	packed, err := set.Pack()
	require.NoError(t, err)
	require.Len(t, packed, 2*65+32+len(blob))

	// Locate the contract entry's static part.
	ordered := set.Ordered()
	var staticOff int
	for i, sig := range ordered {
		if sig.Type == model.SignatureTypeContract {
			staticOff = i * 65
		}
	}
	part := packed[staticOff : staticOff+65]

	assert.Equal(t, verifier.Bytes(), part[12:32], "r holds the verifier address")
	assert.Equal(t, byte(0), part[64], "v=0 marks a contract signature")

	// s points at the dynamic tail: 32-byte length word then the blob.
	tailOff := int(part[63]) | int(part[62])<<8
	assert.Equal(t, 2*65, tailOff)
	assert.Equal(t, byte(len(blob)), packed[tailOff+31])
	assert.Equal(t, blob, packed[tailOff+32:tailOff+32+len(blob)])
}

func TestPack_Idempotent(t *testing.T) {
	a, b := newTestSigner(t), newTestSigner(t)
	owners := ownersOf(2, a.addr, b.addr)
	set := New(testDigest)
	require.NoError(t, set.Add(a.signEOA(t, testDigest), owners))
	require.NoError(t, set.Add(b.signEOA(t, testDigest), owners))

	first, err := set.Pack()
	require.NoError(t, err)
	second, err := set.Pack()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAdd_ApprovedHashShapeChecked(t *testing.T) {
	owner := common.HexToAddress("0xbeef")
	owners := ownersOf(1, owner)
	set := New(testDigest)

	bad := model.NewApprovedHashSignature(owner)
	bad.Bytes[64] = 2

	err := set.Add(bad, owners)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestAdd_UnknownTypeRejected(t *testing.T) {
	owner := common.HexToAddress("0xbeef")
	owners := ownersOf(1, owner)
	set := New(testDigest)

	err := set.Add(model.Signature{Signer: owner, Type: "WEIRD"}, owners)
	assert.ErrorIs(t, err, ErrUnknownSignatureType)
}
