package monero

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"git.gammaspectra.live/P2Pool/consensus/v4/monero/crypto"
	"git.gammaspectra.live/P2Pool/consensus/v4/monero/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const taggedKeyOutput = 0x03

func testBlock(t *testing.T, txs int) *Block {
	t.Helper()

	var pubKey Hash
	pubKey[0] = 0x11

	b := &Block{
		MajorVersion: 16,
		MinorVersion: 16,
		Timestamp:    1700000000,
		PreviousId:   Keccak256([]byte("prev")),
		Coinbase: transaction.CoinbaseTransaction{
			Version:    2,
			UnlockTime: 3060,
			InputCount: 1,
			InputType:  transaction.TxInGen,
			GenHeight:  3000000,
			Outputs: transaction.Outputs{{
				Index:              0,
				Reward:             600000000000,
				Type:               taggedKeyOutput,
				EphemeralPublicKey: crypto.PublicKeyBytes(Keccak256([]byte("out"))),
				ViewTag:            0x7a,
			}},
			Extra: transaction.ExtraTags{
				{Tag: transaction.TxExtraTagPubKey, Data: pubKey[:]},
				{Tag: transaction.TxExtraTagNonce, VarInt: 8, HasVarInt: true, Data: make([]byte, 8)},
			},
		},
	}
	for i := 0; i < txs; i++ {
		b.Transactions = append(b.Transactions, Keccak256([]byte{byte(i)}))
	}
	return b
}

func blockHex(t *testing.T, b *Block) string {
	t.Helper()
	s, err := BlockHex(b)
	require.NoError(t, err)
	return s
}

func TestKeccak256(t *testing.T) {
	assert.Equal(t,
		"c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470",
		Keccak256().String())
	assert.Equal(t, Keccak256([]byte("ab")), Keccak256([]byte("a"), []byte("b")))
}

func TestBlockRoundTrip(t *testing.T) {
	for _, txs := range []int{0, 1, 5} {
		b := testBlock(t, txs)

		parsed, err := ParseBlockHex(blockHex(t, b))
		require.NoError(t, err)
		assert.Equal(t, b.PreviousId, parsed.PreviousId)
		assert.Equal(t, b.Coinbase.GenHeight, parsed.Coinbase.GenHeight)
		assert.Equal(t, len(b.Transactions), len(parsed.Transactions))
		assert.Equal(t, blockHex(t, b), blockHex(t, parsed))
		assert.Equal(t, b.Id(), parsed.Id())
	}
}

func TestParseBlockRejectsGarbage(t *testing.T) {
	_, err := ParseBlockHex("not hex")
	assert.ErrorIs(t, err, ErrMalformedBlob)

	data, err := testBlock(t, 1).MarshalBinary()
	require.NoError(t, err)

	_, err = ParseBlock(data[:len(data)-5])
	assert.ErrorIs(t, err, ErrMalformedBlob)

	_, err = ParseBlock(append(data, 0x00))
	assert.ErrorIs(t, err, ErrMalformedBlob)
}

func TestHashingBlob(t *testing.T) {
	b := testBlock(t, 2)
	blob := HashingBlob(b)

	header := HeaderBlob(b)
	require.True(t, bytes.HasPrefix(blob, header))

	count, n := binary.Uvarint(blob[len(header)+HashSize:])
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, len(blob), len(header)+HashSize+n)

	// The nonce is part of the header so it changes the hashing blob and id.
	id := b.Id()
	b.Nonce = 42
	assert.NotEqual(t, blob, HashingBlob(b))
	assert.NotEqual(t, id, b.Id())
}

func TestMergeMiningTag(t *testing.T) {
	b := testBlock(t, 1)

	_, err := FindMergeMiningTag(b.Coinbase.Extra)
	assert.ErrorIs(t, err, ErrMalformedBlob)

	first := SingleChainTag(Keccak256([]byte("first")))
	extra := SetMergeMiningTag(b.Coinbase.Extra, first)

	tag, err := FindMergeMiningTag(extra)
	require.NoError(t, err)
	assert.Equal(t, first, tag)

	// A single chain at nonce zero encodes as depth zero followed by the root.
	mm := extra.GetTag(transaction.TxExtraTagMergeMining)
	require.NotNil(t, mm)
	assert.Equal(t, append([]byte{0}, first.Root[:]...), []byte(mm.Data))

	// Replacing keeps a single tag and leaves the other fields alone.
	second := SingleChainTag(Keccak256([]byte("second")))
	extra = SetMergeMiningTag(extra, second)

	var tags []uint8
	for _, f := range extra {
		tags = append(tags, f.Tag)
	}
	assert.Equal(t, []uint8{transaction.TxExtraTagPubKey, transaction.TxExtraTagNonce, transaction.TxExtraTagMergeMining}, tags)

	tag, err = FindMergeMiningTag(extra)
	require.NoError(t, err)
	assert.Equal(t, second, tag)

	// The tag survives a full encode and decode of the block.
	b.Coinbase.Extra = extra
	parsed, err := ParseBlockHex(blockHex(t, b))
	require.NoError(t, err)
	tag, err = FindMergeMiningTag(parsed.Coinbase.Extra)
	require.NoError(t, err)
	assert.Equal(t, second, tag)
}

func TestMergeMiningTagTreeData(t *testing.T) {
	in := MergeMiningTag{AuxiliaryChains: 3, Nonce: 0xdeadbeef, Root: Keccak256([]byte("tree"))}
	extra := SetMergeMiningTag(nil, in)

	out, err := FindMergeMiningTag(extra)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSetMergeMiningTagKeepsPaddingLast(t *testing.T) {
	extra := transaction.ExtraTags{
		{Tag: transaction.TxExtraTagNonce, VarInt: 2, HasVarInt: true, Data: []byte{0xaa, 0xbb}},
		{Tag: transaction.TxExtraTagPadding, Data: []byte{0, 0}},
	}
	out := SetMergeMiningTag(extra, SingleChainTag(Keccak256([]byte("x"))))
	require.Len(t, out, 3)
	assert.Equal(t, uint8(transaction.TxExtraTagMergeMining), out[1].Tag)
	assert.Equal(t, uint8(transaction.TxExtraTagPadding), out[2].Tag)
}

func TestFindMergeMiningTagErrors(t *testing.T) {
	extra := transaction.ExtraTags{
		{Tag: transaction.TxExtraTagMergeMining, VarInt: 3, HasVarInt: true, Data: []byte{0, 1, 2}},
	}
	_, err := FindMergeMiningTag(extra)
	assert.ErrorIs(t, err, ErrMalformedBlob)
}

func TestExtraNonceOffset(t *testing.T) {
	b := testBlock(t, 1)
	b.Coinbase.Extra = SetMergeMiningTag(b.Coinbase.Extra, SingleChainTag(Keccak256([]byte("mm"))))

	offset, ok := ExtraNonceOffset(b)
	require.True(t, ok)

	// Write into the reserved area through the blob and read it back.
	data, err := b.MarshalBinary()
	require.NoError(t, err)
	copy(data[offset:], []byte{0xde, 0xad, 0xbe, 0xef})

	parsed, err := ParseBlockHex(hex.EncodeToString(data))
	require.NoError(t, err)
	nonce := parsed.Coinbase.Extra.GetTag(transaction.TxExtraTagNonce)
	require.NotNil(t, nonce)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 0}, []byte(nonce.Data))

	b.Coinbase.Extra = b.Coinbase.Extra[:1]
	_, ok = ExtraNonceOffset(b)
	assert.False(t, ok)
}

func TestPowDataRoundTrip(t *testing.T) {
	data, err := testBlock(t, 2).MarshalBinary()
	require.NoError(t, err)

	in := PowData{SeedHash: Keccak256([]byte("seed")), Blob: data}
	encoded, err := in.MarshalBinary()
	require.NoError(t, err)

	var out PowData
	require.NoError(t, out.UnmarshalBinary(encoded))
	assert.Equal(t, in, out)

	assert.ErrorIs(t, out.UnmarshalBinary(encoded[:len(encoded)-1]), ErrMalformedBlob)
	assert.ErrorIs(t, out.UnmarshalBinary(encoded[:HashSize-1]), ErrMalformedBlob)

	_, err = (&PowData{SeedHash: in.SeedHash}).MarshalBinary()
	assert.Error(t, err)
}
