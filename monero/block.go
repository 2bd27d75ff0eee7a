// Package monero adapts the foreign chain's block template blobs for merge
// mining: it embeds the merge mining tag in the coinbase extra and rebuilds
// the blobs the miner works on. Encoding is done by the P2Pool consensus
// library.
package monero

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"git.gammaspectra.live/P2Pool/consensus/v4/monero/block"
	"git.gammaspectra.live/P2Pool/consensus/v4/monero/transaction"
	"git.gammaspectra.live/P2Pool/consensus/v4/types"
	"git.gammaspectra.live/P2Pool/consensus/v4/utils"
)

const HashSize = types.HashSize

var ErrMalformedBlob = errors.New("malformed block blob")

type Hash = types.Hash

type Block = block.Block

func HashFromHex(s string) (Hash, error) {
	return types.HashFromString(s)
}

func ParseBlock(data []byte) (*Block, error) {
	b := new(Block)
	if err := b.UnmarshalBinary(data, false, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	if b.Coinbase.InputType != transaction.TxInGen {
		return nil, fmt.Errorf("%w: coinbase input %#x is not a generation input", ErrMalformedBlob, b.Coinbase.InputType)
	}
	// Re-encoding must give back the exact input, which also rules out
	// trailing bytes.
	out, err := b.MarshalBinary()
	if err != nil || !bytes.Equal(out, data) {
		return nil, fmt.Errorf("%w: blob does not re-encode to itself", ErrMalformedBlob)
	}
	return b, nil
}

func ParseBlockHex(s string) (*Block, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBlob, err)
	}
	return ParseBlock(data)
}

func BlockHex(b *Block) (string, error) {
	data, err := b.MarshalBinary()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(data), nil
}

// HashingBlob is what the miner hashes: the header, the merkle root of the
// coinbase and all other transactions, and the transaction count.
func HashingBlob(b *Block) []byte {
	return b.HashingBlob(nil)
}

// HeaderBlob is the leading part of the hashing blob.
func HeaderBlob(b *Block) []byte {
	blob := HashingBlob(b)
	tail := HashSize + utils.UVarInt64Size(uint64(len(b.Transactions)+1))
	return blob[:len(blob)-tail]
}

// ExtraNonceOffset returns the byte offset of the reserved extra nonce data
// inside the serialized block, or false when the extra has no nonce field.
func ExtraNonceOffset(b *Block) (int, bool) {
	data, err := b.MarshalBinary()
	if err != nil {
		return 0, false
	}
	extra, err := b.Coinbase.Extra.MarshalBinary()
	if err != nil || len(extra) == 0 {
		return 0, false
	}
	start := bytes.Index(data[len(HeaderBlob(b)):], extra)
	if start < 0 {
		return 0, false
	}
	pos := len(HeaderBlob(b)) + start
	for _, t := range b.Coinbase.Extra {
		if t.Tag == transaction.TxExtraTagNonce {
			// tag byte, then the length
			return pos + 1 + utils.UVarInt64Size(uint64(len(t.Data))), true
		}
		field := transaction.ExtraTags{t}
		raw, err := field.MarshalBinary()
		if err != nil {
			return 0, false
		}
		pos += len(raw)
	}
	return 0, false
}
