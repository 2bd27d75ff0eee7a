package monero

import (
	"encoding/binary"
	"fmt"

	"git.gammaspectra.live/P2Pool/consensus/v4/merge_mining"
	"git.gammaspectra.live/P2Pool/consensus/v4/monero/transaction"
	"git.gammaspectra.live/P2Pool/consensus/v4/types"
	"git.gammaspectra.live/P2Pool/consensus/v4/utils"
)

// MergeMiningTag is the commitment to the auxiliary chains: the merkle tree
// shape and its root. With a single auxiliary chain the root is that chain's
// merge mining hash.
type MergeMiningTag struct {
	AuxiliaryChains uint32
	Nonce           uint32
	Root            Hash
}

// SingleChainTag commits to one auxiliary chain.
func SingleChainTag(root Hash) MergeMiningTag {
	return MergeMiningTag{AuxiliaryChains: 1, Root: root}
}

func (t MergeMiningTag) extraTag() transaction.ExtraTag {
	tree := merge_mining.Tag{
		NumberAuxiliaryChains: t.AuxiliaryChains,
		Nonce:                 t.Nonce,
	}
	treeData := tree.MarshalTreeData()

	data := make([]byte, utils.UVarInt64Size(treeData)+types.HashSize)
	n := binary.PutUvarint(data, treeData)
	copy(data[n:], t.Root[:])

	return transaction.ExtraTag{
		Tag:       transaction.TxExtraTagMergeMining,
		VarInt:    uint64(len(data)),
		HasVarInt: true,
		Data:      data,
	}
}

func parseMergeMiningTag(data []byte) (MergeMiningTag, error) {
	treeData, n := binary.Uvarint(data)
	if n <= 0 || len(data)-n != types.HashSize {
		return MergeMiningTag{}, fmt.Errorf("%w: merge mining tag is %d bytes", ErrMalformedBlob, len(data))
	}
	bits := 1 + treeData&7
	t := MergeMiningTag{
		AuxiliaryChains: uint32(1 + (treeData>>3)&(1<<bits-1)),
		Nonce:           uint32(treeData >> (3 + bits)),
	}
	copy(t.Root[:], data[n:])
	return t, nil
}

// FindMergeMiningTag returns the merge mining tag of a coinbase extra.
func FindMergeMiningTag(extra transaction.ExtraTags) (MergeMiningTag, error) {
	tag := extra.GetTag(transaction.TxExtraTagMergeMining)
	if tag == nil {
		return MergeMiningTag{}, fmt.Errorf("%w: no merge mining tag in coinbase extra", ErrMalformedBlob)
	}
	return parseMergeMiningTag(tag.Data)
}

// SetMergeMiningTag drops any merge mining tag from extra and appends tag.
// Trailing padding is kept last so the extra stays parseable.
func SetMergeMiningTag(extra transaction.ExtraTags, tag MergeMiningTag) transaction.ExtraTags {
	out := make(transaction.ExtraTags, 0, len(extra)+1)
	var padding *transaction.ExtraTag
	for i := range extra {
		switch extra[i].Tag {
		case transaction.TxExtraTagMergeMining:
		case transaction.TxExtraTagPadding:
			padding = &extra[i]
		default:
			out = append(out, extra[i])
		}
	}
	out = append(out, tag.extraTag())
	if padding != nil {
		out = append(out, *padding)
	}
	return out
}
