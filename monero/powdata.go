package monero

import (
	"encoding/binary"
	"fmt"
)

// PowData is the proof of work payload attached to this chain's block
// header when it is merge mined: the RandomX seed hash the foreign chain
// used and the complete solved foreign block blob.
type PowData struct {
	SeedHash Hash
	Blob     []byte
}

func (p *PowData) MarshalBinary() ([]byte, error) {
	if len(p.Blob) == 0 {
		return nil, fmt.Errorf("pow data: empty foreign block")
	}
	out := make([]byte, 0, HashSize+binary.MaxVarintLen64+len(p.Blob))
	out = append(out, p.SeedHash[:]...)
	out = binary.AppendUvarint(out, uint64(len(p.Blob)))
	return append(out, p.Blob...), nil
}

func (p *PowData) UnmarshalBinary(data []byte) error {
	if len(data) < HashSize {
		return fmt.Errorf("pow data: %w: %d bytes", ErrMalformedBlob, len(data))
	}
	copy(p.SeedHash[:], data)
	size, n := binary.Uvarint(data[HashSize:])
	if n <= 0 || uint64(len(data)-HashSize-n) != size {
		return fmt.Errorf("pow data: %w: bad blob length", ErrMalformedBlob)
	}
	p.Blob = append([]byte(nil), data[HashSize+n:]...)
	return nil
}
