package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// EntityIDToBytes encodes a 128-bit entity ID as the concatenation of the
// big-endian encodings of its most significant and least significant 64-bit
// halves, the form in which IDs appear in contract events and calldata.
func EntityIDToBytes(id uuid.UUID) [16]byte {
	var out [16]byte
	mostSig := binary.BigEndian.Uint64(id[0:8])
	leastSig := binary.BigEndian.Uint64(id[8:16])
	binary.BigEndian.PutUint64(out[0:8], mostSig)
	binary.BigEndian.PutUint64(out[8:16], leastSig)
	return out
}

// EntityIDFromBytes decodes a 128-bit entity ID from two consecutive
// big-endian 64-bit halves.
func EntityIDFromBytes(b []byte) (uuid.UUID, error) {
	if len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("invalid entity ID length %d", len(b))
	}
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[0:8], binary.BigEndian.Uint64(b[0:8]))
	binary.BigEndian.PutUint64(id[8:16], binary.BigEndian.Uint64(b[8:16]))
	return id, nil
}
