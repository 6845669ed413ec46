package chain

import (
	"encoding/binary"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEntityIDRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := uuid.New()
		encoded := EntityIDToBytes(id)
		decoded, err := EntityIDFromBytes(encoded[:])
		require.NoError(t, err)
		require.Equal(t, id, decoded)
	}
}

func TestEntityIDHalves(t *testing.T) {
	id := uuid.New()
	encoded := EntityIDToBytes(id)
	mostSig := binary.BigEndian.Uint64(encoded[0:8])
	leastSig := binary.BigEndian.Uint64(encoded[8:16])
	require.Equal(t, binary.BigEndian.Uint64(id[0:8]), mostSig)
	require.Equal(t, binary.BigEndian.Uint64(id[8:16]), leastSig)
}

func TestEntityIDFromBytesRejectsBadLength(t *testing.T) {
	_, err := EntityIDFromBytes(make([]byte, 15))
	require.Error(t, err)
	_, err = EntityIDFromBytes(make([]byte, 17))
	require.Error(t, err)
}
