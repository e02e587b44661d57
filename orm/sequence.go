package orm

import (
	"encoding/binary"
)

// DecodeSequence reads a value produced by EncodeSequence. A missing value
// is zero.
func DecodeSequence(bz []byte) int64 {
	if len(bz) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(bz))
}

// EncodeSequence returns a big endian representation of given value. The
// order of encoded values is the same as the order of the numbers, so
// sequence encoded keys iterate in sequence order.
func EncodeSequence(val int64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, uint64(val))
	return bz
}
