package grid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Digest hashes the grid contents in anchor ordering. Equal grids hash equal
// regardless of insertion history, so replays can be verified against it.
func (s *Store) Digest() string {
	blocks := s.Blocks()
	h := sha256.New()
	var tmp [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	write(uint64(s.width))
	write(uint64(s.height))
	for _, b := range blocks {
		write(uint64(b.ID))
		write(uint64(int64(b.Pos.X)))
		write(uint64(int64(b.Pos.Y)))
		write(uint64(b.Tier))
		h.Write([]byte(b.Type))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
