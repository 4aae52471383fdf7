package ports

// PieceCache is a bounded in-memory map of verified pieces. Get never blocks.
// Protected pieces are skipped by eviction until released.
type PieceCache interface {
	Put(index int, data []byte) error
	Get(index int) ([]byte, bool)
	Has(index int) bool
	Drop(index int)
	Protect(first, last int)
	Release(first, last int)
	Bytes() int64
	Len() int
	// Bitfield marks cached pieces, piece 0 in the high bit of byte 0.
	Bitfield() []byte
	Clear()
}
