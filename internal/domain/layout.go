package domain

// PieceLayout is the fixed geometry of a session's piece space: every piece is
// PieceLength bytes except possibly the last.
type PieceLayout struct {
	PieceLength int64
	TotalLength int64
	NumPieces   int
}

func NewPieceLayout(pieceLength, totalLength int64) PieceLayout {
	l := PieceLayout{PieceLength: pieceLength, TotalLength: totalLength}
	if pieceLength > 0 && totalLength > 0 {
		l.NumPieces = int((totalLength + pieceLength - 1) / pieceLength)
	}
	return l
}

// PieceSize returns the byte length of piece index, or 0 when out of range.
func (l PieceLayout) PieceSize(index int) int64 {
	if index < 0 || index >= l.NumPieces {
		return 0
	}
	if index == l.NumPieces-1 {
		if rem := l.TotalLength % l.PieceLength; rem != 0 {
			return rem
		}
	}
	return l.PieceLength
}

// PieceOffset returns the absolute offset of the first byte of piece index.
func (l PieceLayout) PieceOffset(index int) int64 {
	return int64(index) * l.PieceLength
}

// PieceAt returns the index of the piece holding absolute offset off.
func (l PieceLayout) PieceAt(off int64) int {
	if l.PieceLength <= 0 {
		return 0
	}
	return int(off / l.PieceLength)
}

// PieceSpan returns the inclusive piece indices covering absolute range r.
func (l PieceLayout) PieceSpan(r ByteRange) (first, last int) {
	first = l.PieceAt(r.Start)
	last = int((r.End+1+l.PieceLength-1)/l.PieceLength) - 1
	if last >= l.NumPieces {
		last = l.NumPieces - 1
	}
	if last < first {
		last = first
	}
	return first, last
}

func (l PieceLayout) LastPiece() int {
	return l.NumPieces - 1
}
