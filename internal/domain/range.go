package domain

// ByteRange is an inclusive [Start, End] byte span.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// Overlap returns the intersection of r and o and whether it is non-empty.
func (r ByteRange) Overlap(o ByteRange) (ByteRange, bool) {
	out := ByteRange{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	return out, out.Start <= out.End
}
