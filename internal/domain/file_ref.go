package domain

import "path"

// FileRef describes one file of a session inside the concatenated piece space.
type FileRef struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
	Offset int64  `json:"offset"`
}

func (f FileRef) Name() string {
	return path.Base(f.Path)
}

// AbsRange converts a file-relative inclusive byte range to absolute offsets.
func (f FileRef) AbsRange(r ByteRange) ByteRange {
	return ByteRange{Start: f.Offset + r.Start, End: f.Offset + r.End}
}

// LargestFile returns the longest file, preferring the earliest on ties.
func LargestFile(files []FileRef) (FileRef, bool) {
	if len(files) == 0 {
		return FileRef{}, false
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.Length > best.Length {
			best = f
		}
	}
	return best, true
}
