package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"seekstream/internal/domain"
	"seekstream/internal/metrics"
)

const (
	DefaultStreamCacheSize int64 = 32 << 20
	DefaultPieceTimeout          = 30 * time.Second
)

// RangeRequest is a syntactically valid single byte range. End < 0 means the
// end was omitted; Suffix > 0 means the last Suffix bytes were requested.
type RangeRequest struct {
	Start  int64
	End    int64
	Suffix int64
}

// RangeNotSatisfiableError carries the file length a 416 response reports.
type RangeNotSatisfiableError struct {
	Start, End int64
	FileLength int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("%s: bytes %d-%d of %d", domain.ErrRangeNotSatisfiable, e.Start, e.End, e.FileLength)
}

func (e *RangeNotSatisfiableError) Unwrap() error { return domain.ErrRangeNotSatisfiable }

// ResolveRange turns an optional request into the inclusive span that will be
// served. No single span exceeds maxSpan bytes; open ranges get half of it.
func ResolveRange(req *RangeRequest, fileLength, maxSpan int64) (domain.ByteRange, error) {
	if maxSpan <= 0 {
		maxSpan = DefaultStreamCacheSize
	}
	if req == nil {
		req = &RangeRequest{End: -1}
	}
	start, end := req.Start, req.End
	if req.Suffix > 0 {
		start = max(fileLength-req.Suffix, 0)
		end = fileLength - 1
	}
	if start < 0 || start >= fileLength {
		return domain.ByteRange{}, &RangeNotSatisfiableError{Start: start, End: end, FileLength: fileLength}
	}
	if end < 0 {
		end = min(fileLength-1, start+maxSpan/2-1)
	} else {
		if start > end {
			return domain.ByteRange{}, &RangeNotSatisfiableError{Start: start, End: end, FileLength: fileLength}
		}
		end = min(end, fileLength-1, start+maxSpan-1)
	}
	return domain.ByteRange{Start: start, End: end}, nil
}

// RangeStreamer serves byte ranges of session files, steering the scheduler
// toward what is being read.
type RangeStreamer struct {
	Registry        *SessionRegistry
	Scheduler       PriorityScheduler
	StreamCacheSize int64
	PieceTimeout    time.Duration
	Logger          *slog.Logger
	Tracer          trace.Tracer
}

// Stream is one resolved range response. Headers can be derived from it
// before any byte is read.
type Stream struct {
	File        domain.FileRef
	Range       domain.ByteRange
	ContentType string

	streamer *RangeStreamer
	session  *SwarmSession
	reader   string
}

// Open resolves the session, file and range for a request by reader.
func (rs *RangeStreamer) Open(infoHash, filePath string, req *RangeRequest, reader string) (*Stream, error) {
	session, err := rs.Registry.Get(infoHash)
	if err != nil {
		return nil, err
	}
	file, err := session.File(filePath)
	if err != nil {
		return nil, err
	}
	r, err := ResolveRange(req, file.Length, rs.StreamCacheSize)
	if err != nil {
		return nil, err
	}
	return &Stream{
		File:        file,
		Range:       r,
		ContentType: ContentTypeFor(file.Path),
		streamer:    rs,
		session:     session,
		reader:      reader,
	}, nil
}

func (st *Stream) Length() int64 { return st.Range.Length() }

// WriteTo schedules the range and writes its bytes to w in offset order,
// waiting for pieces as needed. The reader's priorities are relaxed on return,
// whatever the outcome.
func (st *Stream) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	rs := st.streamer
	ctx, span := rs.tracer().Start(ctx, "RangeStreamer.WriteTo", trace.WithAttributes(
		attribute.String("infoHash", st.session.ID()),
		attribute.String("file", st.File.Path),
		attribute.Int64("start", st.Range.Start),
		attribute.Int64("end", st.Range.End),
	))
	defer span.End()

	written, err := st.write(ctx, w)
	span.SetAttributes(attribute.Int64("written", written))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		rs.logger().Log(ctx, level, "range stream ended early",
			slog.String("infoHash", st.session.ID()),
			slog.String("file", st.File.Path),
			slog.Int64("start", st.Range.Start),
			slog.Int64("written", written),
			slog.String("error", err.Error()),
		)
	}
	return written, err
}

func (st *Stream) write(ctx context.Context, w io.Writer) (int64, error) {
	rs := st.streamer
	sess := st.session
	layout := sess.Layout()
	abs := st.File.AbsRange(st.Range)
	first, last := layout.PieceSpan(abs)

	gen := rs.Scheduler.Apply(sess, st.reader, st.File, st.Range)
	defer func() { rs.Scheduler.Relax(sess, st.reader, gen) }()

	sess.Protect(first, last)
	next := first
	defer func() {
		if next <= last {
			sess.Release(next, last)
		}
	}()

	metrics.ActiveReaders.Inc()
	defer metrics.ActiveReaders.Dec()

	flusher, _ := w.(interface{ Flush() })
	var written int64
	for p := first; p <= last; p++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if p > first {
			// Slide the lookahead window along with the read position.
			pos := max(layout.PieceOffset(p)-st.File.Offset, st.Range.Start)
			gen = rs.Scheduler.Apply(sess, st.reader, st.File, domain.ByteRange{Start: pos, End: st.Range.End})
		}
		data, ok := sess.Get(p)
		if !ok {
			var err error
			data, err = sess.WaitPiece(ctx, p, rs.pieceTimeout())
			if err != nil {
				if errors.Is(err, domain.ErrPieceTimeout) {
					metrics.PieceTimeoutsTotal.Inc()
				}
				return written, err
			}
		}

		off := layout.PieceOffset(p)
		part, ok := abs.Overlap(domain.ByteRange{Start: off, End: off + int64(len(data)) - 1})
		if !ok {
			return written, fmt.Errorf("%w: piece %d does not cover range", domain.ErrCorruptPiece, p)
		}
		n, err := w.Write(data[part.Start-off : part.End-off+1])
		written += int64(n)
		metrics.StreamedBytesTotal.Add(float64(n))

		sess.Release(p, p)
		next = p + 1
		if err != nil {
			return written, err
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	return written, nil
}

func (rs *RangeStreamer) pieceTimeout() time.Duration {
	if rs.PieceTimeout > 0 {
		return rs.PieceTimeout
	}
	return DefaultPieceTimeout
}

func (rs *RangeStreamer) logger() *slog.Logger {
	if rs.Logger != nil {
		return rs.Logger
	}
	return slog.Default()
}

func (rs *RangeStreamer) tracer() trace.Tracer {
	if rs.Tracer != nil {
		return rs.Tracer
	}
	return otel.Tracer("seekstream/usecase")
}
