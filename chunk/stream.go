// Package chunk streams a delimited source file as a sequence of
// record-aligned chunks, each parsed into its own partial table, so
// files larger than memory can be ingested piecewise.
//
// Chunks are delivered in file order. Aggregates computed chunk by
// chunk reflect the file's physical layout, not a random sample.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/table"
)

const quote = '"'

// InvalidChunkSizeError is returned for non-positive chunk sizes.
type InvalidChunkSizeError struct {
	Size int64
}

func (e *InvalidChunkSizeError) Error() string {
	return fmt.Sprintf("chunk size must be positive, got %d", e.Size)
}

// Parser decodes the header and the record-aligned chunks of a
// delimited file, and settles column types over the whole file.
// format.DelimitedAdapter implements it.
type Parser interface {
	ParseHeader(b []byte) ([]string, error)
	NewInferrer(header []string) *format.Inferrer
	ParseChunk(ctx context.Context, header []string, data []byte, firstRow int, types *format.ColumnTypes) (*table.Table, error)
}

// Chunk is a contiguous byte range of a source file. The first chunk
// starts at offset 0 and includes the header record.
type Chunk struct {
	SourcePath string
	Offset     int64
	Length     int64
}

// Stream is a forward-only reader over the chunks of one file. It is
// not safe for concurrent use and cannot be restarted.
type Stream struct {
	path   string
	size   int64
	parser Parser
	f      *os.File

	// carry holds bytes read past the last record boundary; they start
	// the next chunk.
	carry  []byte
	offset int64
	eof    bool
	done   bool

	header []string
	types  *format.ColumnTypes
	rows   int
}

// Open validates chunkSize and opens path for streaming.
func Open(path string, chunkSize int64, parser Parser) (*Stream, error) {
	if chunkSize <= 0 {
		return nil, &InvalidChunkSizeError{Size: chunkSize}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &format.UnreadableSourceError{Adapter: "chunk", Path: path, Err: err}
	}

	return &Stream{path: path, size: chunkSize, parser: parser, f: f}, nil
}

// Header returns the column names once the first chunk has been read.
func (s *Stream) Header() []string { return s.header }

// Next reads and parses the next chunk. It returns io.EOF after the
// last chunk, and closes the file when it does.
func (s *Stream) Next(ctx context.Context) (*table.Table, Chunk, error) {
	if s.done || s.f == nil {
		return nil, Chunk{}, io.EOF
	}

	if err := ctx.Err(); err != nil {
		return nil, Chunk{}, err
	}

	if s.types == nil {
		if err := s.settle(ctx); err != nil {
			s.Close()

			return nil, Chunk{}, err
		}
	}

	data, err := s.fill()
	if err != nil {
		s.Close()

		return nil, Chunk{}, &format.UnreadableSourceError{Adapter: "chunk", Path: s.path, Err: err}
	}

	ch := Chunk{SourcePath: s.path, Offset: s.offset, Length: int64(len(data))}
	s.offset += int64(len(data))

	body := data
	if s.header == nil {
		end := nextBoundary(data)
		header, err := s.parser.ParseHeader(data[:end])
		if err != nil {
			s.Close()

			return nil, Chunk{}, &format.UnreadableSourceError{Adapter: "chunk", Path: s.path, Err: err}
		}
		s.header = header
		body = data[end:]
	}

	if len(body) == 0 {
		// Header-only file.
		s.Close()

		return nil, Chunk{}, io.EOF
	}

	t, err := s.parser.ParseChunk(ctx, s.header, body, s.rows+1, s.types)
	if err != nil {
		s.Close()

		return nil, Chunk{}, &format.UnreadableSourceError{
			Adapter: "chunk",
			Path:    s.path,
			Err:     fmt.Errorf("chunk at offset %d: %w", ch.Offset, err),
		}
	}

	s.rows += t.NumRows()

	return t, ch, nil
}

// settle reads the file once, chunk by chunk, to fix every column type
// before the first chunk is parsed, then rewinds. Sampling inference
// stops reading once its sample is complete.
func (s *Stream) settle(ctx context.Context) error {
	var inf *format.Inferrer

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := s.fill()
		if err != nil {
			return &format.UnreadableSourceError{Adapter: "chunk", Path: s.path, Err: err}
		}
		if len(data) == 0 {
			break
		}

		offset := s.offset
		s.offset += int64(len(data))

		body := data
		if s.header == nil {
			end := nextBoundary(data)
			header, err := s.parser.ParseHeader(data[:end])
			if err != nil {
				return &format.UnreadableSourceError{Adapter: "chunk", Path: s.path, Err: err}
			}
			s.header = header
			inf = s.parser.NewInferrer(header)
			body = data[end:]
		}

		if err := inf.Observe(ctx, body); err != nil {
			return &format.UnreadableSourceError{
				Adapter: "chunk",
				Path:    s.path,
				Err:     fmt.Errorf("chunk at offset %d: %w", offset, err),
			}
		}

		if inf.Settled() || (s.eof && s.carry == nil) {
			break
		}
	}

	if inf != nil {
		s.types = inf.Types()
	}

	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return &format.UnreadableSourceError{Adapter: "chunk", Path: s.path, Err: err}
	}

	s.carry, s.eof, s.done = nil, false, false
	s.offset, s.header = 0, nil

	return nil
}

// fill returns the bytes of the next chunk: everything up to the last
// record boundary in at least one chunkSize read, extended as needed
// until a boundary is found. The first chunk must hold the header and
// at least one record unless the file ends first.
func (s *Stream) fill() ([]byte, error) {
	buf := s.carry
	s.carry = nil

	sc := scanner{first: -1}

	for {
		if !s.eof {
			n := len(buf)
			buf = append(buf, make([]byte, s.size)...)

			read, err := io.ReadFull(s.f, buf[n:])
			buf = buf[:n+read]

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.eof = true
			} else if err != nil {
				return nil, err
			}
		}

		sc.scan(buf)

		// The first chunk is only cut after a record that follows the
		// header; minCut stays -1 until the header is complete.
		minCut := 0
		if s.header == nil {
			minCut = sc.first
		}

		if minCut >= 0 && sc.last > minCut {
			if sc.last < len(buf) {
				s.carry = append([]byte(nil), buf[sc.last:]...)
			}

			return buf[:sc.last], nil
		}

		if s.eof {
			if len(buf) == 0 {
				s.done = true
			}

			return buf, nil
		}
	}
}

// scanner tracks record boundaries (newlines outside quotes) across
// successive scans of a growing buffer.
type scanner struct {
	pos     int
	inQuote bool
	// first and last are the offsets just past the first and last
	// boundary seen; first is -1 until one is found.
	first int
	last  int
}

func (sc *scanner) scan(buf []byte) {
	for ; sc.pos < len(buf); sc.pos++ {
		switch buf[sc.pos] {
		case quote:
			sc.inQuote = !sc.inQuote
		case '\n':
			if !sc.inQuote {
				if sc.first < 0 {
					sc.first = sc.pos + 1
				}
				sc.last = sc.pos + 1
			}
		}
	}
}

// nextBoundary returns the offset just past the first record boundary
// in data, or len(data).
func nextBoundary(data []byte) int {
	sc := scanner{first: -1}
	sc.scan(data)

	if sc.first < 0 {
		return len(data)
	}

	return sc.first
}

// Close releases the file. It is safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	if s.f == nil {
		return nil
	}

	err := s.f.Close()
	s.f = nil

	return err
}

// All returns the remaining chunks as a sequence. The file is closed
// when the sequence ends, including when the caller stops early.
func (s *Stream) All(ctx context.Context) iter.Seq2[*table.Table, error] {
	return func(yield func(*table.Table, error) bool) {
		defer s.Close()

		for {
			t, _, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)

				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// Collect streams path and concatenates every chunk into one table.
// Only the parsed table is held in memory, never the raw file.
func Collect(ctx context.Context, path string, chunkSize int64, parser Parser) (*table.Table, error) {
	s, err := Open(path, chunkSize, parser)
	if err != nil {
		return nil, err
	}

	var out *table.Table
	for t, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}

		if out == nil {
			out = t

			continue
		}

		if err := out.Append(t); err != nil {
			return nil, err
		}
	}

	if out == nil {
		return &table.Table{}, nil
	}

	return out, nil
}
