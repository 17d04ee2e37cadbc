package journal

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jiechenghan/nifi/internal/journal/toc"
	"github.com/jiechenghan/nifi/internal/kms"
	"github.com/jiechenghan/nifi/internal/provenance"
	"github.com/jiechenghan/nifi/pkg/log"
)

// ReaderOptions configures a Reader. The zero value reads plaintext
// journals leniently.
type ReaderOptions struct {
	// Codec decodes frame payloads. Nil means a PlainCodec, whose lenient
	// decode turns undecodable payloads (encrypted envelopes) into opaque
	// records instead of errors.
	Codec RecordCodec
	// TOC enables block-granular seeks. Optional; without it SkipToEvent
	// scans forward.
	TOC *toc.Reader
	// SkipUndecryptable downgrades a failed decrypt from aborting the read
	// to skipping the record with a warning. Off by default: after a bad
	// decrypt the safest assumption is that nothing later can be trusted.
	SkipUndecryptable bool
	// Name labels errors; defaults to the file name when reading from an
	// *os.File.
	Name   string
	Logger log.Logger
}

// Reader decodes a journal byte stream lazily, one record per Next call.
// Records come back strictly in write order. A truncated tail reads as a
// clean end of stream.
type Reader struct {
	raw     io.Reader
	counter *countingReader
	rawBuf  *bufio.Reader
	opts    ReaderOptions
	log     log.Logger
	name    string

	compressed bool
	gz         *gzip.Reader
	cur        frameSource
	blockIndex int
	pending    *provenance.EventRecord
	done       bool
}

type frameSource interface {
	io.Reader
	io.ByteReader
}

// NewReader validates the journal header of r and prepares lazy iteration.
// An unknown schema version fails here with UnsupportedSchemaVersionError.
func NewReader(r io.Reader, opts ReaderOptions) (*Reader, error) {
	name := opts.Name
	if name == "" {
		if f, ok := r.(*os.File); ok {
			name = f.Name()
		} else {
			name = "journal"
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if opts.Codec == nil {
		opts.Codec = &PlainCodec{}
	}

	counter := &countingReader{r: r}
	rawBuf := bufio.NewReader(counter)
	compressed, err := decodeHeader(rawBuf, name)
	if err != nil {
		return nil, err
	}
	jr := &Reader{
		raw:        r,
		counter:    counter,
		rawBuf:     rawBuf,
		opts:       opts,
		log:        logger.WithComponent("journal"),
		name:       name,
		compressed: compressed,
		blockIndex: -1,
	}
	if !compressed {
		jr.cur = rawBuf
		jr.blockIndex = 0
	}
	return jr, nil
}

// Compressed reports whether the journal's blocks are gzip streams.
func (r *Reader) Compressed() bool { return r.compressed }

// BlockIndex returns the zero-based index of the block the reader is in, or
// -1 before the first compressed block is entered.
func (r *Reader) BlockIndex() int { return r.blockIndex }

// Next returns the next record, or io.EOF at a clean end of stream. Partial
// trailing bytes from a crashed writer are logged and reported as io.EOF,
// never as an error. A CRC mismatch or impossible frame surfaces as a
// CorruptionError; nothing past it is readable.
func (r *Reader) Next() (*provenance.EventRecord, error) {
	for {
		if r.pending != nil {
			ev := r.pending
			r.pending = nil
			return ev, nil
		}
		if r.done {
			return nil, io.EOF
		}
		if r.compressed && r.gz == nil {
			if err := r.nextBlock(); err != nil {
				return nil, err
			}
			continue
		}

		frameStart := r.offset()
		id, payload, err := readFrame(r.cur)
		switch {
		case err == nil:
			ev, derr := r.opts.Codec.Decode(id, payload)
			if derr != nil {
				if r.opts.SkipUndecryptable && (errors.Is(derr, kms.ErrDecrypt) || errors.Is(derr, kms.ErrKeyNotFound)) {
					r.log.Warn("skipping undecryptable record",
						log.Str("file", r.name),
						log.Uint64("eventId", id),
						log.Err(derr))
					continue
				}
				return nil, derr
			}
			return ev, nil
		case err == io.EOF:
			if r.compressed {
				// Block boundary: resume at the next gzip stream.
				r.gz = nil
				continue
			}
			r.done = true
			return nil, io.EOF
		case errors.Is(err, errTruncatedFrame):
			r.log.Warn("journal ends mid-record, treating as end of stream",
				log.Str("file", r.name),
				log.Int("block", r.blockIndex),
				log.Uint64("offset", frameStart))
			r.done = true
			return nil, io.EOF
		case errors.Is(err, errBadFrame):
			return nil, &CorruptionError{Name: r.name, Offset: frameStart, BlockIndex: r.blockIndex, Reason: err.Error()}
		default:
			return nil, fmt.Errorf("journal: %s: read: %w", r.name, err)
		}
	}
}

// nextBlock positions the reader at the start of the next gzip stream.
func (r *Reader) nextBlock() error {
	if _, err := r.rawBuf.Peek(1); err != nil {
		// No further blocks.
		r.done = true
		return nil
	}
	gz, err := gzip.NewReader(r.rawBuf)
	if err != nil {
		// A torn gzip header can only come from a crash mid-rotation.
		r.log.Warn("journal ends mid-block, treating as end of stream",
			log.Str("file", r.name),
			log.Int("block", r.blockIndex+1),
			log.Err(err))
		r.done = true
		return nil
	}
	gz.Multistream(false)
	r.gz = gz
	r.cur = bufio.NewReader(gz)
	r.blockIndex++
	return nil
}

// SkipToEvent positions the reader so the following Next returns the first
// record whose id is >= eventID. With a TOC and a seekable stream it jumps
// straight to the candidate block; otherwise it scans forward. Returns
// io.EOF when every remaining record precedes eventID, which for a live
// journal means the id is still in the unflushed tail.
func (r *Reader) SkipToEvent(eventID uint64) error {
	if r.opts.TOC != nil {
		if seeker, ok := r.raw.(io.Seeker); ok {
			if idx, ok := r.opts.TOC.BlockIndexForEvent(eventID); ok {
				off, err := r.opts.TOC.BlockOffset(idx)
				if err != nil {
					return err
				}
				if _, err := seeker.Seek(int64(off), io.SeekStart); err != nil {
					return fmt.Errorf("journal: %s: seek block %d: %w", r.name, idx, err)
				}
				r.counter.n = off
				r.rawBuf.Reset(r.counter)
				r.gz = nil
				r.pending = nil
				r.done = false
				if r.compressed {
					r.blockIndex = idx - 1
				} else {
					r.cur = r.rawBuf
					r.blockIndex = idx
				}
			}
		}
	}
	for {
		ev, err := r.Next()
		if err != nil {
			return err
		}
		if ev.ID >= eventID {
			r.pending = ev
			return nil
		}
	}
}

// offset approximates the current position in the journal file: exact for
// uncompressed journals, the enclosing block's progress for compressed
// ones.
func (r *Reader) offset() uint64 {
	buffered := uint64(r.rawBuf.Buffered())
	if buffered > r.counter.n {
		return 0
	}
	return r.counter.n - buffered
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += uint64(n)
	return n, err
}
