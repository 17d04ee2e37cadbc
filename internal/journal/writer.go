package journal

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/jiechenghan/nifi/internal/journal/toc"
	"github.com/jiechenghan/nifi/internal/provenance"
	"github.com/jiechenghan/nifi/pkg/log"
)

// Default tuning, matching the upstream provenance repository defaults.
const (
	DefaultBlockBytes        = 1 << 20
	DefaultMaxAttributeBytes = 64 << 10
)

// ErrWriterClosed is returned by operations on a closed Writer.
var ErrWriterClosed = errors.New("journal: writer closed")

// WriterOptions configures a Writer. The zero value gives a plaintext,
// uncompressed writer with default block size.
type WriterOptions struct {
	// Codec encodes records into frame payloads. Nil means a PlainCodec
	// with DefaultMaxAttributeBytes.
	Codec RecordCodec
	// Compress gzips each block as an independent stream.
	Compress bool
	// BlockBytes is the uncompressed rotation threshold. Zero means
	// DefaultBlockBytes.
	BlockBytes int
	Logger     log.Logger
}

// Writer serializes events one at a time into the current block, rotating
// blocks at the configured uncompressed threshold and mirroring every block
// boundary into the TOC.
//
// A Writer does not own the underlying stream or the TOC writer: several
// writer instances (a plaintext one and an encrypting one, typically) may
// take turns on the same CountingWriter and TOC, as long as only one is
// active at a time and each calls Flush before handing over.
type Writer struct {
	cw   *CountingWriter
	toc  *toc.Writer
	opts WriterOptions
	log  log.Logger

	gz          *gzip.Writer
	blockOpen   bool
	blockIndex  int
	blockBytes  int
	wroteHeader bool
	closed      bool
}

// NewWriter builds a Writer over cw. tw may be nil (no TOC maintained);
// when present, its compressed flag must agree with opts.Compress.
func NewWriter(cw *CountingWriter, tw *toc.Writer, opts WriterOptions) (*Writer, error) {
	if tw != nil && tw.Compressed() != opts.Compress {
		return nil, fmt.Errorf("journal: TOC compressed=%v but writer compressed=%v", tw.Compressed(), opts.Compress)
	}
	if opts.Codec == nil {
		opts.Codec = &PlainCodec{MaxAttributeBytes: DefaultMaxAttributeBytes}
	}
	if opts.BlockBytes <= 0 {
		opts.BlockBytes = DefaultBlockBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Writer{cw: cw, toc: tw, opts: opts, log: logger.WithComponent("journal")}, nil
}

// WriteHeader writes the schema/version preamble. Call it exactly once per
// file, before the first record; writers appending to a file whose header
// already exists skip it entirely. firstEventID seeds the TOC entry for the
// opening block.
func (w *Writer) WriteHeader(firstEventID uint64) error {
	if w.closed {
		return ErrWriterClosed
	}
	if w.wroteHeader {
		return errors.New("journal: header already written")
	}
	if _, err := w.cw.Write(encodeHeader(w.opts.Compress)); err != nil {
		return fmt.Errorf("journal: write header: %w", err)
	}
	w.wroteHeader = true
	return w.openBlock(firstEventID)
}

// WriteRecord serializes one event into the current block. The event must
// already carry its allocated id. The record is fully materialized before
// the first byte reaches the stream, so readers can never observe a frame
// header without its body.
func (w *Writer) WriteRecord(ev *provenance.EventRecord) error {
	if w.closed {
		return ErrWriterClosed
	}
	payload, err := w.opts.Codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("journal: encode record %d: %w", ev.ID, err)
	}
	frame := encodeFrame(ev.ID, payload)

	if w.blockOpen && w.blockBytes > 0 && w.blockBytes+len(frame) > w.opts.BlockBytes {
		if err := w.closeBlock(); err != nil {
			return err
		}
	}
	if !w.blockOpen {
		if err := w.openBlock(ev.ID); err != nil {
			return err
		}
	}

	dst := io.Writer(w.cw)
	if w.gz != nil {
		dst = w.gz
	}
	if _, err := dst.Write(frame); err != nil {
		return fmt.Errorf("journal: write record %d: %w", ev.ID, err)
	}
	w.blockBytes += len(frame)
	return nil
}

// Flush completes the current block: the gzip stream (if any) is closed and
// everything buffered reaches the underlying writer. The next record opens
// a fresh block. Use it before handing the stream to another writer or
// before fsync.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrWriterClosed
	}
	return w.closeBlock()
}

// Close flushes the tail block and marks the writer unusable. The
// underlying stream and the TOC writer stay open; their owner closes them.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.closeBlock()
	w.closed = true
	return err
}

// BlockIndex returns the zero-based index of the block being written.
func (w *Writer) BlockIndex() int { return w.blockIndex - 1 }

// Offset returns the current byte offset of the underlying stream. Bytes
// still buffered in an open gzip block are not included.
func (w *Writer) Offset() uint64 { return w.cw.Offset() }

func (w *Writer) openBlock(firstEventID uint64) error {
	offset := w.cw.Offset()
	if w.toc != nil {
		// The TOC entry lands (and syncs) before any record of the block,
		// so the index never points at a block the journal does not have.
		if err := w.toc.AddBlock(offset, firstEventID); err != nil {
			return err
		}
	}
	if w.opts.Compress {
		w.gz = gzip.NewWriter(w.cw)
	}
	w.blockOpen = true
	w.blockBytes = 0
	w.blockIndex++
	w.log.Debug("block opened",
		log.Int("block", w.blockIndex-1),
		log.Uint64("offset", offset),
		log.Uint64("firstEventId", firstEventID))
	return nil
}

func (w *Writer) closeBlock() error {
	if !w.blockOpen {
		return nil
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			return fmt.Errorf("journal: close block %d: %w", w.blockIndex-1, err)
		}
		w.gz = nil
	}
	w.blockOpen = false
	return nil
}
