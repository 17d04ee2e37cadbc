package toc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
)

// Version is the current TOC file format version.
const Version = 2

const entrySize = 16

// ErrUnsupportedVersion reports a TOC header from a newer or unknown format.
var ErrUnsupportedVersion = errors.New("toc: unsupported version")

// Entry is one block boundary: where the block starts in the journal file
// and the first event id serialized into it.
type Entry struct {
	Offset       uint64
	FirstEventID uint64
}

// Writer appends block entries to a TOC file.
type Writer struct {
	f          *os.File
	compressed bool
	sync       bool
	count      int
	lastOffset uint64
}

// NewWriter creates the TOC file at path, truncating any previous one, and
// writes the header. compressed is fixed for the life of the file. When
// syncEachBlock is set, every entry is fsync'd before AddBlock returns.
func NewWriter(path string, compressed, syncEachBlock bool) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("toc: create %s: %w", path, err)
	}
	hdr := [2]byte{Version, 0}
	if compressed {
		hdr[1] = 1
	}
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("toc: write header: %w", err)
	}
	return &Writer{f: f, compressed: compressed, sync: syncEachBlock}, nil
}

// Compressed reports the flag recorded in the header.
func (w *Writer) Compressed() bool { return w.compressed }

// BlockCount returns the number of entries written so far.
func (w *Writer) BlockCount() int { return w.count }

// AddBlock appends one entry. Offsets must be strictly increasing; the
// journal writer calls this when it opens a block, before any record of the
// block is written.
func (w *Writer) AddBlock(offset, firstEventID uint64) error {
	if w.count > 0 && offset <= w.lastOffset {
		return fmt.Errorf("toc: offset %d not greater than previous %d", offset, w.lastOffset)
	}
	var buf [entrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], offset)
	binary.BigEndian.PutUint64(buf[8:16], firstEventID)
	if _, err := w.f.Write(buf[:]); err != nil {
		return fmt.Errorf("toc: append entry: %w", err)
	}
	if w.sync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("toc: sync: %w", err)
		}
	}
	w.count++
	w.lastOffset = offset
	return nil
}

// Close flushes and closes the TOC file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("toc: sync on close: %w", err)
	}
	return w.f.Close()
}

// Reader holds a fully parsed TOC.
type Reader struct {
	compressed bool
	entries    []Entry
	// Truncated is set when the file ended mid-entry; the parsed prefix is
	// still usable.
	Truncated bool
}

// OpenReader reads and parses the TOC file at path.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("toc: open %s: %w", path, err)
	}
	defer f.Close()
	return NewReader(f)
}

// NewReader parses a TOC from r. A short final entry marks the reader
// Truncated rather than failing: everything before it remains valid.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("toc: read header: %w", err)
	}
	if hdr[0] == 0 || hdr[0] > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr[0])
	}
	tr := &Reader{compressed: hdr[1] == 1}
	var buf [entrySize]byte
	for {
		_, err := io.ReadFull(r, buf[:])
		if err == io.EOF {
			return tr, nil
		}
		if err != nil {
			// Partial trailing entry: crash during AddBlock. Keep the prefix.
			tr.Truncated = true
			return tr, nil
		}
		e := Entry{
			Offset:       binary.BigEndian.Uint64(buf[0:8]),
			FirstEventID: binary.BigEndian.Uint64(buf[8:16]),
		}
		if n := len(tr.entries); n > 0 && e.Offset <= tr.entries[n-1].Offset {
			// Offsets must climb; treat the rest as garbage.
			tr.Truncated = true
			return tr, nil
		}
		tr.entries = append(tr.entries, e)
	}
}

// Compressed reports whether journal blocks are individually compressed.
func (r *Reader) Compressed() bool { return r.compressed }

// BlockCount returns the number of indexed blocks.
func (r *Reader) BlockCount() int { return len(r.entries) }

// Entries returns the parsed entries, oldest first.
func (r *Reader) Entries() []Entry { return r.entries }

// BlockOffset returns the journal byte offset where block blockIndex
// starts.
func (r *Reader) BlockOffset(blockIndex int) (uint64, error) {
	if blockIndex < 0 || blockIndex >= len(r.entries) {
		return 0, fmt.Errorf("toc: block %d out of range (have %d)", blockIndex, len(r.entries))
	}
	return r.entries[blockIndex].Offset, nil
}

// BlockIndexForEvent returns the index of the last block whose first event
// id is at or before eventID — the only block that can contain it. ok is
// false when the TOC is empty or eventID precedes the first indexed block;
// either way the caller falls back to scanning the journal from the start.
func (r *Reader) BlockIndexForEvent(eventID uint64) (int, bool) {
	if len(r.entries) == 0 {
		return 0, false
	}
	// First entry with FirstEventID > eventID; the block before it holds the id.
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].FirstEventID > eventID
	})
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}
