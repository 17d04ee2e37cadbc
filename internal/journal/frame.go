package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// SchemaVersion is the journal file format version written into the header.
const SchemaVersion = 1

var magic = []byte("PROVJ")

// headerLen is the fixed size of the journal preamble: magic, schema
// version byte, flags byte.
const headerLen = len("PROVJ") + 2

const flagCompressed = 0x01

// maxFramePayload caps a single record payload. A length beyond this in a
// frame header means the bytes are garbage, not a record.
const maxFramePayload = 64 << 20

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// UnsupportedSchemaVersionError reports a journal written by an unknown
// format version.
type UnsupportedSchemaVersionError struct {
	Version int
}

func (e *UnsupportedSchemaVersionError) Error() string {
	return fmt.Sprintf("journal: unsupported schema version %d", e.Version)
}

// CorruptionError reports malformed journal bytes past the header: a CRC
// mismatch or an impossible frame. Offset is the byte position of the frame
// in the journal file; for compressed journals it approximates the position
// of the enclosing block. BlockIndex is -1 when unknown.
type CorruptionError struct {
	Name       string
	Offset     uint64
	BlockIndex int
	Reason     string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal: %s: corrupt data at offset %d (block %d): %s",
		e.Name, e.Offset, e.BlockIndex, e.Reason)
}

// encodeHeader produces the fixed journal preamble.
func encodeHeader(compressed bool) []byte {
	out := make([]byte, 0, headerLen)
	out = append(out, magic...)
	out = append(out, SchemaVersion)
	var flags byte
	if compressed {
		flags |= flagCompressed
	}
	return append(out, flags)
}

// decodeHeader validates the preamble and returns the compressed flag.
func decodeHeader(r io.Reader, name string) (compressed bool, err error) {
	buf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, fmt.Errorf("journal: %s: read header: %w", name, err)
	}
	if string(buf[:len(magic)]) != string(magic) {
		return false, &CorruptionError{Name: name, Offset: 0, BlockIndex: -1, Reason: "bad magic"}
	}
	if v := int(buf[len(magic)]); v != SchemaVersion {
		return false, &UnsupportedSchemaVersionError{Version: v}
	}
	return buf[len(magic)+1]&flagCompressed != 0, nil
}

// encodeFrame wraps one encoded payload: id, uvarint length, payload,
// crc32c over id+payload. The full frame is materialized before any byte is
// written, so a crash can only truncate, never interleave.
func encodeFrame(eventID uint64, payload []byte) []byte {
	out := make([]byte, 0, 8+binary.MaxVarintLen64+len(payload)+4)
	out = appendUint64(out, eventID)
	out = appendUvarint(out, uint64(len(payload)))
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, out[:8])
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// errTruncatedFrame marks a frame cut short by EOF; readers map it to a
// benign end of stream.
var errTruncatedFrame = errors.New("journal: truncated trailing frame")

// readFrame decodes the next frame from br. It returns io.EOF on a clean
// boundary, errTruncatedFrame when the stream ends mid-frame, and a bad-CRC
// flag the caller turns into a CorruptionError with file context.
func readFrame(br interface {
	io.Reader
	io.ByteReader
}) (eventID uint64, payload []byte, err error) {
	var idb [8]byte
	if _, err := io.ReadFull(br, idb[:]); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, mapReadErr(err)
	}
	eventID = binary.BigEndian.Uint64(idb[:])

	plen, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, nil, mapReadErr(err)
	}
	if plen > maxFramePayload {
		return 0, nil, fmt.Errorf("frame payload of %d bytes: %w", plen, errBadFrame)
	}
	payload = make([]byte, plen)
	if _, err := io.ReadFull(br, payload); err != nil {
		return 0, nil, mapReadErr(err)
	}
	var crcb [4]byte
	if _, err := io.ReadFull(br, crcb[:]); err != nil {
		return 0, nil, mapReadErr(err)
	}
	crc := crc32.Update(0, castagnoli, idb[:])
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(crcb[:]) {
		return 0, nil, errBadFrame
	}
	return eventID, payload, nil
}

// errBadFrame marks a frame whose bytes are present but wrong.
var errBadFrame = errors.New("journal: frame checksum or length mismatch")

// mapReadErr folds the EOF family into errTruncatedFrame and passes real
// I/O errors through.
func mapReadErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errTruncatedFrame
	}
	return err
}

// CountingWriter tracks the absolute byte offset of an underlying writer.
// Writers sharing one journal file share one CountingWriter so block
// offsets recorded in the TOC stay consistent.
type CountingWriter struct {
	w io.Writer
	n uint64
}

// NewCountingWriter wraps w at offset zero.
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += uint64(n)
	return n, err
}

// Offset returns the number of bytes written through cw.
func (cw *CountingWriter) Offset() uint64 { return cw.n }
