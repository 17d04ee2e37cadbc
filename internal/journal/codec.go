package journal

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/jiechenghan/nifi/internal/kms"
	"github.com/jiechenghan/nifi/internal/provenance"
)

// recordSchemaVersion tags the field layout inside a record payload.
const recordSchemaVersion = 1

// RecordCodec is the seam between block framing and record content. The
// plaintext serializer and the encrypt-then-serialize composite both
// implement it; writers and readers are configured with one, not subclassed.
type RecordCodec interface {
	// Encode turns an event into the frame payload.
	Encode(ev *provenance.EventRecord) ([]byte, error)
	// Decode turns a frame payload back into an event. id is the event id
	// carried by the frame.
	Decode(id uint64, payload []byte) (*provenance.EventRecord, error)
}

// PlainCodec serializes events as schema-ordered plaintext fields.
//
// Decoding is lenient: the frame CRC has already vouched for the bytes, so a
// payload that does not parse as plaintext fields (an encrypted envelope,
// typically) comes back as an opaque record carrying the raw payload rather
// than an error. That is what lets a non-decrypting reader walk an encrypted
// journal without crashing.
type PlainCodec struct {
	// MaxAttributeBytes bounds each attribute value at write time; zero
	// disables truncation.
	MaxAttributeBytes int
}

// Encode implements RecordCodec.
func (c *PlainCodec) Encode(ev *provenance.EventRecord) ([]byte, error) {
	attrs := provenance.TruncateAttributes(ev.Attributes, c.MaxAttributeBytes)

	out := make([]byte, 0, 128)
	out = append(out, recordSchemaVersion)
	out = appendString(out, string(ev.Type))
	out = appendUint64(out, uint64(ev.EventTimeMs))
	out = appendUint64(out, uint64(ev.EntryDateMs))
	out = appendUint64(out, uint64(ev.LineageStartMs))
	out = appendString(out, ev.ComponentID)
	out = appendString(out, ev.ComponentType)
	out = appendString(out, ev.TransitURI)
	out = appendString(out, ev.FlowFileUUID)
	out = appendStringList(out, ev.ParentUUIDs)
	out = appendStringList(out, ev.ChildUUIDs)
	out = appendUint64(out, ev.ContentSize)
	out = appendString(out, ev.Details)
	out = appendUvarint(out, uint64(len(attrs)))
	for _, k := range sortedKeys(attrs) {
		out = appendString(out, k)
		out = appendString(out, attrs[k])
	}
	return out, nil
}

// Decode implements RecordCodec.
func (c *PlainCodec) Decode(id uint64, payload []byte) (*provenance.EventRecord, error) {
	ev, err := decodeFields(id, payload)
	if err != nil {
		return &provenance.EventRecord{
			ID:   id,
			Type: provenance.EventTypeUnknown,
			Raw:  append([]byte(nil), payload...),
		}, nil
	}
	return ev, nil
}

// EncryptingCodec wraps a PlainCodec behind an Encryptor/Decryptor pair.
// Encode serializes with the same field layout as the plain codec, then
// hands the plaintext to the Encryptor; the resulting envelope is what the
// block machinery frames. Decode reverses the order and is strict: an
// envelope that cannot be opened or whose plaintext does not parse is an
// error, because record content after a failed decrypt cannot be trusted.
type EncryptingCodec struct {
	Inner     *PlainCodec
	Encryptor kms.Encryptor
	Decryptor kms.Decryptor
	// KeyID names the key new records are encrypted under. Decryption uses
	// the key id embedded in each envelope, so rotation needs no reader
	// change.
	KeyID string
}

// Encode implements RecordCodec.
func (c *EncryptingCodec) Encode(ev *provenance.EventRecord) ([]byte, error) {
	plaintext, err := c.Inner.Encode(ev)
	if err != nil {
		return nil, err
	}
	return c.Encryptor.Encrypt(plaintext, c.KeyID)
}

// Decode implements RecordCodec.
func (c *EncryptingCodec) Decode(id uint64, payload []byte) (*provenance.EventRecord, error) {
	plaintext, err := c.Decryptor.Decrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("journal: record %d: %w", id, err)
	}
	ev, err := decodeFields(id, plaintext)
	if err != nil {
		return nil, fmt.Errorf("journal: record %d: decrypted payload: %w", id, err)
	}
	return ev, nil
}

// decodeFields parses a plaintext payload strictly.
func decodeFields(id uint64, payload []byte) (*provenance.EventRecord, error) {
	cur := &cursor{b: payload}
	ver := cur.u8()
	if cur.err == nil && ver != recordSchemaVersion {
		return nil, fmt.Errorf("unknown record schema version %d", ver)
	}
	ev := &provenance.EventRecord{ID: id}
	ev.Type = provenance.EventType(cur.str())
	ev.EventTimeMs = int64(cur.u64())
	ev.EntryDateMs = int64(cur.u64())
	ev.LineageStartMs = int64(cur.u64())
	ev.ComponentID = cur.str()
	ev.ComponentType = cur.str()
	ev.TransitURI = cur.str()
	ev.FlowFileUUID = cur.str()
	ev.ParentUUIDs = cur.strList()
	ev.ChildUUIDs = cur.strList()
	ev.ContentSize = cur.u64()
	ev.Details = cur.str()
	n := cur.uvarint()
	if cur.err == nil && n > 0 {
		if n > uint64(len(payload)) {
			return nil, fmt.Errorf("attribute count %d exceeds payload", n)
		}
		ev.Attributes = make(map[string]string, n)
		for i := uint64(0); i < n && cur.err == nil; i++ {
			k := cur.str()
			v := cur.str()
			ev.Attributes[k] = v
		}
	}
	if cur.err != nil {
		return nil, cur.err
	}
	if cur.off != len(payload) {
		return nil, fmt.Errorf("%d trailing payload bytes", len(payload)-cur.off)
	}
	if !ev.Type.Valid() {
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// cursor walks a payload, latching the first error.
type cursor struct {
	b   []byte
	off int
	err error
}

func (c *cursor) fail(format string, args ...interface{}) {
	if c.err == nil {
		c.err = fmt.Errorf(format, args...)
	}
}

func (c *cursor) u8() byte {
	if c.err != nil {
		return 0
	}
	if c.off >= len(c.b) {
		c.fail("short payload at byte %d", c.off)
		return 0
	}
	v := c.b[c.off]
	c.off++
	return v
}

func (c *cursor) u64() uint64 {
	if c.err != nil {
		return 0
	}
	if c.off+8 > len(c.b) {
		c.fail("short payload at byte %d", c.off)
		return 0
	}
	v := binary.BigEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

func (c *cursor) uvarint() uint64 {
	if c.err != nil {
		return 0
	}
	v, n := binary.Uvarint(c.b[c.off:])
	if n <= 0 {
		c.fail("bad varint at byte %d", c.off)
		return 0
	}
	c.off += n
	return v
}

func (c *cursor) str() string {
	l := c.uvarint()
	if c.err != nil {
		return ""
	}
	if uint64(len(c.b)-c.off) < l {
		c.fail("string of %d bytes overruns payload at byte %d", l, c.off)
		return ""
	}
	s := string(c.b[c.off : c.off+int(l)])
	c.off += int(l)
	return s
}

func (c *cursor) strList() []string {
	n := c.uvarint()
	if c.err != nil || n == 0 {
		return nil
	}
	if n > uint64(len(c.b)) {
		c.fail("list count %d exceeds payload", n)
		return nil
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n && c.err == nil; i++ {
		out = append(out, c.str())
	}
	return out
}

// sortedKeys fixes attribute order so the same event always encodes to the
// same bytes.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func appendString(dst []byte, s string) []byte {
	dst = appendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func appendStringList(dst []byte, ss []string) []byte {
	dst = appendUvarint(dst, uint64(len(ss)))
	for _, s := range ss {
		dst = appendString(dst, s)
	}
	return dst
}
