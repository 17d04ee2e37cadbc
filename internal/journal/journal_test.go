package journal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/jiechenghan/nifi/internal/journal/toc"
	"github.com/jiechenghan/nifi/internal/kms"
	"github.com/jiechenghan/nifi/internal/provenance"
)

func testEvent(id uint64) *provenance.EventRecord {
	return &provenance.EventRecord{
		ID:             id,
		Type:           provenance.EventTypeCreate,
		EventTimeMs:    1700000000000 + int64(id),
		EntryDateMs:    1700000000000,
		LineageStartMs: 1699999999000,
		ComponentID:    "generate-1",
		ComponentType:  "GenerateFlowFile",
		FlowFileUUID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(id)}).String(),
		ContentSize:    1024,
		Attributes: map[string]string{
			"filename": "data.bin",
			"path":     "/incoming",
		},
	}
}

func writeJournal(t *testing.T, path, tocPath string, opts WriterOptions, events []*provenance.EventRecord) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create journal: %v", err)
	}
	defer f.Close()

	var tw *toc.Writer
	if tocPath != "" {
		tw, err = toc.NewWriter(tocPath, opts.Compress, false)
		if err != nil {
			t.Fatalf("create toc: %v", err)
		}
		defer tw.Close()
	}

	w, err := NewWriter(NewCountingWriter(f), tw, opts)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteHeader(events[0].ID); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, ev := range events {
		if err := w.WriteRecord(ev); err != nil {
			t.Fatalf("write record %d: %v", ev.ID, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func readAll(t *testing.T, path string, opts ReaderOptions) []*provenance.EventRecord {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer f.Close()

	r, err := NewReader(f, opts)
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	var out []*provenance.EventRecord
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, ev)
	}
}

func TestPlainRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")

	events := []*provenance.EventRecord{testEvent(10), testEvent(11), testEvent(12)}
	events[1].Type = provenance.EventTypeFork
	events[1].ParentUUIDs = []string{events[0].FlowFileUUID}
	events[1].ChildUUIDs = []string{"child-a", "child-b"}
	events[2].Type = provenance.EventTypeSend
	events[2].TransitURI = "nifi://remote:8443/input"
	events[2].Details = "delivered"

	writeJournal(t, path, "", WriterOptions{}, events)
	got := readAll(t, path, ReaderOptions{})

	if len(got) != len(events) {
		t.Fatalf("got %d records, want %d", len(got), len(events))
	}
	for i, ev := range events {
		if !reflect.DeepEqual(got[i], ev) {
			t.Errorf("record %d mismatch:\n got %+v\nwant %+v", ev.ID, got[i], ev)
		}
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")

	var events []*provenance.EventRecord
	for id := uint64(0); id < 50; id++ {
		events = append(events, testEvent(id))
	}
	writeJournal(t, path, "", WriterOptions{Compress: true}, events)

	got := readAll(t, path, ReaderOptions{})
	if len(got) != len(events) {
		t.Fatalf("got %d records, want %d", len(got), len(events))
	}
	for i, ev := range events {
		if !reflect.DeepEqual(got[i], ev) {
			t.Fatalf("record %d mismatch", ev.ID)
		}
	}
}

func TestBlockRotationMirrorsTOC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	tocPath := filepath.Join(dir, "1.toc")

	var events []*provenance.EventRecord
	for id := uint64(100); id < 200; id++ {
		events = append(events, testEvent(id))
	}
	// Tiny threshold so nearly every record opens a new block.
	writeJournal(t, path, tocPath, WriterOptions{Compress: true, BlockBytes: 256}, events)

	tr, err := toc.OpenReader(tocPath)
	if err != nil {
		t.Fatalf("open toc: %v", err)
	}
	if tr.Truncated {
		t.Fatal("toc unexpectedly truncated")
	}
	if tr.BlockCount() < 2 {
		t.Fatalf("expected multiple blocks, got %d", tr.BlockCount())
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat journal: %v", err)
	}
	entries := tr.Entries()
	for i, e := range entries {
		if i > 0 && e.Offset <= entries[i-1].Offset {
			t.Fatalf("entry %d offset %d not increasing", i, e.Offset)
		}
		if i > 0 && e.FirstEventID <= entries[i-1].FirstEventID {
			t.Fatalf("entry %d first id %d not increasing", i, e.FirstEventID)
		}
		if e.Offset >= uint64(info.Size()) {
			t.Fatalf("entry %d offset %d beyond file size %d", i, e.Offset, info.Size())
		}
	}
	if entries[0].FirstEventID != 100 {
		t.Fatalf("first block starts at id %d, want 100", entries[0].FirstEventID)
	}

	got := readAll(t, path, ReaderOptions{})
	if len(got) != len(events) {
		t.Fatalf("got %d records, want %d", len(got), len(events))
	}
}

func TestSkipToEvent(t *testing.T) {
	for _, compress := range []bool{false, true} {
		name := "uncompressed"
		if compress {
			name = "compressed"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "1.prov")
			tocPath := filepath.Join(dir, "1.toc")

			var events []*provenance.EventRecord
			for id := uint64(0); id < 100; id++ {
				events = append(events, testEvent(id))
			}
			writeJournal(t, path, tocPath, WriterOptions{Compress: compress, BlockBytes: 512}, events)

			tr, err := toc.OpenReader(tocPath)
			if err != nil {
				t.Fatalf("open toc: %v", err)
			}
			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("open journal: %v", err)
			}
			defer f.Close()
			r, err := NewReader(f, ReaderOptions{TOC: tr})
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}

			if err := r.SkipToEvent(73); err != nil {
				t.Fatalf("skip: %v", err)
			}
			for want := uint64(73); want < 100; want++ {
				ev, err := r.Next()
				if err != nil {
					t.Fatalf("next after skip: %v", err)
				}
				if ev.ID != want {
					t.Fatalf("got id %d, want %d", ev.ID, want)
				}
			}
			if _, err := r.Next(); err != io.EOF {
				t.Fatalf("expected EOF, got %v", err)
			}
		})
	}
}

func TestSkipToEventPastEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	writeJournal(t, path, "", WriterOptions{}, []*provenance.EventRecord{testEvent(1), testEvent(2)})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, ReaderOptions{})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if err := r.SkipToEvent(999); err != io.EOF {
		t.Fatalf("expected EOF for id past end, got %v", err)
	}
}

func TestTruncatedTailReadsAsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	writeJournal(t, path, "", WriterOptions{},
		[]*provenance.EventRecord{testEvent(1), testEvent(2), testEvent(3)})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	// Cut into the last frame's checksum.
	if err := os.WriteFile(path, raw[:len(raw)-3], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	got := readAll(t, path, ReaderOptions{})
	if len(got) != 2 {
		t.Fatalf("got %d records after truncation, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("unexpected ids %d, %d", got[0].ID, got[1].ID)
	}
}

func TestTruncatedCompressedTailReadsAsEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	var events []*provenance.EventRecord
	for id := uint64(0); id < 20; id++ {
		events = append(events, testEvent(id))
	}
	writeJournal(t, path, "", WriterOptions{Compress: true}, events)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if err := os.WriteFile(path, raw[:len(raw)-5], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, ReaderOptions{})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	n := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("truncated compressed journal must not error, got %v", err)
		}
		n++
	}
	if n >= len(events) {
		t.Fatalf("read %d records from a truncated journal of %d", n, len(events))
	}
}

func TestCorruptFrameSurfacesCorruptionError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	writeJournal(t, path, "", WriterOptions{},
		[]*provenance.EventRecord{testEvent(1), testEvent(2)})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	// Flip a bit inside the first frame's event id; the checksum no longer
	// matches.
	raw[headerLen+2] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, ReaderOptions{})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	_, err = r.Next()
	var ce *CorruptionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
	if ce.Offset != uint64(headerLen) {
		t.Errorf("corruption offset %d, want %d", ce.Offset, headerLen)
	}
}

func TestUnsupportedSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	writeJournal(t, path, "", WriterOptions{}, []*provenance.EventRecord{testEvent(1)})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	raw[len(magic)] = 99
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	_, err = NewReader(f, ReaderOptions{})
	var ue *UnsupportedSchemaVersionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedSchemaVersionError, got %v", err)
	}
	if ue.Version != 99 {
		t.Errorf("reported version %d, want 99", ue.Version)
	}
}

func TestAttributeTruncationAtWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")

	ev := testEvent(5)
	ev.Attributes = map[string]string{"big": strings.Repeat("x", 100), "small": "ok"}
	writeJournal(t, path, "", WriterOptions{Codec: &PlainCodec{MaxAttributeBytes: 10}},
		[]*provenance.EventRecord{ev})

	got := readAll(t, path, ReaderOptions{})
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	want := strings.Repeat("x", 10) + provenance.TruncationMarker
	if got[0].Attributes["big"] != want {
		t.Errorf("truncated value %q, want %q", got[0].Attributes["big"], want)
	}
	if got[0].Attributes["small"] != "ok" {
		t.Errorf("short value was modified: %q", got[0].Attributes["small"])
	}
	// The caller's map stays intact.
	if len(ev.Attributes["big"]) != 100 {
		t.Error("writer mutated the caller's attribute map")
	}
}

func testKeys(t *testing.T) *kms.StaticKeyProvider {
	t.Helper()
	return kms.NewStaticKeyProvider(map[string][]byte{
		"k1": []byte("0123456789abcdef0123456789abcdef"),
		"k2": []byte("fedcba9876543210fedcba9876543210"),
	})
}

func TestEncryptedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	keys := testKeys(t)
	codec := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Encryptor: kms.NewAESGCMEncryptor(keys),
		Decryptor: kms.NewAESGCMDecryptor(keys),
		KeyID:     "k1",
	}

	events := []*provenance.EventRecord{testEvent(1), testEvent(2)}
	writeJournal(t, path, "", WriterOptions{Codec: codec}, events)

	got := readAll(t, path, ReaderOptions{Codec: codec})
	if len(got) != len(events) {
		t.Fatalf("got %d records, want %d", len(got), len(events))
	}
	for i, ev := range events {
		if !reflect.DeepEqual(got[i], ev) {
			t.Errorf("record %d mismatch:\n got %+v\nwant %+v", ev.ID, got[i], ev)
		}
	}
}

func TestEncryptedJournalOpaqueToPlainReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	keys := testKeys(t)
	codec := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Encryptor: kms.NewAESGCMEncryptor(keys),
		Decryptor: kms.NewAESGCMDecryptor(keys),
		KeyID:     "k1",
	}
	writeJournal(t, path, "", WriterOptions{Codec: codec},
		[]*provenance.EventRecord{testEvent(7), testEvent(8)})

	// No codec, no keys: ids and structure remain visible, content does not.
	got := readAll(t, path, ReaderOptions{})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for i, want := range []uint64{7, 8} {
		if got[i].ID != want {
			t.Errorf("record %d id %d, want %d", i, got[i].ID, want)
		}
		if !got[i].Opaque() {
			t.Errorf("record %d should be opaque without keys", want)
		}
		if got[i].ComponentID != "" || len(got[i].Attributes) != 0 {
			t.Errorf("record %d leaked plaintext fields", want)
		}
	}
}

func TestDecryptFailureAbortsByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	keys := testKeys(t)
	enc := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Encryptor: kms.NewAESGCMEncryptor(keys),
		Decryptor: kms.NewAESGCMDecryptor(keys),
		KeyID:     "k1",
	}
	writeJournal(t, path, "", WriterOptions{Codec: enc},
		[]*provenance.EventRecord{testEvent(1)})

	wrongKeys := kms.NewStaticKeyProvider(map[string][]byte{
		"k1": []byte("ffffffffffffffffffffffffffffffff"),
	})
	dec := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Decryptor: kms.NewAESGCMDecryptor(wrongKeys),
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	r, err := NewReader(f, ReaderOptions{Codec: dec})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, kms.ErrDecrypt) {
		t.Fatalf("expected ErrDecrypt, got %v", err)
	}
}

func TestSkipUndecryptableRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	keys := testKeys(t)
	enc := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Encryptor: kms.NewAESGCMEncryptor(keys),
		Decryptor: kms.NewAESGCMDecryptor(keys),
		KeyID:     "k1",
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := NewWriter(NewCountingWriter(f), nil, WriterOptions{Codec: enc})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteHeader(1); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := w.WriteRecord(testEvent(1)); err != nil {
		t.Fatalf("write record: %v", err)
	}
	enc.KeyID = "k2"
	if err := w.WriteRecord(testEvent(2)); err != nil {
		t.Fatalf("write record: %v", err)
	}
	enc.KeyID = "k1"
	if err := w.WriteRecord(testEvent(3)); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.Close()

	// Reader only knows k1; the k2 record is skippable, not fatal.
	k1Only := kms.NewStaticKeyProvider(map[string][]byte{
		"k1": []byte("0123456789abcdef0123456789abcdef"),
	})
	dec := &EncryptingCodec{Inner: &PlainCodec{}, Decryptor: kms.NewAESGCMDecryptor(k1Only)}

	got := readAll(t, path, ReaderOptions{Codec: dec, SkipUndecryptable: true})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 3 {
		t.Fatalf("unexpected ids %d, %d", got[0].ID, got[1].ID)
	}
}

// A plaintext writer and an encrypting writer take turns on one journal and
// one TOC. With a pass-through encryptor the payload bytes are identical to
// plaintext, so a plain reader decodes both records fully.
func TestMixedWritersShareJournalAndTOC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.prov")
	tocPath := filepath.Join(dir, "1.toc")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tw, err := toc.NewWriter(tocPath, false, false)
	if err != nil {
		t.Fatalf("create toc: %v", err)
	}
	cw := NewCountingWriter(f)

	plain, err := NewWriter(cw, tw, WriterOptions{})
	if err != nil {
		t.Fatalf("new plain writer: %v", err)
	}
	if err := plain.WriteHeader(0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := plain.WriteRecord(testEvent(0)); err != nil {
		t.Fatalf("plain record: %v", err)
	}
	if err := plain.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	encCodec := &EncryptingCodec{
		Inner:     &PlainCodec{},
		Encryptor: kms.NopEncryptor{},
		Decryptor: kms.NopEncryptor{},
	}
	encrypted, err := NewWriter(cw, tw, WriterOptions{Codec: encCodec})
	if err != nil {
		t.Fatalf("new encrypting writer: %v", err)
	}
	if err := encrypted.WriteRecord(testEvent(1)); err != nil {
		t.Fatalf("encrypted record: %v", err)
	}
	if err := encrypted.Close(); err != nil {
		t.Fatalf("close encrypting writer: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close toc: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	got := readAll(t, path, ReaderOptions{})
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
	for i, want := range []uint64{0, 1} {
		if got[i].ID != want {
			t.Fatalf("record %d id %d, want %d", i, got[i].ID, want)
		}
		if got[i].Opaque() {
			t.Fatalf("record %d opaque; pass-through payloads must decode", want)
		}
		if got[i].ComponentID != "generate-1" {
			t.Fatalf("record %d fields did not survive: %+v", want, got[i])
		}
	}

	tr, err := toc.OpenReader(tocPath)
	if err != nil {
		t.Fatalf("open toc: %v", err)
	}
	if tr.BlockCount() != 2 {
		t.Fatalf("toc has %d blocks, want 2 (one per writer)", tr.BlockCount())
	}
	if ids := tr.Entries(); ids[0].FirstEventID != 0 || ids[1].FirstEventID != 1 {
		t.Fatalf("toc first ids %d, %d", ids[0].FirstEventID, ids[1].FirstEventID)
	}
}

func TestWriterClosed(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "1.prov"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	w, err := NewWriter(NewCountingWriter(f), nil, WriterOptions{})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	if err := w.WriteHeader(0); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.WriteRecord(testEvent(1)); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
}

func TestTOCCompressionMismatch(t *testing.T) {
	dir := t.TempDir()
	tw, err := toc.NewWriter(filepath.Join(dir, "1.toc"), true, false)
	if err != nil {
		t.Fatalf("create toc: %v", err)
	}
	defer tw.Close()
	f, err := os.Create(filepath.Join(dir, "1.prov"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if _, err := NewWriter(NewCountingWriter(f), tw, WriterOptions{Compress: false}); err == nil {
		t.Fatal("expected error for TOC/writer compression mismatch")
	}
}
