package repository

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jiechenghan/nifi/internal/journal"
	"github.com/jiechenghan/nifi/internal/journal/toc"
	"github.com/jiechenghan/nifi/internal/kms"
	"github.com/jiechenghan/nifi/internal/provenance"
	"github.com/jiechenghan/nifi/internal/registry"
	"github.com/jiechenghan/nifi/pkg/log"
	"github.com/jiechenghan/nifi/pkg/sequence"
)

// ErrEventNotFound is returned by GetEvent for ids that were never written
// or fell into an allocator gap.
var ErrEventNotFound = errors.New("repository: event not found")

// ErrClosed is returned by operations on a closed Repository.
var ErrClosed = errors.New("repository: closed")

const (
	journalsDir = "journals"
	registryDir = "registry"
	journalExt  = ".prov"
	tocExt      = ".toc"

	// DefaultMaxJournalBytes rolls the active journal once its file reaches
	// this size.
	DefaultMaxJournalBytes = 256 << 20
	// DefaultMaxJournalEvents bounds records per journal regardless of size.
	DefaultMaxJournalEvents = 1_000_000
)

// Options configures a Repository.
type Options struct {
	// DataDir is the repository root; journals and the manifest live under it.
	DataDir string

	// MaxJournalBytes and MaxJournalEvents trigger rollover. Zero means the
	// defaults.
	MaxJournalBytes  uint64
	MaxJournalEvents uint64

	// Compress gzips journal blocks.
	Compress bool
	// BlockBytes is the uncompressed block rotation threshold.
	BlockBytes int
	// MaxAttributeBytes bounds attribute values at write time.
	MaxAttributeBytes int
	// SyncTOC fsyncs the TOC after every block entry.
	SyncTOC bool

	// Encryptor/Decryptor enable per-record encryption when both are set.
	// KeyID names the key new records are written under.
	Encryptor kms.Encryptor
	Decryptor kms.Decryptor
	KeyID     string

	Logger log.Logger
}

func (o *Options) encrypted() bool { return o.Encryptor != nil }

type activeJournal struct {
	file    *os.File
	cw      *journal.CountingWriter
	tw      *toc.Writer
	w       *journal.Writer
	firstID uint64
	lastID  uint64
	events  uint64
}

// Repository is the journal-set store. Safe for concurrent use.
type Repository struct {
	opts Options
	log  log.Logger
	reg  *registry.Registry
	seq  *sequence.Allocator

	mu     sync.Mutex
	active *activeJournal
	closed bool
}

// Open prepares the data directory, opens the manifest and restores the
// event id allocator so new ids continue strictly after everything on disk.
func Open(opts Options) (*Repository, error) {
	if opts.DataDir == "" {
		return nil, errors.New("repository: data dir is required")
	}
	if opts.MaxJournalBytes == 0 {
		opts.MaxJournalBytes = DefaultMaxJournalBytes
	}
	if opts.MaxJournalEvents == 0 {
		opts.MaxJournalEvents = DefaultMaxJournalEvents
	}
	if opts.MaxAttributeBytes == 0 {
		opts.MaxAttributeBytes = journal.DefaultMaxAttributeBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	opts.Logger = logger

	if err := os.MkdirAll(filepath.Join(opts.DataDir, journalsDir), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create data dir: %w", err)
	}
	reg, err := registry.Open(filepath.Join(opts.DataDir, registryDir), registry.Options{
		SyncWrites: true,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	r := &Repository{
		opts: opts,
		log:  logger.WithComponent("repository"),
		reg:  reg,
	}
	next, err := r.restoreNextID()
	if err != nil {
		reg.Close()
		return nil, err
	}
	r.seq = sequence.NewAllocatorAt(next)
	r.log.Info("repository opened",
		log.Str("dataDir", opts.DataDir),
		log.Uint64("nextEventId", next),
		log.Bool("encrypted", opts.encrypted()))
	return r, nil
}

// restoreNextID finds the id after the newest record on disk. The manifest
// answers for sealed journals; an unsealed tail journal is scanned because
// its last id is not recorded anywhere else.
func (r *Repository) restoreNextID() (uint64, error) {
	latest, err := r.reg.Latest()
	if errors.Is(err, registry.ErrNotFound) {
		return r.scanDirNextID()
	}
	if err != nil {
		return 0, err
	}
	if latest.Sealed {
		return latest.LastEventID + 1, nil
	}
	last, n, err := scanJournalTail(filepath.Join(r.opts.DataDir, latest.Path), r.log)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Crash before the first record; reuse the reserved range.
		return latest.FirstEventID, nil
	}
	return last + 1, nil
}

// scanDirNextID recovers the allocator with no manifest at all: journals are
// named by first event id, so only the newest file needs a full read.
func (r *Repository) scanDirNextID() (uint64, error) {
	dir := filepath.Join(r.opts.DataDir, journalsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("repository: scan journals: %w", err)
	}
	var firsts []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, journalExt) {
			continue
		}
		first, err := strconv.ParseUint(strings.TrimSuffix(name, journalExt), 10, 64)
		if err != nil {
			r.log.Warn("ignoring unparseable journal name", log.Str("file", name))
			continue
		}
		firsts = append(firsts, first)
	}
	if len(firsts) == 0 {
		return 0, nil
	}
	sort.Slice(firsts, func(i, j int) bool { return firsts[i] < firsts[j] })
	newest := firsts[len(firsts)-1]
	r.log.Warn("manifest missing, recovering allocator from journal files",
		log.Int("journals", len(firsts)),
		log.Uint64("newestFirstId", newest))

	last, n, err := scanJournalTail(r.journalPath(newest), r.log)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return newest, nil
	}
	return last + 1, nil
}

// scanJournalTail reads a journal to its end and reports the last event id
// and record count. Event ids ride in the frame, so the scan needs no keys
// even for encrypted journals.
func scanJournalTail(path string, logger log.Logger) (last uint64, n int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("repository: open journal: %w", err)
	}
	defer f.Close()
	jr, err := journal.NewReader(f, journal.ReaderOptions{Logger: logger})
	if err != nil {
		return 0, 0, err
	}
	for {
		ev, err := jr.Next()
		if err == io.EOF {
			return last, n, nil
		}
		if err != nil {
			return 0, 0, err
		}
		last = ev.ID
		n++
	}
}

func (r *Repository) journalPath(firstID uint64) string {
	return filepath.Join(r.opts.DataDir, journalsDir, strconv.FormatUint(firstID, 10)+journalExt)
}

func (r *Repository) tocPath(firstID uint64) string {
	return filepath.Join(r.opts.DataDir, journalsDir, strconv.FormatUint(firstID, 10)+tocExt)
}

func (r *Repository) newCodec() journal.RecordCodec {
	plain := &journal.PlainCodec{MaxAttributeBytes: r.opts.MaxAttributeBytes}
	if !r.opts.encrypted() {
		return plain
	}
	return &journal.EncryptingCodec{
		Inner:     plain,
		Encryptor: r.opts.Encryptor,
		Decryptor: r.opts.Decryptor,
		KeyID:     r.opts.KeyID,
	}
}

// Add assigns the event its id and appends it to the active journal, rolling
// over first when the journal is full. The returned id is what GetEvent
// takes. ev is not retained.
func (r *Repository) Add(ev *provenance.EventRecord) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	if r.active != nil &&
		(r.active.cw.Offset() >= r.opts.MaxJournalBytes || r.active.events >= r.opts.MaxJournalEvents) {
		if err := r.sealActiveLocked(); err != nil {
			return 0, err
		}
	}

	id := r.seq.Next()
	if r.active == nil {
		if err := r.openJournalLocked(id); err != nil {
			return 0, err
		}
	}

	rec := *ev
	rec.ID = id
	if err := r.active.w.WriteRecord(&rec); err != nil {
		return 0, err
	}
	r.active.lastID = id
	r.active.events++
	return id, nil
}

func (r *Repository) openJournalLocked(firstID uint64) error {
	path := r.journalPath(firstID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("repository: create journal: %w", err)
	}
	tw, err := toc.NewWriter(r.tocPath(firstID), r.opts.Compress, r.opts.SyncTOC)
	if err != nil {
		f.Close()
		return err
	}
	cw := journal.NewCountingWriter(f)
	w, err := journal.NewWriter(cw, tw, journal.WriterOptions{
		Codec:      r.newCodec(),
		Compress:   r.opts.Compress,
		BlockBytes: r.opts.BlockBytes,
		Logger:     r.opts.Logger,
	})
	if err != nil {
		tw.Close()
		f.Close()
		return err
	}
	if err := w.WriteHeader(firstID); err != nil {
		tw.Close()
		f.Close()
		return err
	}

	rel, err := filepath.Rel(r.opts.DataDir, path)
	if err != nil {
		rel = path
	}
	if err := r.reg.Register(registry.JournalInfo{
		Path:         rel,
		FirstEventID: firstID,
		Compressed:   r.opts.Compress,
		Encrypted:    r.opts.encrypted(),
	}); err != nil {
		tw.Close()
		f.Close()
		return err
	}

	r.active = &activeJournal{file: f, cw: cw, tw: tw, w: w, firstID: firstID}
	r.log.Info("journal opened",
		log.Str("path", rel),
		log.Uint64("firstEventId", firstID))
	return nil
}

func (r *Repository) sealActiveLocked() error {
	a := r.active
	if a == nil {
		return nil
	}
	blocks := a.w.BlockIndex() + 1
	if err := a.w.Close(); err != nil {
		return err
	}
	if err := a.tw.Close(); err != nil {
		return err
	}
	if err := a.file.Sync(); err != nil {
		a.file.Close()
		return fmt.Errorf("repository: sync journal: %w", err)
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("repository: close journal: %w", err)
	}
	if err := r.reg.Seal(a.firstID, a.lastID, blocks); err != nil {
		return err
	}
	r.log.Info("journal sealed",
		log.Uint64("firstEventId", a.firstID),
		log.Uint64("lastEventId", a.lastID),
		log.Uint64("events", a.events),
		log.Int("blocks", blocks))
	r.active = nil
	return nil
}

// Flush makes everything written so far readable: the active journal's tail
// block is completed and the file fsync'd.
func (r *Repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.active == nil {
		return nil
	}
	if err := r.active.w.Flush(); err != nil {
		return err
	}
	if err := r.active.file.Sync(); err != nil {
		return fmt.Errorf("repository: sync journal: %w", err)
	}
	return nil
}

// GetEvent fetches one event by id. The manifest routes to the single
// journal that can contain it, the TOC narrows to a block, and the block is
// scanned. Gaps and never-written ids are ErrEventNotFound.
func (r *Repository) GetEvent(id uint64) (*provenance.EventRecord, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	// Records in the open tail block are not readable yet.
	if r.active != nil && id >= r.active.firstID {
		if err := r.active.w.Flush(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
	}
	r.mu.Unlock()

	info, err := r.reg.Locate(id)
	if errors.Is(err, registry.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(r.opts.DataDir, info.Path))
	if err != nil {
		return nil, fmt.Errorf("repository: open journal: %w", err)
	}
	defer f.Close()

	var tr *toc.Reader
	if t, err := toc.OpenReader(r.tocPath(info.FirstEventID)); err == nil {
		tr = t
	} else {
		r.log.Warn("TOC unavailable, scanning journal from the start",
			log.Uint64("firstEventId", info.FirstEventID),
			log.Err(err))
	}

	jr, err := journal.NewReader(f, journal.ReaderOptions{
		Codec:  r.newCodec(),
		TOC:    tr,
		Logger: r.opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := jr.SkipToEvent(id); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
		}
		return nil, err
	}
	ev, err := jr.Next()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
		}
		return nil, err
	}
	if ev.ID != id {
		// Allocator gap: the id was reserved but never persisted.
		return nil, fmt.Errorf("%w: id %d", ErrEventNotFound, id)
	}
	return ev, nil
}

// MaxEventID returns the id of the newest persisted event. ok is false for
// an empty repository.
func (r *Repository) MaxEventID() (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil && r.active.events > 0 {
		return r.active.lastID, true
	}
	latest, err := r.reg.Latest()
	if err != nil || !latest.Sealed {
		return 0, false
	}
	return latest.LastEventID, true
}

// Journals lists the manifest entries, oldest first.
func (r *Repository) Journals() ([]registry.JournalInfo, error) {
	return r.reg.List()
}

// Close seals the active journal and closes the manifest.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.sealActiveLocked()
	if cerr := r.reg.Close(); err == nil {
		err = cerr
	}
	return err
}
