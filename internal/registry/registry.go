package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/jiechenghan/nifi/pkg/log"
)

// ErrNotFound is returned when no manifest entry matches.
var ErrNotFound = errors.New("registry: journal not found")

// JournalInfo is one manifest entry describing a journal file.
type JournalInfo struct {
	// Path of the journal file, relative to the repository data directory.
	Path string `json:"path"`
	// FirstEventID is the id of the first record, fixed at creation and
	// doubling as the manifest key.
	FirstEventID uint64 `json:"firstEventId"`
	// LastEventID is the id of the final record. Meaningful only once
	// Sealed; the active journal's upper bound moves with every write.
	LastEventID uint64 `json:"lastEventId"`
	BlockCount  int    `json:"blockCount"`
	Compressed  bool   `json:"compressed"`
	Encrypted   bool   `json:"encrypted"`
	// Sealed marks a journal that will never be appended to again.
	Sealed bool `json:"sealed"`
}

// Options configures a Registry.
type Options struct {
	// SyncWrites forces a WAL fsync on each manifest update. Manifest writes
	// are rare (journal open and seal), so the cost is negligible.
	SyncWrites bool
	Logger     log.Logger
}

// Registry is the Pebble-backed journal manifest.
type Registry struct {
	db   *pebble.DB
	sync bool
	log  log.Logger
}

// Open creates or opens the manifest database under dir.
func Open(dir string, opts Options) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry: data dir is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", dir, err)
	}
	return &Registry{db: db, sync: opts.SyncWrites, log: logger.WithComponent("registry")}, nil
}

// Close closes the manifest database.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Registry) writeOpts() *pebble.WriteOptions {
	if r.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Register records a journal file. Called when the repository opens a new
// journal for writing, before the first record lands in it.
func (r *Registry) Register(info JournalInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registry: encode entry: %w", err)
	}
	if err := r.db.Set(journalKey(info.FirstEventID), val, r.writeOpts()); err != nil {
		return fmt.Errorf("registry: register %s: %w", info.Path, err)
	}
	r.log.Debug("journal registered",
		log.Str("path", info.Path),
		log.Uint64("firstEventId", info.FirstEventID))
	return nil
}

// Seal marks the journal starting at firstEventID as complete, fixing its
// final event id and block count. Sealing an unknown journal is ErrNotFound.
func (r *Registry) Seal(firstEventID, lastEventID uint64, blockCount int) error {
	info, err := r.Get(firstEventID)
	if err != nil {
		return err
	}
	info.LastEventID = lastEventID
	info.BlockCount = blockCount
	info.Sealed = true
	val, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registry: encode entry: %w", err)
	}
	if err := r.db.Set(journalKey(firstEventID), val, r.writeOpts()); err != nil {
		return fmt.Errorf("registry: seal %s: %w", info.Path, err)
	}
	r.log.Debug("journal sealed",
		log.Str("path", info.Path),
		log.Uint64("lastEventId", lastEventID),
		log.Int("blocks", blockCount))
	return nil
}

// Get returns the manifest entry keyed by firstEventID.
func (r *Registry) Get(firstEventID uint64) (JournalInfo, error) {
	val, closer, err := r.db.Get(journalKey(firstEventID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return JournalInfo{}, fmt.Errorf("%w: first id %d", ErrNotFound, firstEventID)
		}
		return JournalInfo{}, fmt.Errorf("registry: get: %w", err)
	}
	defer closer.Close()
	var info JournalInfo
	if err := json.Unmarshal(val, &info); err != nil {
		return JournalInfo{}, fmt.Errorf("registry: decode entry: %w", err)
	}
	return info, nil
}

// Remove deletes the manifest entry for a journal, after expiry or archive.
func (r *Registry) Remove(firstEventID uint64) error {
	if err := r.db.Delete(journalKey(firstEventID), r.writeOpts()); err != nil {
		return fmt.Errorf("registry: remove: %w", err)
	}
	return nil
}

// List returns every manifest entry in event id order.
func (r *Registry) List() ([]JournalInfo, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: journalPrefix,
		UpperBound: journalPrefixEnd(),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: iterator: %w", err)
	}
	defer iter.Close()

	var out []JournalInfo
	for iter.First(); iter.Valid(); iter.Next() {
		var info JournalInfo
		if err := json.Unmarshal(iter.Value(), &info); err != nil {
			return nil, fmt.Errorf("registry: decode entry: %w", err)
		}
		out = append(out, info)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("registry: scan: %w", err)
	}
	return out, nil
}

// Latest returns the most recent journal entry, sealed or not. ErrNotFound
// when the manifest is empty.
func (r *Registry) Latest() (JournalInfo, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: journalPrefix,
		UpperBound: journalPrefixEnd(),
	})
	if err != nil {
		return JournalInfo{}, fmt.Errorf("registry: iterator: %w", err)
	}
	defer iter.Close()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return JournalInfo{}, fmt.Errorf("registry: scan: %w", err)
		}
		return JournalInfo{}, ErrNotFound
	}
	var info JournalInfo
	if err := json.Unmarshal(iter.Value(), &info); err != nil {
		return JournalInfo{}, fmt.Errorf("registry: decode entry: %w", err)
	}
	return info, nil
}

// Locate returns the one journal that can contain eventID: the last journal
// whose first id is at or before it. A sealed journal whose range ends
// before eventID means the id was never written (or sits past the sealed
// tail), which is ErrNotFound. The active journal is returned optimistically
// since its upper bound is unknown here.
func (r *Registry) Locate(eventID uint64) (JournalInfo, error) {
	iter, err := r.db.NewIter(&pebble.IterOptions{
		LowerBound: journalPrefix,
		UpperBound: journalPrefixEnd(),
	})
	if err != nil {
		return JournalInfo{}, fmt.Errorf("registry: iterator: %w", err)
	}
	defer iter.Close()

	if eventID == math.MaxUint64 {
		iter.Last()
	} else {
		iter.SeekLT(journalKey(eventID + 1))
	}
	if !iter.Valid() {
		if err := iter.Error(); err != nil {
			return JournalInfo{}, fmt.Errorf("registry: scan: %w", err)
		}
		return JournalInfo{}, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	var info JournalInfo
	if err := json.Unmarshal(iter.Value(), &info); err != nil {
		return JournalInfo{}, fmt.Errorf("registry: decode entry: %w", err)
	}
	if info.Sealed && eventID > info.LastEventID {
		return JournalInfo{}, fmt.Errorf("%w: event %d", ErrNotFound, eventID)
	}
	return info, nil
}
