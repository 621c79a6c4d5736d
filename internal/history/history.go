// Package history keeps a LevelDB record of past requests and how they ended.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB key prefix scheme, "|" separated:
//
//	h|<unix-nano, 20 digits>|<id>  → Entry JSON   (primary record, time ordered)
//	i|<id>                         → primary key  (lookup by request id)
const (
	prefixEntry = "h|"
	prefixID    = "i|"
)

// DefaultRecent is the number of entries the :history command shows.
const DefaultRecent = 10

// DefaultKeep is how many entries survive the prune done at startup.
const DefaultKeep = 500

// Entry is one completed request.
type Entry struct {
	ID          string    `json:"id"`
	Time        time.Time `json:"time"`
	Request     string    `json:"request"`
	Service     string    `json:"service,omitempty"`
	Model       string    `json:"model,omitempty"`
	Commands    []string  `json:"commands,omitempty"`
	Risk        string    `json:"risk,omitempty"`
	Status      string    `json:"status"`
	FailedIndex int       `json:"failed_index"`
	Error       string    `json:"error,omitempty"`

	ElapsedMs        int64 `json:"elapsed_ms,omitempty"`
	LLMCalls         int   `json:"llm_calls,omitempty"`
	LLMElapsedMs     int64 `json:"llm_elapsed_ms,omitempty"`
	CommandCount     int   `json:"command_count,omitempty"`
	CommandElapsedMs int64 `json:"command_elapsed_ms,omitempty"`
}

// Store is the LevelDB-backed history. A nil *Store is valid and records
// nothing, so callers can run with history disabled.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the history database at path.
// LevelDB is single-writer: a second sconny process fails here and should
// carry on without history.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open history at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append persists e. A missing ID or Time is filled in.
//
// Expectations:
//   - Assigns a uuid when e.ID is empty
//   - Assigns time.Now() when e.Time is zero
//   - Writes the record and its id index in one batch
//   - No-op on a nil Store
func (s *Store) Append(e Entry) error {
	if s == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[HIST] marshal entry failed", "id", e.ID, "error", err)
		return err
	}
	key := entryKey(e.Time, e.ID)
	batch := new(leveldb.Batch)
	batch.Put([]byte(key), data)
	batch.Put([]byte(prefixID+e.ID), []byte(key))
	if err := s.db.Write(batch, nil); err != nil {
		slog.Error("[HIST] persist entry failed", "id", e.ID, "error", err)
		return err
	}
	slog.Debug("[HIST] appended", "id", e.ID, "status", e.Status)
	return nil
}

// Recent returns up to n entries, newest first.
//
// Expectations:
//   - n <= 0 returns nil
//   - Entries come back in reverse chronological order
//   - Corrupt records are skipped with a warning
func (s *Store) Recent(n int) ([]Entry, error) {
	if s == nil || n <= 0 {
		return nil, nil
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEntry)), nil)
	defer iter.Release()

	var out []Entry
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			slog.Warn("[HIST] skipping corrupt entry", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// Get returns the entry recorded under id.
func (s *Store) Get(id string) (Entry, error) {
	var e Entry
	if s == nil {
		return e, leveldb.ErrNotFound
	}
	key, err := s.db.Get([]byte(prefixID+id), nil)
	if err != nil {
		return e, err
	}
	data, err := s.db.Get(key, nil)
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	if s == nil {
		return 0
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEntry)), nil)
	defer iter.Release()
	n := 0
	for iter.Next() {
		n++
	}
	return n
}

// Prune deletes all but the newest keep entries and returns how many were
// removed.
func (s *Store) Prune(keep int) (int, error) {
	if s == nil {
		return 0, nil
	}
	if keep < 0 {
		keep = 0
	}
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixEntry)), nil)
	batch := new(leveldb.Batch)
	seen, removed := 0, 0
	for ok := iter.Last(); ok; ok = iter.Prev() {
		seen++
		if seen <= keep {
			continue
		}
		key := string(iter.Key())
		batch.Delete([]byte(key))
		if id := idFromKey(key); id != "" {
			batch.Delete([]byte(prefixID + id))
		}
		removed++
	}
	err := iter.Error()
	iter.Release()
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.db.Write(batch, nil); err != nil {
		slog.Error("[HIST] prune failed", "error", err)
		return 0, err
	}
	slog.Info("[HIST] pruned", "removed", removed, "kept", keep)
	return removed, nil
}

// entryKey zero-pads the timestamp so byte order matches time order.
func entryKey(t time.Time, id string) string {
	return fmt.Sprintf("%s%020d|%s", prefixEntry, t.UnixNano(), id)
}

func idFromKey(key string) string {
	rest := strings.TrimPrefix(key, prefixEntry)
	if i := strings.IndexByte(rest, '|'); i >= 0 {
		return rest[i+1:]
	}
	return ""
}
