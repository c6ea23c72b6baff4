package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LogEntry represents a logging entry for a given peer session.
// The entry is updated every time a payload is received or sent.
type LogEntry struct {
	RecvBytes uint64 `json:"recv"` // Total received bytes.
	SentBytes uint64 `json:"sent"` // Total sent bytes.
}

// AddRecv records read.
func (le *LogEntry) AddRecv(n uint64) {
	atomic.AddUint64(&le.RecvBytes, n)
}

// AddSent records write.
func (le *LogEntry) AddSent(n uint64) {
	atomic.AddUint64(&le.SentBytes, n)
}

// Snapshot returns a consistent copy of le.
func (le *LogEntry) Snapshot() LogEntry {
	return LogEntry{
		RecvBytes: atomic.LoadUint64(&le.RecvBytes),
		SentBytes: atomic.LoadUint64(&le.SentBytes),
	}
}

// LogStore stores session log entries.
type LogStore interface {
	Entry(id uuid.UUID) (*LogEntry, error)
	Record(id uuid.UUID, entry *LogEntry) error
}

type inMemoryLogStore struct {
	entries map[uuid.UUID]*LogEntry
	mu      sync.Mutex
}

// InMemoryLogStore implements in-memory LogStore.
func InMemoryLogStore() LogStore {
	return &inMemoryLogStore{
		entries: map[uuid.UUID]*LogEntry{},
	}
}

func (ls *inMemoryLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	ls.mu.Lock()
	entry, ok := ls.entries[id]
	ls.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("no log entry for session %s", id)
	}
	return entry, nil
}

func (ls *inMemoryLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	snap := entry.Snapshot()

	ls.mu.Lock()
	ls.entries[id] = &snap
	ls.mu.Unlock()
	return nil
}

type fileLogStore struct {
	dir string
}

// FileLogStore implements file LogStore. Every session is stored as
// <dir>/<id>.log.
func FileLogStore(dir string) (LogStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "create log dir")
	}
	return &fileLogStore{dir}, nil
}

func (ls *fileLogStore) path(id uuid.UUID) string {
	return filepath.Join(ls.dir, fmt.Sprintf("%s.log", id))
}

func (ls *fileLogStore) Entry(id uuid.UUID) (*LogEntry, error) {
	f, err := os.Open(ls.path(id))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close() //nolint:errcheck

	entry := &LogEntry{}
	if err := json.NewDecoder(f).Decode(entry); err != nil {
		return nil, errors.Wrap(err, "json")
	}
	return entry, nil
}

func (ls *fileLogStore) Record(id uuid.UUID, entry *LogEntry) error {
	f, err := os.OpenFile(ls.path(id), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "open")
	}

	snap := entry.Snapshot()
	if err := json.NewEncoder(f).Encode(&snap); err != nil {
		f.Close() //nolint:errcheck
		return errors.Wrap(err, "json")
	}
	return f.Close()
}
