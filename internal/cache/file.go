package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phuslu/log"
)

// DefaultFileMaxAge is the freshness window for persisted entries.
const DefaultFileMaxAge = 24 * time.Hour

// naive ISO-8601 timestamps (no zone) are read as local time
const naiveTimestamp = "2006-01-02T15:04:05.999999999"

// envelope is the on-disk payload of one cache file.
type envelope struct {
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// FileStore persists one JSON file per key under Dir.
type FileStore struct {
	Dir string

	// Now is the clock used for timestamps and freshness checks.
	Now func() time.Time

	locks sync.Map // key hash -> *sync.Mutex
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "init", Key: dir, Err: err}
	}
	return &FileStore{Dir: dir, Now: time.Now}, nil
}

func (f *FileStore) Name() string { return "file" }

func (f *FileStore) path(key Key) string {
	return filepath.Join(f.Dir, key.Hash()+".json")
}

func (f *FileStore) lock(key Key) *sync.Mutex {
	mu, _ := f.locks.LoadOrStore(key.Hash(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Get reads the file for key. A missing, malformed or stale file is a miss.
// Other read failures are logged and also treated as a miss.
func (f *FileStore) Get(key Key, maxAge time.Duration) ([]byte, bool) {
	raw, err := os.ReadFile(f.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(&IOError{Op: "read", Key: key.String(), Err: err}).Msg("cache read failed, treating as miss")
		}
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Str("key", key.String()).Err(err).Msg("malformed cache file, treating as miss")
		return nil, false
	}
	ts, err := parseTimestamp(env.Timestamp)
	if err != nil {
		log.Warn().Str("key", key.String()).Err(err).Msg("bad cache timestamp, treating as miss")
		return nil, false
	}
	if f.Now().Sub(ts) >= maxAge {
		return nil, false
	}
	if len(env.Data) == 0 {
		return nil, false
	}
	return env.Data, true
}

// Set replaces the file for key. The payload is written to a temporary file
// in the same directory and renamed into place, so readers never observe a
// partial write. Writers to the same key are serialized.
func (f *FileStore) Set(key Key, data []byte) error {
	if !json.Valid(data) {
		return &IOError{Op: "write", Key: key.String(), Err: errors.New("value is not valid JSON")}
	}
	payload, err := json.Marshal(envelope{
		Timestamp: f.Now().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return &IOError{Op: "write", Key: key.String(), Err: err}
	}

	mu := f.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := writeAtomic(f.Dir, f.path(key), payload); err != nil {
		return &IOError{Op: "write", Key: key.String(), Err: err}
	}
	return nil
}

// Clear removes the file for key. A missing file is not an error.
func (f *FileStore) Clear(key Key) error {
	mu := f.lock(key)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "clear", Key: key.String(), Err: err}
	}
	return nil
}

// ClearAll removes every cache file under Dir.
func (f *FileStore) ClearAll() error {
	matches, err := filepath.Glob(filepath.Join(f.Dir, "*.json"))
	if err != nil {
		return &IOError{Op: "clear", Key: "*", Err: err}
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return &IOError{Op: "clear", Key: filepath.Base(m), Err: err}
		}
	}
	log.Info().Str("dir", f.Dir).Int("files", len(matches)).Msg("file cache cleared")
	return nil
}

func writeAtomic(dir, path string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(naiveTimestamp, s, time.Local)
}
