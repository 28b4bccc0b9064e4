package cache

import (
	"fmt"
	"time"
)

// Store holds encoded values with their insertion time. Freshness is decided
// on read against the caller's maxAge; stale entries read as absent and are
// left in place until overwritten.
type Store interface {
	Get(key Key, maxAge time.Duration) ([]byte, bool)
	Set(key Key, data []byte) error
	Clear(key Key) error
	ClearAll() error
	Name() string
}

// IOError reports a persisted cache read or write failure.
type IOError struct {
	Op  string
	Key string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
