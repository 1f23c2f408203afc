package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Request memoizes fetches and derived values for the lifetime of one
// top-level call. It must not be shared between unrelated calls: a Request
// is created by the caller, passed by pointer through the call graph and
// dropped when the call returns. There is no eviction and no TTL.
type Request struct {
	ID uuid.UUID

	mu      sync.Mutex
	entries map[string]*entry

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	done  chan struct{}
	value interface{}
	err   error
}

func New() *Request {
	return &Request{
		ID:      uuid.New(),
		entries: make(map[string]*entry),
	}
}

// GetOrCompute returns the value stored under key, invoking fn at most once
// per key for this Request. Concurrent callers asking for a key that is
// still being computed block until the first caller finishes and then
// observe the same value and error. Errors are memoized too, except context
// cancellation: that entry is dropped and a waiting caller computes the key
// again with its own fn.
func GetOrCompute[T any](rc *Request, key string, fn func() (T, error)) (T, error) {
	for {
		rc.mu.Lock()
		if e, ok := rc.entries[key]; ok {
			rc.mu.Unlock()
			rc.hits.Add(1)
			<-e.done
			if canceled(e.err) {
				continue
			}
			return typed[T](key, e)
		}

		e := &entry{done: make(chan struct{})}
		rc.entries[key] = e
		rc.mu.Unlock()
		rc.misses.Add(1)

		func() {
			defer func() {
				if r := recover(); r != nil {
					e.err = fmt.Errorf("compute %s: panic: %v", key, r)
				}
			}()
			e.value, e.err = fn()
		}()

		// drop before waking waiters so they find the key absent
		if canceled(e.err) {
			rc.mu.Lock()
			if rc.entries[key] == e {
				delete(rc.entries, key)
			}
			rc.mu.Unlock()
		}
		close(e.done)

		return typed[T](key, e)
	}
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func typed[T any](key string, e *entry) (T, error) {
	var zero T
	if e.err != nil {
		return zero, e.err
	}
	if e.value == nil {
		return zero, nil
	}
	v, ok := e.value.(T)
	if !ok {
		return zero, fmt.Errorf("cache key %s holds %T", key, e.value)
	}
	return v, nil
}

// Key joins parts into a cache key: Key("positions", 42161, acct).
func Key(parts ...interface{}) string {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = fmt.Sprintf("%v", p)
	}
	return strings.Join(strs, ":")
}

func (rc *Request) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

func (rc *Request) Hits() int64   { return rc.hits.Load() }
func (rc *Request) Misses() int64 { return rc.misses.Load() }
