package core

import (
	"container/list"
	"context"
	"sync"
)

// HistoryIndex reports which idempotency keys are already in history.
// *persistence.HistoryWriter implements it.
type HistoryIndex interface {
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
}

// SeenSet implements two-tier deduplication for synced trading events.
// Tier 1 is an in-memory LRU, tier 2 is the history table.
type SeenSet struct {
	mu  sync.Mutex
	lru *seenLRU

	index HistoryIndex

	lruHits   int64
	indexHits int64
	indexErrs int64
}

// NewSeenSet returns a set holding at most capacity keys in memory. index
// may be nil, in which case only the LRU is consulted.
func NewSeenSet(capacity int, index HistoryIndex) *SeenSet {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &SeenSet{lru: newSeenLRU(capacity), index: index}
}

// Unseen returns the keys not yet processed, in input order. When the
// history lookup fails every LRU miss is reported unseen; history writes
// are keyed, so a replay only costs a no-op insert.
func (s *SeenSet) Unseen(ctx context.Context, keys []string) ([]string, error) {
	s.mu.Lock()
	var misses []string
	for _, k := range keys {
		if s.lru.contains(k) {
			s.lruHits++
			continue
		}
		misses = append(misses, k)
	}
	s.mu.Unlock()

	if len(misses) == 0 || s.index == nil {
		return misses, nil
	}

	stored, err := s.index.Existing(ctx, misses)
	if err != nil {
		s.mu.Lock()
		s.indexErrs++
		s.mu.Unlock()
		return misses, err
	}

	out := misses[:0]
	s.mu.Lock()
	for _, k := range misses {
		if stored[k] {
			s.indexHits++
			s.lru.add(k)
			continue
		}
		out = append(out, k)
	}
	s.mu.Unlock()
	return out, nil
}

// MarkProcessed records keys after they were handed to the history worker.
func (s *SeenSet) MarkProcessed(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.lru.add(k)
	}
}

// SeenStats is a snapshot of dedup counters.
type SeenStats struct {
	Size      int   `json:"size"`
	Evictions int64 `json:"evictions"`
	LRUHits   int64 `json:"lru_hits"`
	IndexHits int64 `json:"index_hits"`
	IndexErrs int64 `json:"index_errors"`
}

func (s *SeenSet) Stats() SeenStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SeenStats{
		Size:      s.lru.list.Len(),
		Evictions: s.lru.evictions,
		LRUHits:   s.lruHits,
		IndexHits: s.indexHits,
		IndexErrs: s.indexErrs,
	}
}

// seenLRU is not safe for concurrent use; SeenSet guards it.
type seenLRU struct {
	capacity  int
	entries   map[string]*list.Element
	list      *list.List
	evictions int64
}

func newSeenLRU(capacity int) *seenLRU {
	return &seenLRU{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		list:     list.New(),
	}
}

func (l *seenLRU) contains(key string) bool {
	elem, ok := l.entries[key]
	if ok {
		l.list.MoveToFront(elem)
	}
	return ok
}

func (l *seenLRU) add(key string) {
	if elem, ok := l.entries[key]; ok {
		l.list.MoveToFront(elem)
		return
	}
	l.entries[key] = l.list.PushFront(key)
	if l.list.Len() > l.capacity {
		oldest := l.list.Back()
		l.list.Remove(oldest)
		delete(l.entries, oldest.Value.(string))
		l.evictions++
	}
}
