// Package weights holds the process-wide target weight table shared between
// the weight producers and every account reconciliation pass.
package weights

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// Entry pairs the last observed mark price with the externally desired raw
// weight for one instrument. Raw weights are un-normalised; callers divide by
// the table length to obtain the effective target.
type Entry struct {
	MarkPrice float64
	RawWeight float64
}

// Table is an internally synchronised map from instrument to Entry. Multiple
// producers and consumers read and write concurrently; last writer wins and
// readers may observe entries from different producer generations within one
// Range pass.
type Table struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable constructs an empty weight table.
func NewTable() *Table {
	t := new(Table)
	for i := range t.shards {
		t.shards[i].entries = make(map[string]Entry)
	}
	return t
}

func (t *Table) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return &t.shards[h.Sum32()%shardCount]
}

// Get returns the entry stored for the symbol.
func (t *Table) Get(symbol string) (Entry, bool) {
	s := t.shardFor(symbol)
	s.mu.RLock()
	entry, ok := s.entries[symbol]
	s.mu.RUnlock()
	return entry, ok
}

// Insert stores the entry for the symbol, replacing any previous value.
func (t *Table) Insert(symbol string, entry Entry) {
	s := t.shardFor(symbol)
	s.mu.Lock()
	s.entries[symbol] = entry
	s.mu.Unlock()
}

// Delete removes the symbol from the table.
func (t *Table) Delete(symbol string) {
	s := t.shardFor(symbol)
	s.mu.Lock()
	delete(s.entries, symbol)
	s.mu.Unlock()
}

// Len reports the number of entries across all shards.
func (t *Table) Len() int {
	total := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		total += len(s.entries)
		s.mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry until fn returns false. Each shard is
// snapshotted under its read lock before fn runs, so fn may call back into
// the table without deadlocking.
func (t *Table) Range(fn func(symbol string, entry Entry) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		snapshot := make(map[string]Entry, len(s.entries))
		for sym, entry := range s.entries {
			snapshot[sym] = entry
		}
		s.mu.RUnlock()
		for sym, entry := range snapshot {
			if !fn(sym, entry) {
				return
			}
		}
	}
}
