// Package keyspace implements the top-level data model: a
// progressively-rehashed hash table of Entry records (string or sorted
// set), each optionally scheduled on the expiration heap and each
// protected by Store's own mutex, so every caller — the reactor's
// per-connection goroutines and the admin HTTP surface alike — shares one
// single-writer view of the keyspace.
//
// Store composes internal/hashmap (the keyspace table itself),
// internal/zset (a sorted set per ZSET entry), and internal/expireheap
// (TTLs) into one struct: every mutating method takes the struct's lock
// before touching any of them.
package keyspace

import (
	"errors"
	"sync"

	"github.com/photondb/photondb/internal/expireheap"
	"github.com/photondb/photondb/internal/fnvhash"
	"github.com/photondb/photondb/internal/hashmap"
	"github.com/photondb/photondb/internal/zset"
)

// Kind discriminates an Entry's payload type.
type Kind int

const (
	KindString Kind = iota
	KindZSet
)

// ErrWrongType is returned when a command addresses a key that exists
// with an incompatible Kind. It maps to wire error code BAD_TYPE.
var ErrWrongType = errors.New("keyspace: key exists with a different type")

// ZSetDestructionThreshold is the member count above which deleting a
// ZSET entry is shipped to the background pool instead of freed inline.
const ZSetDestructionThreshold = 1000

// Entry is one keyspace record. It satisfies both hashmap.Entry
// (HashCode, for the keyspace table) and expireheap.Item
// (HeapIndex/SetHeapIndex, for the TTL heap).
type Entry struct {
	key   string
	hcode uint64
	kind  Kind

	str  string
	zset *zset.Set

	heapIdx    int
	deadlineMs int64
}

// HashCode satisfies hashmap.Entry.
func (e *Entry) HashCode() uint64 { return e.hcode }

// HeapIndex satisfies expireheap.Item.
func (e *Entry) HeapIndex() int { return e.heapIdx }

// SetHeapIndex satisfies expireheap.Item.
func (e *Entry) SetHeapIndex(i int) { e.heapIdx = i }

// Key returns the entry's keyspace key.
func (e *Entry) Key() string { return e.key }

// Kind returns the entry's payload discriminant.
func (e *Entry) Kind() Kind { return e.kind }

// Str returns the STRING payload. Only valid when Kind() == KindString.
func (e *Entry) Str() string { return e.str }

// ZSet returns the ZSET payload. Only valid when Kind() == KindZSet.
func (e *Entry) ZSet() *zset.Set { return e.zset }

func eqKey(key string) func(*Entry) bool {
	return func(e *Entry) bool { return e.key == key }
}

func newEntry(key string, kind Kind) *Entry {
	return &Entry{
		key:     key,
		hcode:   fnvhash.Sum32Widened(key),
		kind:    kind,
		heapIdx: expireheap.UnsetIndex,
	}
}

// Store is the global keyspace: a hash table of Entry plus a TTL heap,
// guarded by a single mutex. Every exported method takes that mutex
// itself, so both the reactor and the admin HTTP surface can call into
// the same Store from their own goroutines without a separate lock.
type Store struct {
	mu    sync.Mutex
	table *hashmap.Table[*Entry]
	heap  *expireheap.Heap[*Entry]

	destroy func(func())
}

// New returns an empty store. destroyAsync, if non-nil, is used to
// offload destruction of sorted sets over ZSetDestructionThreshold
// members (normally internal/pool's Pool.Submit); if nil, destruction
// always runs inline.
func New(destroyAsync func(func())) *Store {
	if destroyAsync == nil {
		destroyAsync = func(f func()) { f() }
	}
	return &Store{
		table:   hashmap.New[*Entry](),
		heap:    expireheap.New[*Entry](),
		destroy: destroyAsync,
	}
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Size()
}

// HashStats reports the keyspace table's migration progress, for the
// admin /stats endpoint. It never exposes the table itself, since that
// would let a caller mutate chains without holding Store's lock.
func (s *Store) HashStats() (newerSize, newerCap, olderSize, olderCap, migratePos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Stats()
}

// lookup finds the raw entry for key, or nil.
func (s *Store) lookup(key string) *Entry {
	e, ok := s.table.Lookup(fnvhash.Sum32Widened(key), eqKey(key))
	if !ok {
		return nil
	}
	return e
}

// GetString implements GET: returns the string value, whether the key
// exists, and whether it exists with the wrong type.
func (s *Store) GetString(key string) (val string, ok bool, wrongType bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return "", false, false
	}
	if e.kind != KindString {
		return "", false, true
	}
	return e.str, true, false
}

// SetString implements SET: creates or overwrites a STRING entry. Returns
// ErrWrongType if key exists with a non-STRING kind.
func (s *Store) SetString(key, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.lookup(key); e != nil {
		if e.kind != KindString {
			return ErrWrongType
		}
		e.str = val
		return nil
	}
	e := newEntry(key, KindString)
	e.str = val
	s.table.Insert(e)
	return nil
}

// Delete implements DEL: removes any entry for key regardless of type.
// Returns true if a key was removed. Large ZSET destruction is shipped to
// the background pool.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.table.Delete(fnvhash.Sum32Widened(key), eqKey(key))
	if !ok {
		return false
	}
	s.detach(e)
	return true
}

// detach removes e from the heap (if scheduled) and arranges for its
// payload to be freed, offloading large ZSETs.
func (s *Store) detach(e *Entry) {
	if e.heapIdx != expireheap.UnsetIndex {
		s.heap.Remove(e)
	}
	if e.kind == KindZSet && e.zset != nil {
		zs := e.zset
		if zs.Len() > ZSetDestructionThreshold {
			s.destroy(func() { zs.Clear() })
		} else {
			zs.Clear()
		}
	}
}

// Keys implements KEYS: every key currently in the store, unspecified
// order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, s.table.Size())
	s.table.ForEach(func(e *Entry) bool {
		keys = append(keys, e.key)
		return true
	})
	return keys
}

// zsetEntry finds or creates the ZSET entry for key. Returns ErrWrongType
// if key exists with a non-ZSET kind.
func (s *Store) zsetEntry(key string, create bool) (*Entry, error) {
	if e := s.lookup(key); e != nil {
		if e.kind != KindZSet {
			return nil, ErrWrongType
		}
		return e, nil
	}
	if !create {
		return nil, nil
	}
	e := newEntry(key, KindZSet)
	e.zset = zset.New()
	s.table.Insert(e)
	return e, nil
}

// ZAdd implements ZADD. Returns (isNew, err).
func (s *Store) ZAdd(key, name string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zsetEntry(key, true)
	if err != nil {
		return false, err
	}
	return e.zset.Insert(name, score), nil
}

// ZRem implements ZREM. Returns whether a member was removed.
func (s *Store) ZRem(key, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zsetEntry(key, false)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	n, ok := e.zset.Lookup(name)
	if !ok {
		return false, nil
	}
	e.zset.Delete(n)
	return true, nil
}

// ZScore implements ZSCORE. ok is false if the key or member is absent.
func (s *Store) ZScore(key, name string) (score float64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zsetEntry(key, false)
	if err != nil {
		return 0, false, err
	}
	if e == nil {
		return 0, false, nil
	}
	n, found := e.zset.Lookup(name)
	if !found {
		return 0, false, nil
	}
	return n.Score(), true, nil
}

// ZQueryResult is one (name, score) pair yielded by ZQuery.
type ZQueryResult struct {
	Name  string
	Score float64
}

// ZQuery implements ZQUERY: members >= (score, name), skipping offset,
// yielding up to limit pairs. Absent key behaves as an empty set.
func (s *Store) ZQuery(key string, score float64, name string, offset, limit int64) ([]ZQueryResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.zsetEntry(key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}

	n := e.zset.SeekGE(score, name)
	if offset != 0 {
		n = zset.Offset(n, offset)
	}

	var out []ZQueryResult
	for n != nil && int64(len(out)) < limit {
		out = append(out, ZQueryResult{Name: n.Name(), Score: n.Score()})
		n = zset.Offset(n, 1)
	}
	return out, nil
}

// PExpire implements PEXPIRE: sets (ttlMs>=0) or removes (ttlMs<0) a
// key's TTL, relative to nowMs. Returns whether the key exists.
func (s *Store) PExpire(key string, ttlMs int64, nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return false
	}
	if ttlMs < 0 {
		if e.heapIdx != expireheap.UnsetIndex {
			s.heap.Remove(e)
		}
		e.deadlineMs = 0
		return true
	}
	e.deadlineMs = nowMs + ttlMs
	s.heap.Upsert(e, e.deadlineMs)
	return true
}

// PTTL implements PTTL: remaining ms (>=0), -1 if no TTL, -2 if no key.
func (s *Store) PTTL(key string, nowMs int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookup(key)
	if e == nil {
		return -2
	}
	if e.heapIdx == expireheap.UnsetIndex {
		return -1
	}
	if e.deadlineMs < nowMs {
		// Deadline already passed but the sweeper has not expired the key yet.
		return 0
	}
	return e.deadlineMs - nowMs
}

// ExpireBudget bounds how many keys a single sweep tick may expire.
const ExpireBudget = 2000

// ExpireDue removes every entry whose deadline is <= nowMs, up to budget
// entries, returning the expired keys' names. Large ZSET destruction is
// offloaded to the pool as in Delete.
func (s *Store) ExpireDue(nowMs int64, budget int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []string
	for len(expired) < budget {
		e, deadline, ok := s.heap.Peek()
		if !ok || deadline > nowMs {
			break
		}
		s.heap.Pop()
		s.table.Delete(e.hcode, eqKey(e.key))
		s.detach(e)
		expired = append(expired, e.key)
	}
	return expired
}

// NextDeadline returns the soonest TTL deadline in ms, or ok=false if no
// key currently has a TTL.
func (s *Store) NextDeadline() (deadlineMs int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, deadline, has := s.heap.Peek()
	return deadline, has
}

// ForEach visits every entry; f may return false to stop early. f runs
// with Store's lock held, the same way hashmap.Table.ForEach holds its
// caller's place in the chain, so it must not call back into any other
// Store method. Used by the admin /debug/dump handler.
func (s *Store) ForEach(f func(*Entry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.ForEach(f)
}

func (s *Store) restoreStringLocked(key, val string) {
	e := newEntry(key, KindString)
	e.str = val
	s.table.Insert(e)
}

func (s *Store) restoreZSetLocked(key string, members []ZQueryResult) {
	e := newEntry(key, KindZSet)
	e.zset = zset.New()
	for _, m := range members {
		e.zset.Insert(m.Name, m.Score)
	}
	s.table.Insert(e)
}

// Clear empties the entire keyspace.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	s.table.ForEach(func(e *Entry) bool {
		if e.kind == KindZSet && e.zset != nil {
			e.zset.Clear()
		}
		return true
	})
	s.table.Clear()
	s.heap = expireheap.New[*Entry]()
}

// SnapshotEntry is a self-contained copy of one Entry's payload, decoupled
// from the Entry's own storage so it can be read after Snapshot's lock is
// released — it holds copied data, not a pointer into the live store.
type SnapshotEntry struct {
	Key     string
	Kind    Kind
	Str     string
	Members []ZQueryResult
}

// Snapshot copies every entry under a single lock acquisition, for
// SAVE. Unlike ForEach, the copy is taken entirely while holding the
// lock, so the result is consistent even if SetString, ZAdd, or any
// other mutation runs on another goroutine immediately afterward.
func (s *Store) Snapshot() []SnapshotEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SnapshotEntry, 0, s.table.Size())
	s.table.ForEach(func(e *Entry) bool {
		se := SnapshotEntry{Key: e.key, Kind: e.kind}
		switch e.kind {
		case KindString:
			se.Str = e.str
		case KindZSet:
			se.Members = make([]ZQueryResult, 0, e.zset.Len())
			e.zset.ForEach(func(n *zset.Node) bool {
				se.Members = append(se.Members, ZQueryResult{Name: n.Name(), Score: n.Score()})
				return true
			})
		}
		out = append(out, se)
		return true
	})
	return out
}

// Restore replaces the entire keyspace with entries under a single lock
// acquisition, for LOAD: no command dispatched from the reactor or the
// admin surface can observe a half-cleared keyspace.
func (s *Store) Restore(entries []SnapshotEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	for _, e := range entries {
		switch e.Kind {
		case KindString:
			s.restoreStringLocked(e.Key, e.Str)
		case KindZSet:
			s.restoreZSetLocked(e.Key, e.Members)
		}
	}
}
