// Package dirent implements the directory-entry cache: a fixed-size pool of
// handles arranged in an LRU ring behind a sentinel root, each guarded by its
// own sleep lock, plus the FAT32 directory decoder that fills those handles
// from on-disk long- and short-name records. Grounded in original_source's
// eget/edup/eput/elock/eunlock/ealloc/eupdate/etrunc and lookup_dir, adapted
// to Go with indices replaced by real pointers into a fixed arena: an arena
// of individually-allocated *Entry never moves even though the backing
// []*Entry header can reallocate on append, which this package avoids by
// allocating the whole pool upfront.
package dirent

import (
	"sync"
	"sync/atomic"
)

// Attribute bits, per the FAT32 on-disk directory entry format.
const (
	AttrReadOnly  uint8 = 0x01
	AttrHidden    uint8 = 0x02
	AttrSystem    uint8 = 0x04
	AttrVolumeID  uint8 = 0x08
	AttrDirectory uint8 = 0x10
	AttrArchive   uint8 = 0x20
	AttrLongName  uint8 = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

// sleepLock is a blocking lock that tracks whether it is currently held, so
// misuse (double-unlock, unlock-without-lock) panics instead of corrupting
// state. It does not record which goroutine holds it: an unlock from a
// goroutine other than the holder is not detected. It stands in for the
// reference kernel's struct sleeplock.
type sleepLock struct {
	mu    sync.Mutex
	held  atomic.Bool
}

func (s *sleepLock) Lock() {
	s.mu.Lock()
	s.held.Store(true)
}

func (s *sleepLock) Unlock() {
	if !s.held.Load() {
		panic("dirent: releasing a sleep lock that isn't held")
	}
	s.held.Store(false)
	s.mu.Unlock()
}

func (s *sleepLock) Holding() bool {
	return s.held.Load()
}

// Entry is one directory-entry handle: identity fields that form the cache
// keyspace, the on-disk payload mirrored in memory, and the cache-internal
// bookkeeping that makes it a node in the LRU ring.
type Entry struct {
	// Identity (set once, at eget/ealloc/decode time; part of the cache
	// keyspace).
	Device        uint
	ParentCluster uint32
	Filename      string
	Offset        uint32

	// On-disk payload, mirrored in memory. Mutation after publication is
	// only safe under lock (see cache.go).
	Attribute    uint8
	FirstCluster uint32
	FileSize     uint

	// Cache bookkeeping, guarded by the cache's spinlock (sync.Mutex) except
	// where noted.
	refCount int
	valid    bool
	lock     sleepLock
	prev     *Entry
	next     *Entry
}

// IsDir reports whether the entry's attribute marks it a directory.
func (e *Entry) IsDir() bool {
	return e.Attribute&AttrDirectory != 0
}

// RefCount exposes the current reference count for diagnostics and tests.
// Mutation is only ever done by the cache; this is read-only.
func (e *Entry) RefCount() int {
	return e.refCount
}

// Valid reports whether the entry currently holds a loaded on-disk record.
func (e *Entry) Valid() bool {
	return e.valid
}
