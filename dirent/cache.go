package dirent

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
)

// Cache is the fixed-size directory-entry pool: a doubly-linked LRU ring
// headed by a never-evicted sentinel root, guarded by a single spinlock
// (mu) that protects only ref-counting, validity, and the ring links —
// never I/O. Grounded in original_source's static entry_cache/root globals,
// turned into an explicit handle so a reimplementation carries volume state
// instead of a process-wide global.
type Cache struct {
	mu sync.Mutex

	root *Entry
	pool []*Entry

	blk  *blockdev.Cache
	geom *bpb.Geometry
	tab  *clustertab.Table
	cio  *clusterio.IO
}

// New builds an entry cache of the given capacity over an already-mounted
// volume. The sentinel root is self-linked when capacity is 0 and always
// represents the volume root directory.
func New(blk *blockdev.Cache, geom *bpb.Geometry, tab *clustertab.Table, cio *clusterio.IO, capacity int) *Cache {
	root := &Entry{
		Attribute:    AttrDirectory,
		FirstCluster: geom.RootCluster,
		refCount:     1,
	}
	root.prev = root
	root.next = root

	c := &Cache{root: root, blk: blk, geom: geom, tab: tab, cio: cio}
	c.pool = make([]*Entry, capacity)
	for i := range c.pool {
		e := &Entry{}
		c.pool[i] = e
		e.next = root.next
		e.prev = root
		root.next.prev = e
		root.next = e
	}
	return c
}

// Root returns the sentinel root handle.
func (c *Cache) Root() *Entry { return c.root }

// eget finds or recycles a cache slot for (dev, parent, name). Grounded in
// original_source's eget: forward scan from MRU for a valid identity match
// (an entry invalidated by Etrunc is never matched), backward scan from LRU for a free (ref==0) slot. Panics if neither pass
// succeeds: the pool is simply too small for the working set.
//
// The returned slot's Filename/ParentCluster are NOT set here on a freshly
// recycled slot; the caller (directory decoder or Ealloc) populates them
// and sets valid.
func (c *Cache) eget(dev uint, parent uint32, name string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	for e := c.root.next; e != c.root; e = e.next {
		if e.valid && e.Device == dev && e.ParentCluster == parent && e.Filename == name {
			e.refCount++
			e.valid = true
			return e
		}
	}

	for e := c.root.prev; e != c.root; e = e.prev {
		if e.refCount == 0 {
			e.refCount = 1
			e.Device = dev
			e.valid = false
			return e
		}
	}

	panic("dirent: eget: insufficient ecache")
}

// Edup increments e's reference count and returns e.
func (c *Cache) Edup(e *Entry) *Entry {
	c.mu.Lock()
	e.refCount++
	c.mu.Unlock()
	return e
}

// Eput decrements e's reference count. If this was the last external
// reference to a valid, non-root entry, it's moved to the MRU side of the
// ring and its metadata is flushed via eupdate. Grounded in
// original_source's eput, including the "ref==1 implies the sleep lock
// acquisition can't block" reasoning that lets it be taken after releasing
// the cache spinlock.
func (c *Cache) Eput(e *Entry) error {
	c.mu.Lock()
	if e.valid && e.refCount == 1 {
		e.lock.Lock()
		if e != c.root {
			c.unlink(e)
			c.linkMRU(e)
		}
		c.mu.Unlock()

		var err error
		if e != c.root {
			err = c.eupdate(e)
		}

		e.lock.Unlock()
		c.mu.Lock()
		if err != nil {
			c.mu.Unlock()
			return err
		}
	}
	e.refCount--
	c.mu.Unlock()
	return nil
}

func (c *Cache) unlink(e *Entry) {
	e.next.prev = e.prev
	e.prev.next = e.next
}

func (c *Cache) linkMRU(e *Entry) {
	e.next = c.root.next
	e.prev = c.root
	c.root.next.prev = e
	c.root.next = e
}

// Elock acquires e's sleep lock. Panics if e is nil or has no references —
// a caller bug, not a runtime condition to recover from.
func (c *Cache) Elock(e *Entry) {
	if e == nil || e.refCount < 1 {
		panic("dirent: elock: nil or zero-ref entry")
	}
	e.lock.Lock()
}

// Eunlock releases e's sleep lock. Panics on misuse.
func (c *Cache) Eunlock(e *Entry) {
	if e == nil || !e.lock.Holding() || e.refCount < 1 {
		panic("dirent: eunlock: nil, not held, or zero-ref entry")
	}
	e.lock.Unlock()
}

// Ealloc allocates a new on-disk directory record named name inside dir and
// returns the cache handle for it. Caller must hold dir's sleep lock.
//
// The parent key is dir.FirstCluster (Go has no separate "parent" field
// distinct from ParentCluster). Files get attribute ARCHIVE, never the
// bogus ATTR_LONG_NAME. A real on-disk LFN+SFN run
// is written, and entry.Offset is assigned to the first LFN record's byte
// offset. Directories are given a first cluster immediately, since a
// directory needs somewhere to hold its own entries.
func (c *Cache) Ealloc(dir *Entry, name string, isDir bool) (*Entry, error) {
	if !dir.IsDir() {
		return nil, nil
	}

	ep := c.eget(dir.Device, dir.FirstCluster, name)
	if ep.valid {
		panic("dirent: ealloc on an already-valid slot")
	}
	c.Elock(ep)
	defer c.Eunlock(ep)

	wide := wideName(name)
	entcnt := entCount(len(wide))
	chunks := buildLFNChunks(wide, entcnt)

	attr := uint8(0)
	var firstClus uint32
	if isDir {
		attr = AttrDirectory
		firstClus = c.tab.AllocCluster()
	} else {
		attr = AttrArchive
	}

	runStart, err := c.findFreeRun(dir, entcnt+1)
	if err != nil {
		return nil, err
	}

	off := runStart
	for i := 0; i < entcnt; i++ {
		count := entcnt - i
		ordinal := uint8(count)
		if i == 0 {
			ordinal |= lastLongEntryBit
		}
		raw := encodeLFNRecord(ordinal, chunks[count-1])
		if _, err := writeAt(c.geom, c.tab, c.cio, dir.FirstCluster, off, raw[:]); err != nil {
			return nil, err
		}
		off += dirRecordSize
	}

	sfn := encodeSFNRecord(shortNameField(name, off), attr, firstClus, 0)
	if _, err := writeAt(c.geom, c.tab, c.cio, dir.FirstCluster, off, sfn[:]); err != nil {
		return nil, err
	}

	ep.Device = dir.Device
	ep.ParentCluster = dir.FirstCluster
	ep.Filename = name
	ep.Offset = uint32(runStart)
	ep.Attribute = attr
	ep.FirstCluster = firstClus
	ep.FileSize = 0
	ep.valid = true

	return ep, nil
}

// findFreeRun scans dir's directory data for need consecutive free slots
// (deleted, 0xE5, or beyond the end-of-directory marker), extending the
// chain with freshly-allocated, zeroed clusters if the existing chain runs
// out before a long-enough run is found. Returns the byte offset within the
// directory file where the run begins.
func (c *Cache) findFreeRun(dir *Entry, need int) (uint, error) {
	bpc := c.geom.BytesPerCluster
	bps := c.geom.BytesPerSector

	cluster := dir.FirstCluster
	clusCnt := uint(0)
	coff := uint(0)
	runLen := 0
	runStart := uint(0)

	var curBuf *blockdev.Buf
	curSec := ^uint32(0)
	release := func() {
		if curBuf != nil {
			curBuf.Brelse()
			curBuf = nil
		}
	}
	defer release()

	for {
		if coff >= bpc {
			next, err := c.tab.ReadFAT(cluster)
			if err != nil {
				return 0, err
			}
			if next == 0 || bpb.IsEndOfChain(next) {
				nc := c.tab.AllocCluster()
				if err := c.tab.WriteFAT(cluster, nc); err != nil {
					return 0, err
				}
				next = nc
			}
			cluster = next
			coff = 0
			clusCnt++
			continue
		}

		sec := c.geom.FirstSectorOfCluster(cluster) + uint32(coff/bps)
		if sec != curSec {
			release()
			buf, err := c.blk.Bread(0, sec)
			if err != nil {
				return 0, err
			}
			curBuf = buf
			curSec = sec
		}

		first := curBuf.Data[coff%bps]
		logical := clusCnt*bpc + coff

		if first == emptyEntryByte || first == endOfEntryByte {
			if runLen == 0 {
				runStart = logical
			}
			runLen++
			if runLen == need {
				return runStart, nil
			}
		} else {
			runLen = 0
		}

		coff += dirRecordSize
	}
}

// lookupDir walks dir's cluster chain sector by sector, slot by slot,
// matching an LFN chain
// (falling back to SFN comparison for entries with no LFN, e.g. "." and
// "..", which this driver never creates but may still encounter on an
// externally-formatted volume).
func (c *Cache) lookupDir(dir *Entry, name string) (*Entry, error) {
	if !dir.IsDir() {
		return nil, nil
	}

	de := c.eget(dir.Device, dir.FirstCluster, name)
	if de.valid {
		return de, nil
	}

	wide := wideName(name)
	entcnt := entCount(len(wide))
	chunks := buildLFNChunks(wide, entcnt)

	bpc := c.geom.BytesPerCluster
	bps := c.geom.BytesPerSector

	cluster := dir.FirstCluster
	clusCnt := uint(0)
	coff := uint(0)
	match := false

	var curBuf *blockdev.Buf
	curSec := ^uint32(0)
	release := func() {
		if curBuf != nil {
			curBuf.Brelse()
			curBuf = nil
		}
	}
	defer release()

	for !bpb.IsEndOfChain(cluster) && cluster != 0 {
		if coff >= bpc {
			next, err := c.tab.ReadFAT(cluster)
			if err != nil {
				return nil, err
			}
			cluster = next
			coff = 0
			clusCnt++
			continue
		}

		sec := c.geom.FirstSectorOfCluster(cluster) + uint32(coff/bps)
		if sec != curSec {
			release()
			buf, err := c.blk.Bread(0, sec)
			if err != nil {
				return nil, err
			}
			curBuf = buf
			curSec = sec
		}

		secOff := coff % bps
		raw := curBuf.Data[secOff : secOff+32]

		switch raw[0] {
		case emptyEntryByte:
			coff += dirRecordSize
			continue
		case endOfEntryByte:
			release()
			if err := c.Eput(de); err != nil {
				return nil, err
			}
			return nil, nil
		}

		if entryIsLFN(raw) {
			count := lfnCount(raw)
			if lfnIsLast(raw) && int(count) != entcnt {
				coff += uint(count+1) * dirRecordSize
				continue
			}
			if int(count) < 1 || int(count) > entcnt {
				coff += dirRecordSize
				continue
			}
			diskChunk := extractLFNChunk(raw)
			if diskChunk != chunks[count-1] {
				coff += uint(count+1) * dirRecordSize
				continue
			}
			if count == 1 {
				match = true
			}
			coff += dirRecordSize
			continue
		}

		if !match {
			if decodeSFNName(raw) != name {
				coff += dirRecordSize
				continue
			}
		}

		de.Filename = name
		de.Device = dir.Device
		de.ParentCluster = dir.FirstCluster
		de.Offset = uint32(clusCnt*bpc+coff) - uint32(entcnt)*uint32(dirRecordSize)
		readEntryInfo(de, raw)
		de.valid = true
		release()
		return de, nil
	}

	if err := c.Eput(de); err != nil {
		return nil, err
	}
	return nil, nil
}

// Eupdate flushes e's first-cluster and file_size fields to its on-disk SFN
// record directly,
// without touching reference counts. Used by EWrite, which must persist a
// chain-extension / size change as soon as it happens rather than waiting
// for the entry's last reference to be released. Caller must hold e's sleep
// lock.
func (c *Cache) Eupdate(e *Entry) error {
	return c.eupdate(e)
}

// eupdate rewrites the first-cluster (hi/lo) and file_size fields of entry
// e's on-disk SFN record.
// Walks the parent's cluster chain via clustertab.Walk instead of doing
// arithmetic on cluster numbers, which breaks as soon as a chain is
// non-contiguous.
func (c *Cache) eupdate(e *Entry) error {
	bpc := c.geom.BytesPerCluster
	clusNum := uint(e.Offset) / bpc
	localOff := uint(e.Offset) % bpc

	clus, err := c.tab.Walk(e.ParentCluster, clusNum)
	if err != nil {
		return err
	}

	var ordinal [1]byte
	if err := readAt(c.geom, c.tab, c.cio, clus, localOff, ordinal[:]); err != nil {
		return err
	}
	entcnt := uint(ordinal[0] &^ lastLongEntryBit)

	sfnOff := localOff + entcnt*dirRecordSize
	destClus, err := c.tab.Walk(clus, sfnOff/bpc)
	if err != nil {
		return err
	}
	sfnOff %= bpc

	var hi, lo [2]byte
	binary.LittleEndian.PutUint16(hi[:], uint16(e.FirstCluster>>16))
	binary.LittleEndian.PutUint16(lo[:], uint16(e.FirstCluster&0xFFFF))
	if _, err := writeAt(c.geom, c.tab, c.cio, destClus, sfnOff+20, hi[:]); err != nil {
		return err
	}
	if _, err := writeAt(c.geom, c.tab, c.cio, destClus, sfnOff+26, lo[:]); err != nil {
		return err
	}

	var sizeBytes [4]byte
	binary.LittleEndian.PutUint32(sizeBytes[:], uint32(e.FileSize))
	_, err = writeAt(c.geom, c.tab, c.cio, destClus, sfnOff+28, sizeBytes[:])
	return err
}

// Etrunc marks e's on-disk directory record deleted (every LFN slot plus
// the trailing SFN slot gets byte 0xE5) and frees every cluster in e's data
// chain. Uses the same chain-walk eupdate does, and additionally guards
// against cluster 0 in the free loop — a file that was never written to has
// FirstCluster == 0, which is not a valid chain link and must not be
// walked, unlike original_source's free loop which would spin on it.
func (c *Cache) Etrunc(e *Entry) error {
	bpc := c.geom.BytesPerCluster
	clusNum := uint(e.Offset) / bpc
	localOff := uint(e.Offset) % bpc

	clus, err := c.tab.Walk(e.ParentCluster, clusNum)
	if err != nil {
		return err
	}

	var ordinal [1]byte
	if err := readAt(c.geom, c.tab, c.cio, clus, localOff, ordinal[:]); err != nil {
		return err
	}
	entcnt := uint(ordinal[0] &^ lastLongEntryBit)

	deleted := [1]byte{emptyEntryByte}
	off := localOff
	cur := clus
	for i := uint(0); i <= entcnt; i++ {
		if off >= bpc {
			next, rerr := c.tab.ReadFAT(cur)
			if rerr != nil {
				return rerr
			}
			cur = next
			off %= bpc
		}
		if _, werr := writeAt(c.geom, c.tab, c.cio, cur, off, deleted[:]); werr != nil {
			return werr
		}
		off += dirRecordSize
	}

	e.valid = false

	for fc := e.FirstCluster; fc != 0 && !bpb.IsEndOfChain(fc); {
		next, rerr := c.tab.ReadFAT(fc)
		if rerr != nil {
			return rerr
		}
		if ferr := c.tab.FreeCluster(fc); ferr != nil {
			return ferr
		}
		fc = next
	}
	return nil
}

// FileStat is a synthetic stat record: size, an attribute-derived
// os.FileMode, and synthetic device/inode identifiers (inode :=
// first_cluster, which is unique per live file on a single-volume mount).
type FileStat struct {
	Device uint
	Inode  uint32
	Size   uint
	Mode   os.FileMode
}

// Stat builds e's synthetic stat record.
func (c *Cache) Stat(e *Entry) FileStat {
	mode := os.FileMode(0o644)
	if e.IsDir() {
		mode = os.ModeDir | 0o755
	}
	if e.Attribute&AttrReadOnly != 0 {
		mode &^= 0o222
	}
	return FileStat{Device: e.Device, Inode: e.FirstCluster, Size: e.FileSize, Mode: mode}
}

// LookupDir exposes lookupDir to package pathresolve without requiring it to
// reach into unexported cache internals.
func (c *Cache) LookupDir(dir *Entry, name string) (*Entry, error) {
	return c.lookupDir(dir, name)
}

// CheckIntegrity verifies the cache-wide invariants tests rely on: the LRU
// ring is a well-formed doubly-linked list through the sentinel with
// exactly len(pool) live nodes, every node's ref count sums to liveHolders
// (the caller's own count of outstanding external references — the
// sentinel's permanent self-reference is excluded, since it isn't an
// external holder), and every valid entry's cluster chain reaches EOC
// within the volume's cluster budget. Violations are aggregated rather than
// returned on the first failure, so a single run reports everything wrong
// at once.
func (c *Cache) CheckIntegrity(liveHolders int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs *multierror.Error

	seen := make(map[*Entry]bool, len(c.pool))
	count := 0
	refSum := 0
	for e := c.root.next; e != c.root; e = e.next {
		if seen[e] {
			errs = multierror.Append(errs, fmt.Errorf("dirent: ring revisits a node before reaching the sentinel"))
			break
		}
		seen[e] = true
		if e.prev.next != e || e.next.prev != e {
			errs = multierror.Append(errs, fmt.Errorf("dirent: broken ring link at entry %q", e.Filename))
		}
		count++
		refSum += e.refCount
	}
	if count != len(c.pool) {
		errs = multierror.Append(errs, fmt.Errorf("dirent: ring has %d live nodes, want %d (pool capacity)", count, len(c.pool)))
	}
	if refSum != liveHolders {
		errs = multierror.Append(errs, fmt.Errorf("dirent: sum(ref_count)=%d, want %d live external holders", refSum, liveHolders))
	}

	budget := c.geom.DataClusterCount
	for e := range seen {
		if !e.valid || e.FirstCluster == 0 {
			continue
		}
		hops := uint(0)
		cluster := e.FirstCluster
		for !bpb.IsEndOfChain(cluster) {
			next, err := c.tab.ReadFAT(cluster)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("dirent: entry %q: reading FAT for cluster %d: %w", e.Filename, cluster, err))
				break
			}
			cluster = next
			hops++
			if hops > budget {
				errs = multierror.Append(errs, fmt.Errorf("dirent: entry %q's cluster chain does not terminate within %d clusters", e.Filename, budget))
				break
			}
		}
	}

	return errs.ErrorOrNil()
}
