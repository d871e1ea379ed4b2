package fat32

import (
	"errors"
	"sync"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
	"github.com/arrowfs/fat32/dirent"
	"github.com/arrowfs/fat32/fileio"
	"github.com/arrowfs/fat32/pathresolve"
)

// DefaultEntryCacheCapacity is the pre-allocated entry-cache pool size used
// when callers don't override it. It mirrors original_source's compile-time
// ENTRY_CACHE_NUM, promoted to a runtime parameter so multiple volumes can
// size their caches independently.
const DefaultEntryCacheCapacity = 64

// Volume is a single mounted FAT32 volume: an explicit handle in place of
// process-wide globals, so that multiple mounts are independently testable
// within one process.
type Volume struct {
	geom *bpb.Geometry
	blk  *blockdev.Cache
	tab  *clustertab.Table
	cio  *clusterio.IO
	cache *dirent.Cache
	res   *pathresolve.Resolver

	cwdMu sync.Mutex
	cwd   *dirent.Entry
}

// Mount reads logical sector 0 from dev, parses the BPB, and brings up the
// entry cache. Fails with ErrBadMount if the signature or sector size don't
// match.
func Mount(dev blockdev.Device, capacity int) (*Volume, error) {
	if capacity <= 0 {
		capacity = DefaultEntryCacheCapacity
	}

	blk := blockdev.NewCache(dev)
	buf, err := blk.Bread(0, 0)
	if err != nil {
		return nil, WrapError(ErrBadMount, err)
	}
	boot := make([]byte, len(buf.Data))
	copy(boot, buf.Data)
	buf.Brelse()

	geom, err := bpb.Parse(boot, dev.SectorSize())
	if err != nil {
		return nil, WrapError(ErrBadMount, err)
	}

	tab := clustertab.New(blk, geom)
	cio := clusterio.New(blk, geom)
	cache := dirent.New(blk, geom, tab, cio, capacity)

	v := &Volume{
		geom:  geom,
		blk:   blk,
		tab:   tab,
		cio:   cio,
		cache: cache,
		res:   pathresolve.New(cache),
	}
	v.cwd = cache.Root()
	return v, nil
}

// Root returns the sentinel root entry.
func (v *Volume) Root() *dirent.Entry { return v.cache.Root() }

// Cwd returns the volume's current working-directory entry. Since this
// library has no process table, "current directory" is volume-scoped state
// rather than per-process.
func (v *Volume) Cwd() *dirent.Entry {
	v.cwdMu.Lock()
	defer v.cwdMu.Unlock()
	return v.cwd
}

// SetCwd replaces the volume's current working-directory entry, taking
// ownership of the caller's reference.
func (v *Volume) SetCwd(e *dirent.Entry) {
	v.cwdMu.Lock()
	defer v.cwdMu.Unlock()
	v.cwd = e
}

// GetEntry resolves path fully. Root-relative paths ("/...") start at the
// sentinel root; anything else starts at the volume's current directory.
// Returns ErrNotFound if any component is missing, or ErrNotADirectory if a
// non-final component isn't a directory.
func (v *Volume) GetEntry(path string) (*dirent.Entry, error) {
	e, err := v.res.GetEntry(path, v.cache.Root(), v.Cwd())
	return e, translateResolveError(err)
}

// GetParent resolves every path component but the last, returning the
// parent directory (ref-held) and the final component's name. Returns
// ErrNotFound/ErrNotADirectory under the same conditions as GetEntry.
func (v *Volume) GetParent(path string) (*dirent.Entry, string, error) {
	e, name, err := v.res.GetParent(path, v.cache.Root(), v.Cwd())
	return e, name, translateResolveError(err)
}

// translateResolveError maps pathresolve's local sentinels onto the
// driver-wide error kinds at the one boundary that can see both: pathresolve
// sits below this package and can't import errors.go's Err* vars without a
// cycle.
func translateResolveError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pathresolve.ErrNotFound):
		return WrapError(ErrNotFound, err)
	case errors.Is(err, pathresolve.ErrNotADirectory):
		return WrapError(ErrNotADirectory, err)
	default:
		return err
	}
}

// Ealloc allocates a new on-disk entry named name inside dir. Caller must
// hold dir's sleep lock.
func (v *Volume) Ealloc(dir *dirent.Entry, name string, isDir bool) (*dirent.Entry, error) {
	return v.cache.Ealloc(dir, name, isDir)
}

// ERead reads up to n bytes from e at byte offset off into dst.
func (v *Volume) ERead(e *dirent.Entry, dst []byte, off, n uint) (uint, error) {
	return fileio.Read(v.geom, v.tab, v.cio, e.FirstCluster, e.FileSize, false, dst, off, n)
}

// EWrite writes up to n bytes from src into e at byte offset off, extending
// the cluster chain and persisting the new size/first-cluster via eupdate.
// Caller must hold e's sleep lock. Returns ErrOutOfRange if off is beyond
// e's current size.
func (v *Volume) EWrite(e *dirent.Entry, src []byte, off, n uint) (uint, error) {
	transferred, newFirst, newSize, err := fileio.Write(v.geom, v.tab, v.cio, e.FirstCluster, e.FileSize, false, src, off, n)
	if err != nil {
		if errors.Is(err, fileio.ErrOutOfRange) || errors.Is(err, clustertab.ErrOutOfRange) {
			return transferred, WrapError(ErrOutOfRange, err)
		}
		return transferred, err
	}
	e.FirstCluster = newFirst
	e.FileSize = newSize
	if err := v.cache.Eupdate(e); err != nil {
		return transferred, err
	}
	return transferred, nil
}

// ETrunc marks e's on-disk record deleted and frees its cluster chain.
func (v *Volume) ETrunc(e *dirent.Entry) error {
	return v.cache.Etrunc(e)
}

// EDup increments e's reference count.
func (v *Volume) EDup(e *dirent.Entry) *dirent.Entry {
	return v.cache.Edup(e)
}

// EPut decrements e's reference count, flushing metadata on last release.
func (v *Volume) EPut(e *dirent.Entry) error {
	return v.cache.Eput(e)
}

// ELock acquires e's sleep lock.
func (v *Volume) ELock(e *dirent.Entry) {
	v.cache.Elock(e)
}

// EUnlock releases e's sleep lock.
func (v *Volume) EUnlock(e *dirent.Entry) {
	v.cache.Eunlock(e)
}

// Stat returns e's synthetic stat record.
func (v *Volume) Stat(e *dirent.Entry) dirent.FileStat {
	return v.cache.Stat(e)
}

// ListDir lists dir's entries, reassembling LFN chains into UTF-8 names.
func (v *Volume) ListDir(dir *dirent.Entry) ([]dirent.DirListEntry, error) {
	return v.cache.ListDir(dir)
}
