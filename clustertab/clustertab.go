// Package clustertab implements the FAT (File Allocation Table) operations:
// reading and writing chain links, allocating and freeing clusters, and
// zeroing newly-allocated cluster data. Grounded in original_source's
// read_fat/write_fat/alloc_clus/free_clus/zero_clus, adapted to Go and to
// dargueta/disko's cluster-arithmetic idiom (drivers/fat/driverbase.go).
package clustertab

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
)

// ErrOutOfRange is returned by WriteFAT when asked to write a FAT index past
// the volume's last valid cluster. Declared locally, rather than imported
// from the root package, because clustertab sits below it in the dependency
// graph.
var ErrOutOfRange = errors.New("clustertab: cluster index out of range")

// Table is the FAT#1 accessor for one mounted volume. Only FAT#1 is ever
// written; additional FAT replicas are not kept in sync, an accepted
// trade-off.
type Table struct {
	cache *blockdev.Cache
	geom  *bpb.Geometry

	// allocMu serializes AllocCluster. The original design's allocator is
	// unsynchronized: a sector read, mutate, write sequence races against
	// concurrent allocators and may hand out the same cluster twice. This
	// reimplementation closes that race with a volume-level allocation lock.
	allocMu sync.Mutex
}

// New creates a Table over cache using geom's geometry.
func New(cache *blockdev.Cache, geom *bpb.Geometry) *Table {
	return &Table{cache: cache, geom: geom}
}

// ReadFAT returns the FAT#1 entry for cluster. It is idempotent on sentinel
// values: clusters already at or above EOC are returned unchanged, and
// clusters past the last valid cluster read as 0 ("free").
func (t *Table) ReadFAT(cluster uint32) (uint32, error) {
	if bpb.IsEndOfChain(cluster) {
		return cluster, nil
	}
	if cluster > t.geom.LastValidCluster() {
		return 0, nil
	}

	sec := t.geom.FATSectorOfCluster(cluster, 1)
	buf, err := t.cache.Bread(0, sec)
	if err != nil {
		return 0, err
	}
	defer buf.Brelse()

	off := t.geom.FATOffsetOfCluster(cluster)
	return binary.LittleEndian.Uint32(buf.Data[off : off+4]), nil
}

// WriteFAT writes value into cluster's FAT#1 entry.
func (t *Table) WriteFAT(cluster uint32, value uint32) error {
	if cluster > t.geom.LastValidCluster() {
		return fmt.Errorf("%w: cluster %d (last valid %d)", ErrOutOfRange, cluster, t.geom.LastValidCluster())
	}

	sec := t.geom.FATSectorOfCluster(cluster, 1)
	buf, err := t.cache.Bread(0, sec)
	if err != nil {
		return err
	}
	defer buf.Brelse()

	off := t.geom.FATOffsetOfCluster(cluster)
	binary.LittleEndian.PutUint32(buf.Data[off:off+4], value)
	return buf.Bwrite()
}

// ZeroCluster overwrites every sector of cluster with zero bytes.
func (t *Table) ZeroCluster(cluster uint32) error {
	sec := t.geom.FirstSectorOfCluster(cluster)
	zero := make([]byte, t.geom.BytesPerSector)

	for i := uint(0); i < t.geom.SectorsPerCluster; i++ {
		buf, err := t.cache.Bread(0, sec+uint32(i))
		if err != nil {
			return err
		}
		copy(buf.Data, zero)
		err = buf.Bwrite()
		buf.Brelse()
		if err != nil {
			return err
		}
	}
	return nil
}

// entriesPerSector is the number of 32-bit FAT entries that fit in one
// sector.
func (t *Table) entriesPerSector() uint {
	return t.geom.BytesPerSector / 4
}

// AllocCluster performs a linear scan of FAT#1 for the first free (value 0)
// entry, marks it end-of-chain, zeroes its data, and returns its cluster
// number. Cluster numbers start at 2: the original allocator conflated
// FAT-entry index with cluster number, so this implementation skips indices
// 0 and 1 explicitly.
//
// Exhaustion is fatal: AllocCluster panics if no free cluster is found.
func (t *Table) AllocCluster() uint32 {
	cluster, err := t.allocCluster()
	if err != nil {
		panic("clustertab: no clusters")
	}
	return cluster
}

// TryAllocCluster is the non-panicking form of AllocCluster, surfacing
// exhaustion as an error return instead of a panic. No caller in this module
// uses it.
func (t *Table) TryAllocCluster() (uint32, error) {
	return t.allocCluster()
}

func (t *Table) allocCluster() (uint32, error) {
	t.allocMu.Lock()
	defer t.allocMu.Unlock()

	entPerSec := t.entriesPerSector()
	startSec := uint32(t.geom.ReservedSectorCount)

	for i := uint(0); i < t.geom.FATSizeSectors; i++ {
		sec := startSec + uint32(i)
		buf, err := t.cache.Bread(0, sec)
		if err != nil {
			return 0, err
		}

		for j := uint(0); j < entPerSec; j++ {
			off := j * 4
			if binary.LittleEndian.Uint32(buf.Data[off:off+4]) != 0 {
				continue
			}

			cluster := uint32(i*entPerSec + j)
			if cluster < 2 {
				// Entries 0 and 1 are reserved; they are never valid cluster
				// numbers.
				continue
			}
			if cluster > t.geom.LastValidCluster() {
				// Entries past the data region are not clusters.
				buf.Brelse()
				return 0, fmt.Errorf("clustertab: no free clusters")
			}

			binary.LittleEndian.PutUint32(buf.Data[off:off+4], bpb.EOC+7)
			err = buf.Bwrite()
			buf.Brelse()
			if err != nil {
				return 0, err
			}

			if err := t.ZeroCluster(cluster); err != nil {
				return 0, err
			}
			return cluster, nil
		}
		buf.Brelse()
	}

	return 0, fmt.Errorf("clustertab: no free clusters")
}

// FreeCluster marks cluster's FAT#1 entry as free (0).
func (t *Table) FreeCluster(cluster uint32) error {
	return t.WriteFAT(cluster, 0)
}

// Walk follows the cluster chain starting at first for hops steps, using
// ReadFAT, stopping early if it hits an end-of-chain marker.
func (t *Table) Walk(first uint32, hops uint) (uint32, error) {
	cluster := first
	for ; hops > 0 && !bpb.IsEndOfChain(cluster); hops-- {
		next, err := t.ReadFAT(cluster)
		if err != nil {
			return 0, err
		}
		cluster = next
	}
	return cluster, nil
}
