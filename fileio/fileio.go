// Package fileio implements file-level read/write on top of a cluster chain:
// clamping against file size, walking the chain via package clustertab, and
// extending it with newly-allocated clusters as a write grows past the
// current end of the file. Grounded in original_source's eread/ewrite,
// adapted to Go and to dargueta/disko's listClusters/getClusterInChain
// chain-walking idiom (drivers/fat/driverbase.go).
package fileio

import (
	"errors"

	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
)

// ErrOutOfRange is returned by Write when off is beyond the file's current
// size. It's declared here rather than imported from the root package
// because fileio sits below it in the dependency graph; callers that want
// the driver-wide sentinel translate this at the Volume boundary.
var ErrOutOfRange = errors.New("fileio: write offset beyond file size")

// FATWalker is the minimal surface fileio.Read needs from the FAT layer;
// it's satisfied by *clustertab.Table directly, and named here so callers
// (the fat32 Volume facade) don't need to depend on fileio's internal wiring.
type FATWalker interface {
	ReadFAT(cluster uint32) (uint32, error)
	Walk(first uint32, hops uint) (uint32, error)
}

type ClusterReader interface {
	ReadCluster(cluster uint32, userFlag bool, dst []byte, off, n uint) (uint, error)
}

type ClusterWriter interface {
	WriteCluster(cluster uint32, userFlag bool, src []byte, off, n uint) (uint, error)
}

// Read transfers up to n bytes starting at byte offset off in the file whose
// data begins at firstCluster and whose current length is fileSize, into
// dst. If off >= fileSize, returns 0; n is clamped so that off+n <=
// fileSize.
func Read(geom *bpb.Geometry, tab FATWalker, cio ClusterReader, firstCluster uint32, fileSize uint, userFlag bool, dst []byte, off, n uint) (uint, error) {
	if off >= fileSize {
		return 0, nil
	}
	if off+n < off {
		return 0, nil
	}
	if off+n > fileSize {
		n = fileSize - off
	}

	bpc := geom.BytesPerCluster
	clusNum := off / bpc
	curOff := off % bpc

	cluster, err := tab.Walk(firstCluster, clusNum)
	if err != nil {
		return 0, err
	}

	var tot uint
	for tot < n && !bpb.IsEndOfChain(cluster) && cluster != 0 {
		m := bpc - curOff
		if n-tot < m {
			m = n - tot
		}

		got, rerr := cio.ReadCluster(cluster, userFlag, dst[tot:], curOff, m)
		tot += got
		if rerr != nil || got < m {
			return tot, rerr
		}

		next, rerr := tab.ReadFAT(cluster)
		if rerr != nil {
			return tot, rerr
		}
		cluster = next
		curOff = 0
	}
	return tot, nil
}

// Write transfers up to n bytes from src into the file whose data begins at
// firstCluster and whose current length is fileSize, starting at byte offset
// off. off must not exceed fileSize (a write may append at exactly
// fileSize, but can't start past it): exceeding it returns ErrOutOfRange. An
// overflowing off+n is a distinct, silent case: it's treated as an empty
// request with no error, matching the original arithmetic-overflow rule.
//
// When the walk reaches a cluster that hasn't been allocated yet (the chain
// ends, or — for a brand-new file — firstCluster is still 0, meaning the
// chain hasn't started at all), Write allocates a cluster via tab and links
// it in: either as the new firstCluster (if this is the very first cluster
// the file has ever had) or via WriteFAT from the previous cluster. original
// source's ewrite only ever checks "cluster >= FAT32_EOC" to decide whether
// to extend the chain, which never fires for a fresh file's first_clus == 0;
// this resolves that gap by also treating cluster 0 as "not yet allocated",
// consistent with FAT's convention that entry value 0 means free.
//
// Returns the number of bytes transferred, the (possibly updated)
// firstCluster, and the (possibly updated) fileSize. The caller is
// responsible for persisting those two fields via its own update path (the
// dirent package's eupdate) and must hold the entry's sleep lock across the
// call.
func Write(geom *bpb.Geometry, tab *clustertab.Table, cio ClusterWriter, firstCluster uint32, fileSize uint, userFlag bool, src []byte, off, n uint) (transferred uint, newFirstCluster uint32, newSize uint, err error) {
	newFirstCluster = firstCluster
	newSize = fileSize

	if off > fileSize {
		return 0, firstCluster, fileSize, ErrOutOfRange
	}
	if off+n < off {
		return 0, firstCluster, fileSize, nil
	}

	bpc := geom.BytesPerCluster
	clusNum := off / bpc
	curOff := off % bpc

	cluster := firstCluster
	var prev uint32

	for i := uint(0); i < clusNum; i++ {
		if cluster == 0 || bpb.IsEndOfChain(cluster) {
			nc := tab.AllocCluster()
			if prev == 0 {
				newFirstCluster = nc
			} else if werr := tab.WriteFAT(prev, nc); werr != nil {
				return 0, newFirstCluster, newSize, werr
			}
			cluster = nc
		}

		prev = cluster
		next, rerr := tab.ReadFAT(cluster)
		if rerr != nil {
			return 0, newFirstCluster, newSize, rerr
		}
		cluster = next
	}

	var tot uint
	for tot < n {
		if cluster == 0 || bpb.IsEndOfChain(cluster) {
			nc := tab.AllocCluster()
			if prev == 0 {
				newFirstCluster = nc
			} else if werr := tab.WriteFAT(prev, nc); werr != nil {
				return tot, newFirstCluster, newSize, werr
			}
			cluster = nc
		}

		m := bpc - curOff
		if n-tot < m {
			m = n - tot
		}

		got, werr := cio.WriteCluster(cluster, userFlag, src[tot:], curOff, m)
		tot += got
		if werr != nil || got < m {
			err = werr
			break
		}

		prev = cluster
		next, rerr := tab.ReadFAT(cluster)
		if rerr != nil {
			err = rerr
			break
		}
		cluster = next
		curOff = 0
	}

	if off+tot > newSize {
		newSize = off + tot
	}
	return tot, newFirstCluster, newSize, err
}
