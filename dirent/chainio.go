package dirent

import (
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
)

// readAt and writeAt give Ealloc and eupdate/etrunc direct,
// unbounded access to a cluster chain: unlike package fileio, there is no
// file_size to clamp against, because FAT32 directories don't carry one on
// disk. Grounded the same way fileio is — in original_source's
// eread_clus/ewrite_clus — but kept separate because eupdate/etrunc operate
// directly over the chain, not through the file-read/write contract's size
// semantics.

func readAt(geom *bpb.Geometry, tab *clustertab.Table, cio *clusterio.IO, first uint32, off uint, dst []byte) error {
	bpc := geom.BytesPerCluster
	cluster, err := tab.Walk(first, off/bpc)
	if err != nil {
		return err
	}
	localOff := off % bpc

	n := uint(len(dst))
	var tot uint
	for tot < n && !bpb.IsEndOfChain(cluster) && cluster != 0 {
		m := bpc - localOff
		if n-tot < m {
			m = n - tot
		}
		got, rerr := cio.ReadCluster(cluster, false, dst[tot:], localOff, m)
		tot += got
		if rerr != nil || got < m {
			return rerr
		}
		next, rerr := tab.ReadFAT(cluster)
		if rerr != nil {
			return rerr
		}
		cluster = next
		localOff = 0
	}
	return nil
}

// writeAt writes src into the chain beginning at first, at byte offset off,
// allocating and linking new clusters as needed when the chain is too short
// to reach off+len(src). Returns the (possibly updated) first cluster, for
// the case off falls in the first cluster and first was 0 (unallocated).
func writeAt(geom *bpb.Geometry, tab *clustertab.Table, cio *clusterio.IO, first uint32, off uint, src []byte) (uint32, error) {
	bpc := geom.BytesPerCluster
	clusNum := off / bpc
	localOff := off % bpc

	cluster := first
	newFirst := first
	var prev uint32

	extend := func() error {
		nc := tab.AllocCluster()
		if prev == 0 {
			newFirst = nc
		} else if err := tab.WriteFAT(prev, nc); err != nil {
			return err
		}
		cluster = nc
		return nil
	}

	for i := uint(0); i < clusNum; i++ {
		if cluster == 0 || bpb.IsEndOfChain(cluster) {
			if err := extend(); err != nil {
				return newFirst, err
			}
		}
		prev = cluster
		next, err := tab.ReadFAT(cluster)
		if err != nil {
			return newFirst, err
		}
		cluster = next
	}

	n := uint(len(src))
	var tot uint
	for tot < n {
		if cluster == 0 || bpb.IsEndOfChain(cluster) {
			if err := extend(); err != nil {
				return newFirst, err
			}
		}
		m := bpc - localOff
		if n-tot < m {
			m = n - tot
		}
		got, err := cio.WriteCluster(cluster, false, src[tot:], localOff, m)
		tot += got
		if err != nil || got < m {
			return newFirst, err
		}
		prev = cluster
		next, err := tab.ReadFAT(cluster)
		if err != nil {
			return newFirst, err
		}
		cluster = next
		localOff = 0
	}
	return newFirst, nil
}
