// Package clusterio provides byte-granular read/write bounded to a single
// cluster, routed through the block cache sector by sector. Grounded in
// original_source's eread_clus/ewrite_clus and dargueta/disko's
// readAbsoluteSectors (drivers/fat/driverbase.go).
package clusterio

import (
	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
)

// Copier stands in for the kernel's either_copyin/either_copyout helpers:
// the boundary between kernel buffers and a caller-supplied buffer that may
// belong to user space and may fault partway through a copy. userFlag
// preserves that distinction for callers that need it; the default Copier
// ignores it since this module has no user/kernel address-space split.
type Copier interface {
	// CopyOut copies from src (kernel-side, e.g. a cached sector) into dst
	// (possibly user-owned). Returns the number of bytes copied and an error
	// if the copy faulted partway through.
	CopyOut(userFlag bool, dst, src []byte) (int, error)
	// CopyIn copies from src (possibly user-owned) into dst (kernel-side).
	CopyIn(userFlag bool, dst, src []byte) (int, error)
}

type plainCopier struct{}

func (plainCopier) CopyOut(_ bool, dst, src []byte) (int, error) { return copy(dst, src), nil }
func (plainCopier) CopyIn(_ bool, dst, src []byte) (int, error)  { return copy(dst, src), nil }

// DefaultCopier never faults; it's a plain byte copy. Tests that need to
// exercise a faulting copy path can supply a Copier that returns a short
// count partway through.
var DefaultCopier Copier = plainCopier{}

// IO performs cluster-bounded reads and writes for one volume.
type IO struct {
	cache  *blockdev.Cache
	geom   *bpb.Geometry
	copier Copier
}

// New creates an IO over cache using geom's geometry and the default copier.
func New(cache *blockdev.Cache, geom *bpb.Geometry) *IO {
	return &IO{cache: cache, geom: geom, copier: DefaultCopier}
}

// WithCopier returns a copy of io using copier instead of DefaultCopier.
func (io *IO) WithCopier(copier Copier) *IO {
	return &IO{cache: io.cache, geom: io.geom, copier: copier}
}

// ReadCluster transfers up to n bytes from cluster, starting at byte offset
// off within the cluster, into dst. Precondition: off+n <= bytes per
// cluster; violating it panics. Returns the number of bytes actually
// transferred, which may be short if the copier faults partway through.
func (io *IO) ReadCluster(cluster uint32, userFlag bool, dst []byte, off, n uint) (uint, error) {
	if off+n > io.geom.BytesPerCluster {
		panic("clusterio: offset out of range")
	}

	sec := io.geom.FirstSectorOfCluster(cluster) + uint32(off/io.geom.BytesPerSector)
	off %= io.geom.BytesPerSector

	var tot uint
	for tot < n {
		buf, err := io.cache.Bread(0, sec)
		if err != nil {
			return tot, err
		}

		m := io.geom.BytesPerSector - off%io.geom.BytesPerSector
		if n-tot < m {
			m = n - tot
		}

		copied, cerr := io.copier.CopyOut(userFlag, dst[tot:tot+m], buf.Data[off%io.geom.BytesPerSector:off%io.geom.BytesPerSector+m])
		buf.Brelse()

		tot += uint(copied)
		if cerr != nil || uint(copied) < m {
			return tot, cerr
		}

		off += m
		sec++
	}
	return tot, nil
}

// WriteCluster transfers up to n bytes from src into cluster, starting at
// byte offset off within the cluster. Precondition: off+n <= bytes per
// cluster; violating it panics. Returns the number of bytes actually
// transferred.
func (io *IO) WriteCluster(cluster uint32, userFlag bool, src []byte, off, n uint) (uint, error) {
	if off+n > io.geom.BytesPerCluster {
		panic("clusterio: offset out of range")
	}

	sec := io.geom.FirstSectorOfCluster(cluster) + uint32(off/io.geom.BytesPerSector)
	off %= io.geom.BytesPerSector

	var tot uint
	for tot < n {
		buf, err := io.cache.Bread(0, sec)
		if err != nil {
			return tot, err
		}

		m := io.geom.BytesPerSector - off%io.geom.BytesPerSector
		if n-tot < m {
			m = n - tot
		}

		copied, cerr := io.copier.CopyIn(userFlag, buf.Data[off%io.geom.BytesPerSector:off%io.geom.BytesPerSector+m], src[tot:tot+m])
		if cerr == nil {
			cerr = buf.Bwrite()
		}
		buf.Brelse()

		tot += uint(copied)
		if cerr != nil || uint(copied) < m {
			return tot, cerr
		}

		off += m
		sec++
	}
	return tot, nil
}
