package dirent_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
	"github.com/arrowfs/fat32/dirent"
	"github.com/arrowfs/fat32/fileio"
)

// buildVolume constructs a tiny FAT32 image with a single, already-allocated
// root directory cluster (cluster 2, matching this image's hard-coded
// RootCluster), plus dataClusters further free clusters for file data and
// directory growth.
func buildVolume(t *testing.T, dataClusters uint) (*blockdev.Cache, *bpb.Geometry, *clustertab.Table, *clusterio.IO) {
	t.Helper()

	const sectorSize = 512
	const reserved = 1
	const fatSize = 1
	total := reserved + fatSize + 1 + dataClusters // +1 for the root cluster itself

	boot := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(boot[11:13], sectorSize)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reserved)
	boot[16] = 1 // fat count
	binary.LittleEndian.PutUint32(boot[28:32], 0)
	binary.LittleEndian.PutUint32(boot[32:36], uint32(total))
	binary.LittleEndian.PutUint32(boot[36:40], fatSize)
	binary.LittleEndian.PutUint32(boot[44:48], 2) // root cluster
	copy(boot[82:87], "FAT32")

	image := make([]byte, uint(total)*sectorSize)
	copy(image[:sectorSize], boot)

	dev, err := blockdev.NewMemDevice(image, sectorSize)
	require.NoError(t, err)
	blk := blockdev.NewCache(dev)

	geom, err := bpb.Parse(image[:sectorSize], sectorSize)
	require.NoError(t, err)

	tab := clustertab.New(blk, geom)
	cio := clusterio.New(blk, geom)

	require.NoError(t, tab.WriteFAT(2, bpb.EOC+7))
	require.NoError(t, tab.ZeroCluster(2))

	return blk, geom, tab, cio
}

func TestEallocWritesRecoverableRecord(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache1 := dirent.New(blk, geom, tab, cio, 4)
	e, err := cache1.Ealloc(cache1.Root(), "hello.txt", false)
	require.NoError(t, err)
	require.NotNil(t, e)
	require.True(t, e.Valid())
	require.Equal(t, "hello.txt", e.Filename)
	require.Equal(t, dirent.AttrArchive, e.Attribute)
	require.Zero(t, e.FirstCluster)
	require.NoError(t, cache1.Eput(e))

	cache2 := dirent.New(blk, geom, tab, cio, 4)
	found, err := cache2.LookupDir(cache2.Root(), "hello.txt")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, "hello.txt", found.Filename)
	require.Equal(t, dirent.AttrArchive, found.Attribute)
}

func TestEallocLongNameRoundTrip(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	const longName = "this-is-a-name-longer-than-thirteen-characters.txt"

	cache1 := dirent.New(blk, geom, tab, cio, 4)
	e, err := cache1.Ealloc(cache1.Root(), longName, false)
	require.NoError(t, err)
	require.NoError(t, cache1.Eput(e))

	cache2 := dirent.New(blk, geom, tab, cio, 4)
	found, err := cache2.LookupDir(cache2.Root(), longName)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, longName, found.Filename)
}

func TestEallocDirectoryGetsFirstCluster(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	e, err := cache.Ealloc(cache.Root(), "subdir", true)
	require.NoError(t, err)
	require.True(t, e.IsDir())
	require.GreaterOrEqual(t, e.FirstCluster, uint32(2))
}

func TestLookupDirMissingNameReturnsNil(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	_, err := cache.Ealloc(cache.Root(), "present.txt", false)
	require.NoError(t, err)

	found, err := cache.LookupDir(cache.Root(), "absent.txt")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestListDirReflectsAllocatedEntries(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 8)
	root := cache.Root()

	names := []string{"alpha.txt", "beta.txt", "gamma-directory"}
	e1, err := cache.Ealloc(root, names[0], false)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(e1))

	e2, err := cache.Ealloc(root, names[1], false)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(e2))

	e3, err := cache.Ealloc(root, names[2], true)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(e3))

	listing, err := cache.ListDir(root)
	require.NoError(t, err)
	require.Len(t, listing, 3)

	seen := make(map[string]dirent.DirListEntry)
	for _, entry := range listing {
		seen[entry.Name] = entry
	}
	for _, n := range names {
		_, ok := seen[n]
		require.True(t, ok, "expected %q in listing", n)
	}
	require.NotZero(t, seen["gamma-directory"].Attribute&dirent.AttrDirectory)
}

func TestEupdatePersistsFileSizeAcrossCaches(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache1 := dirent.New(blk, geom, tab, cio, 4)
	root := cache1.Root()

	e, err := cache1.Ealloc(root, "data.bin", false)
	require.NoError(t, err)

	payload := []byte("some file contents")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, e.FirstCluster, e.FileSize, false, payload, 0, uint(len(payload)))
	require.NoError(t, err)

	cache1.Elock(e)
	e.FirstCluster = firstClus
	e.FileSize = size
	cache1.Eunlock(e)

	require.NoError(t, cache1.Eput(e))

	cache2 := dirent.New(blk, geom, tab, cio, 4)
	found, err := cache2.LookupDir(cache2.Root(), "data.bin")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, size, found.FileSize)
	require.Equal(t, firstClus, found.FirstCluster)

	dst := make([]byte, len(payload))
	got, err := fileio.Read(geom, tab, cio, found.FirstCluster, found.FileSize, false, dst, 0, uint(len(payload)))
	require.NoError(t, err)
	require.Equal(t, uint(len(payload)), got)
	require.Equal(t, payload, dst)
}

func TestEtruncRemovesRecordAndFreesChain(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	root := cache.Root()

	e, err := cache.Ealloc(root, "throwaway.bin", false)
	require.NoError(t, err)

	payload := []byte("disposable contents")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, e.FirstCluster, e.FileSize, false, payload, 0, uint(len(payload)))
	require.NoError(t, err)

	cache.Elock(e)
	e.FirstCluster = firstClus
	e.FileSize = size
	cache.Eunlock(e)

	require.NoError(t, cache.Etrunc(e))
	require.False(t, e.Valid())

	next, err := tab.ReadFAT(firstClus)
	require.NoError(t, err)
	require.Zero(t, next)

	cache2 := dirent.New(blk, geom, tab, cio, 4)
	found, err := cache2.LookupDir(cache2.Root(), "throwaway.bin")
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestStatReportsDirectoryAndFileModes(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	root := cache.Root()

	f, err := cache.Ealloc(root, "readonly-ish.txt", false)
	require.NoError(t, err)
	fstat := cache.Stat(f)
	require.False(t, fstat.Mode.IsDir())

	d, err := cache.Ealloc(root, "adir", true)
	require.NoError(t, err)
	dstat := cache.Stat(d)
	require.True(t, dstat.Mode.IsDir())
}

func TestEdupIncrementsRefCount(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	e, err := cache.Ealloc(cache.Root(), "shared.txt", false)
	require.NoError(t, err)
	require.Equal(t, 1, e.RefCount())

	dup := cache.Edup(e)
	require.Same(t, e, dup)
	require.Equal(t, 2, e.RefCount())

	require.NoError(t, cache.Eput(dup))
	require.Equal(t, 1, e.RefCount())
}

func TestCheckIntegrityHoldsAfterOperations(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	root := cache.Root()

	a, err := cache.Ealloc(root, "a.txt", false)
	require.NoError(t, err)
	b, err := cache.Ealloc(root, "b.txt", false)
	require.NoError(t, err)

	payload := []byte("some bytes")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, a.FirstCluster, a.FileSize, false, payload, 0, uint(len(payload)))
	require.NoError(t, err)
	cache.Elock(a)
	a.FirstCluster = firstClus
	a.FileSize = size
	cache.Eunlock(a)

	// root, a, and b are all outstanding (root's own self-reference is
	// excluded from the live-holder count).
	require.NoError(t, cache.CheckIntegrity(2))

	require.NoError(t, cache.Eput(b))
	require.NoError(t, cache.CheckIntegrity(1))

	require.NoError(t, cache.Eput(a))
	require.NoError(t, cache.CheckIntegrity(0))
}

func TestCheckIntegrityDetectsRefCountMismatch(t *testing.T) {
	blk, geom, tab, cio := buildVolume(t, 10)

	cache := dirent.New(blk, geom, tab, cio, 4)
	_, err := cache.Ealloc(cache.Root(), "held.txt", false)
	require.NoError(t, err)

	err = cache.CheckIntegrity(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sum(ref_count)")
}
