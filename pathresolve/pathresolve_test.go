package pathresolve_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
	"github.com/arrowfs/fat32/dirent"
	"github.com/arrowfs/fat32/pathresolve"
)

func buildVolume(t *testing.T, dataClusters uint) *dirent.Cache {
	t.Helper()

	const sectorSize = 512
	const reserved = 1
	const fatSize = 1
	total := reserved + fatSize + 1 + dataClusters

	boot := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(boot[11:13], sectorSize)
	boot[13] = 1
	binary.LittleEndian.PutUint16(boot[14:16], reserved)
	boot[16] = 1
	binary.LittleEndian.PutUint32(boot[32:36], uint32(total))
	binary.LittleEndian.PutUint32(boot[36:40], fatSize)
	binary.LittleEndian.PutUint32(boot[44:48], 2)
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

	return dirent.New(blk, geom, tab, cio, 16)
}

func TestGetEntryResolvesNestedPath(t *testing.T) {
	cache := buildVolume(t, 20)
	root := cache.Root()

	a, err := cache.Ealloc(root, "a", true)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(a))

	a2, err := cache.LookupDir(root, "a")
	require.NoError(t, err)
	require.NotNil(t, a2)

	b, err := cache.Ealloc(a2, "b", true)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(b))
	require.NoError(t, cache.Eput(a2))

	r := pathresolve.New(cache)
	found, err := r.GetEntry("/a/b", root, root)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.IsDir())
}

func TestGetEntryMissingComponentReturnsNil(t *testing.T) {
	cache := buildVolume(t, 20)
	root := cache.Root()

	r := pathresolve.New(cache)
	found, err := r.GetEntry("/nope/inner", root, root)
	require.ErrorIs(t, err, pathresolve.ErrNotFound)
	require.Nil(t, found)
}

func TestGetEntryNonDirectoryMidPathFails(t *testing.T) {
	cache := buildVolume(t, 20)
	root := cache.Root()

	f, err := cache.Ealloc(root, "leaf.txt", false)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(f))

	r := pathresolve.New(cache)
	found, err := r.GetEntry("/leaf.txt/more", root, root)
	require.ErrorIs(t, err, pathresolve.ErrNotADirectory)
	require.Nil(t, found)
}

func TestGetParentReturnsDirAndFinalName(t *testing.T) {
	cache := buildVolume(t, 20)
	root := cache.Root()

	a, err := cache.Ealloc(root, "a", true)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(a))

	a2, err := cache.LookupDir(root, "a")
	require.NoError(t, err)

	b, err := cache.Ealloc(a2, "b", true)
	require.NoError(t, err)
	require.NoError(t, cache.Eput(b))
	require.NoError(t, cache.Eput(a2))

	r := pathresolve.New(cache)
	parent, name, err := r.GetParent("/a/b/c", root, root)
	require.NoError(t, err)
	require.NotNil(t, parent)
	require.Equal(t, "c", name)
	require.True(t, parent.IsDir())
}

func TestGetEntryRootReturnsSentinel(t *testing.T) {
	cache := buildVolume(t, 20)
	root := cache.Root()

	r := pathresolve.New(cache)
	found, err := r.GetEntry("/", root, root)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, root.FirstCluster, found.FirstCluster)
}
