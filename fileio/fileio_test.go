package fileio_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
	"github.com/arrowfs/fat32/clusterio"
	"github.com/arrowfs/fat32/fileio"
)

// buildImage constructs a tiny FAT32 volume image: one reserved sector, one
// FAT sector (128 entries, plenty for these tests), dataClusters clusters of
// one sector each.
func buildImage(t *testing.T, dataClusters uint) (*bpb.Geometry, *clustertab.Table, *clusterio.IO) {
	t.Helper()

	const sectorSize = 512
	const reserved = 1
	const fatSize = 1
	total := reserved + fatSize + dataClusters

	boot := make([]byte, sectorSize)
	binary.LittleEndian.PutUint16(boot[11:13], sectorSize)
	boot[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(boot[14:16], reserved)
	boot[16] = 1 // fat count
	binary.LittleEndian.PutUint32(boot[28:32], 0)
	binary.LittleEndian.PutUint32(boot[32:36], uint32(total))
	binary.LittleEndian.PutUint32(boot[36:40], fatSize)
	binary.LittleEndian.PutUint32(boot[44:48], 2)
	copy(boot[82:87], "FAT32")

	image := make([]byte, uint(total)*sectorSize)
	copy(image[:sectorSize], boot)

	dev, err := blockdev.NewMemDevice(image, sectorSize)
	require.NoError(t, err)
	cache := blockdev.NewCache(dev)

	geom, err := bpb.Parse(image[:sectorSize], sectorSize)
	require.NoError(t, err)

	tab := clustertab.New(cache, geom)
	cio := clusterio.New(cache, geom)
	return geom, tab, cio
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)

	data := []byte("hello world")
	transferred, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, data, 0, uint(len(data)))
	require.NoError(t, err)
	require.Equal(t, uint(len(data)), transferred)
	require.Equal(t, uint(len(data)), size)
	require.NotZero(t, firstClus)
	require.GreaterOrEqual(t, firstClus, uint32(2))

	dst := make([]byte, len(data))
	got, err := fileio.Read(geom, tab, cio, firstClus, size, false, dst, 0, uint(len(data)))
	require.NoError(t, err)
	require.Equal(t, uint(len(data)), got)
	require.Equal(t, data, dst)
}

func TestWriteExtendsAcrossClusterBoundary(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)
	require.EqualValues(t, 512, geom.BytesPerCluster)

	data := make([]byte, 600)
	for i := range data {
		data[i] = byte(i)
	}

	transferred, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, data, 0, uint(len(data)))
	require.NoError(t, err)
	require.Equal(t, uint(600), transferred)
	require.Equal(t, uint(600), size)

	next, err := tab.ReadFAT(firstClus)
	require.NoError(t, err)
	require.False(t, bpb.IsEndOfChain(next))
	require.NotZero(t, next)

	afterNext, err := tab.ReadFAT(next)
	require.NoError(t, err)
	require.True(t, bpb.IsEndOfChain(afterNext))

	dst := make([]byte, 600)
	got, err := fileio.Read(geom, tab, cio, firstClus, size, false, dst, 0, 600)
	require.NoError(t, err)
	require.Equal(t, uint(600), got)
	require.Equal(t, data, dst)
}

func TestReadClampsToFileSize(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)

	data := []byte("short file")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, data, 0, uint(len(data)))
	require.NoError(t, err)

	dst := make([]byte, 100)
	got, err := fileio.Read(geom, tab, cio, firstClus, size, false, dst, 0, 100)
	require.NoError(t, err)
	require.Equal(t, uint(len(data)), got)
}

func TestReadAtOrPastEOFReturnsZero(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)

	data := []byte("abc")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, data, 0, uint(len(data)))
	require.NoError(t, err)

	dst := make([]byte, 10)
	got, err := fileio.Read(geom, tab, cio, firstClus, size, false, dst, size, 10)
	require.NoError(t, err)
	require.Zero(t, got)

	got, err = fileio.Read(geom, tab, cio, firstClus, size, false, dst, size+5, 10)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestWriteRejectsOffsetPastFileSize(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)

	transferred, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, []byte("x"), 5, 1)
	require.ErrorIs(t, err, fileio.ErrOutOfRange)
	require.Zero(t, transferred)
	require.Zero(t, firstClus)
	require.Zero(t, size)
}

func TestWriteAppendAtExactFileSizeExtends(t *testing.T) {
	geom, tab, cio := buildImage(t, 10)

	data := []byte("abc")
	_, firstClus, size, err := fileio.Write(geom, tab, cio, 0, 0, false, data, 0, uint(len(data)))
	require.NoError(t, err)

	more := []byte("def")
	transferred, firstClus2, size2, err := fileio.Write(geom, tab, cio, firstClus, size, false, more, size, uint(len(more)))
	require.NoError(t, err)
	require.Equal(t, uint(len(more)), transferred)
	require.Equal(t, firstClus, firstClus2)
	require.Equal(t, uint(6), size2)

	dst := make([]byte, 6)
	got, err := fileio.Read(geom, tab, cio, firstClus2, size2, false, dst, 0, 6)
	require.NoError(t, err)
	require.Equal(t, uint(6), got)
	require.Equal(t, []byte("abcdef"), dst)
}
