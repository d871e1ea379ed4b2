package volfmt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/volfmt"
)

func TestGetPresetKnownSlug(t *testing.T) {
	p, err := volfmt.GetPreset("floppy-1440")
	require.NoError(t, err)
	require.Equal(t, uint(512), p.BytesPerSector)
	require.Equal(t, uint(2880), p.TotalSectors)
}

func TestGetPresetUnknownSlug(t *testing.T) {
	_, err := volfmt.GetPreset("does-not-exist")
	require.Error(t, err)
}

func TestPresetsNonEmpty(t *testing.T) {
	all := volfmt.Presets()
	require.NotEmpty(t, all)
}

func TestFormatProducesMountableGeometry(t *testing.T) {
	preset, err := volfmt.GetPreset("floppy-1440")
	require.NoError(t, err)

	image := make([]byte, preset.TotalSectors*preset.BytesPerSector)
	dev, err := blockdev.NewMemDevice(image, preset.BytesPerSector)
	require.NoError(t, err)

	geom, err := volfmt.Format(dev, preset)
	require.NoError(t, err)
	require.EqualValues(t, preset.BytesPerSector, geom.BytesPerSector)
	require.EqualValues(t, preset.SectorsPerCluster, geom.SectorsPerCluster)
	require.EqualValues(t, 2, geom.RootCluster)
	require.NotZero(t, geom.DataClusterCount)
}

func TestFormatRejectsMismatchedSectorSize(t *testing.T) {
	preset, err := volfmt.GetPreset("floppy-1440")
	require.NoError(t, err)

	image := make([]byte, preset.TotalSectors*1024)
	dev, err := blockdev.NewMemDevice(image, 1024)
	require.NoError(t, err)

	_, err = volfmt.Format(dev, preset)
	require.Error(t, err)
}
