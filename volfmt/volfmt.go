// Package volfmt formats a blank FAT32 volume image: a minimal BPB, zeroed
// FAT tables, and an allocated, zeroed root directory cluster. It sits
// outside the driver's mount/read/write contract; it exists to build test
// fixtures and small images for the fat32mkvol CLI tool, grounded in
// dargueta-disko's file_systems/unixv1/format.go (the bytewriter-driven
// superblock writer) and disks/disks.go (the embedded CSV geometry
// registry).
package volfmt

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/noxer/bytewriter"

	"github.com/arrowfs/fat32/blockdev"
	"github.com/arrowfs/fat32/bpb"
	"github.com/arrowfs/fat32/clustertab"
)

// Preset is a named volume geometry, loaded from the embedded CSV registry.
// Mirrors disks.DiskGeometry's csv-tag-driven row shape.
type Preset struct {
	Name              string `csv:"name"`
	Slug              string `csv:"slug"`
	BytesPerSector    uint   `csv:"bytes_per_sector"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	ReservedSectors   uint   `csv:"reserved_sectors"`
	FATCount          uint   `csv:"fat_count"`
	TotalSectors      uint   `csv:"total_sectors"`
}

//go:embed presets.csv
var presetsRawCSV string

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)
	err := gocsv.UnmarshalToCallback(
		strings.NewReader(presetsRawCSV),
		func(row Preset) error {
			if _, exists := presets[row.Slug]; exists {
				return fmt.Errorf("volfmt: duplicate preset slug %q", row.Slug)
			}
			presets[row.Slug] = row
			return nil
		},
	)
	if err != nil {
		panic(fmt.Sprintf("volfmt: malformed embedded preset registry: %v", err))
	}
}

// GetPreset looks up a named volume geometry preset.
func GetPreset(slug string) (Preset, error) {
	p, ok := presets[slug]
	if !ok {
		return Preset{}, fmt.Errorf("volfmt: no preset with slug %q", slug)
	}
	return p, nil
}

// Presets returns every registered preset, for listing by the CLI.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	return out
}

// fatSizeSectors computes a FAT#1 size generous enough to cover every
// cluster the data region could hold, rounding up to a whole sector.
func fatSizeSectors(p Preset) uint {
	approxClusters := p.TotalSectors / p.SectorsPerCluster
	fatBytes := (approxClusters + 2) * 4
	return (fatBytes + p.BytesPerSector - 1) / p.BytesPerSector
}

// Format writes a fresh BPB, zeroed FAT tables, and an allocated root
// directory cluster into dev, following preset's geometry. Returns the
// parsed Geometry for immediate use (e.g. by a caller that wants to mount
// the freshly formatted image without a round trip through a real device).
func Format(dev blockdev.Device, preset Preset) (*bpb.Geometry, error) {
	if dev.SectorSize() != preset.BytesPerSector {
		return nil, fmt.Errorf(
			"volfmt: device sector size %d does not match preset %q's %d",
			dev.SectorSize(), preset.Slug, preset.BytesPerSector)
	}

	fatSize := fatSizeSectors(preset)
	boot := make([]byte, preset.BytesPerSector)

	writer := bytewriter.New(boot)
	writer.Write(make([]byte, 11)) // BS_jmpBoot + OEM name, unused by this driver
	binary.Write(writer, binary.LittleEndian, uint16(preset.BytesPerSector))
	writer.Write([]byte{byte(preset.SectorsPerCluster)})
	binary.Write(writer, binary.LittleEndian, uint16(preset.ReservedSectors))
	writer.Write([]byte{byte(preset.FATCount)})
	writer.Write(make([]byte, 11)) // root-entry-count, total-sectors-16, media, fat-size-16, sectors-per-track, heads
	binary.Write(writer, binary.LittleEndian, uint32(0)) // hidden sectors
	binary.Write(writer, binary.LittleEndian, uint32(preset.TotalSectors))
	binary.Write(writer, binary.LittleEndian, uint32(fatSize))
	writer.Write(make([]byte, 4)) // ext flags + fs version
	binary.Write(writer, binary.LittleEndian, uint32(2)) // root cluster

	copy(boot[82:87], "FAT32")

	if err := dev.WriteSector(0, boot); err != nil {
		return nil, fmt.Errorf("volfmt: writing boot sector: %w", err)
	}

	geom, err := bpb.Parse(boot, dev.SectorSize())
	if err != nil {
		return nil, fmt.Errorf("volfmt: formatted boot sector failed to parse: %w", err)
	}

	blk := blockdev.NewCache(dev)
	zeroSector := make([]byte, preset.BytesPerSector)
	for fatNum := uint(1); fatNum <= preset.FATCount; fatNum++ {
		base := geom.ReservedSectorCount + (fatNum-1)*fatSize
		for i := uint(0); i < fatSize; i++ {
			if err := dev.WriteSector(uint32(base+i), zeroSector); err != nil {
				return nil, fmt.Errorf("volfmt: zeroing FAT#%d: %w", fatNum, err)
			}
		}
	}

	tab := clustertab.New(blk, geom)
	if err := tab.WriteFAT(geom.RootCluster, bpb.EOC+7); err != nil {
		return nil, fmt.Errorf("volfmt: marking root cluster allocated: %w", err)
	}
	if err := tab.ZeroCluster(geom.RootCluster); err != nil {
		return nil, fmt.Errorf("volfmt: zeroing root cluster: %w", err)
	}

	return geom, nil
}
