// Package bpb parses the FAT32 Boot Parameter Block and exposes the volume
// geometry constants derived from it. Grounded in dargueta/disko's
// drivers/fat/common.go (NewFATBootSectorFromStream), narrowed to FAT32
// only: no FAT12/16 support.
package bpb

import (
	"encoding/binary"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// EOC is the end-of-chain marker. Any FAT entry value at or above this
// terminates a cluster chain.
const EOC uint32 = 0x0FFFFFF8

// signatureOffset is the byte offset of the 5-byte ASCII string "FAT32" in
// the boot sector.
const signatureOffset = 82

const bootSectorSize = 512

// Geometry holds the immutable volume parameters read once at mount, plus
// the values derived from them. Once Parse succeeds these never change.
type Geometry struct {
	BytesPerSector      uint
	SectorsPerCluster   uint
	ReservedSectorCount uint
	FATCount            uint
	FATSizeSectors      uint
	TotalSectors        uint
	HiddenSectors       uint
	RootCluster         uint32

	FirstDataSector  uint
	DataClusterCount uint
	BytesPerCluster  uint
}

// Parse decodes a 512-byte boot sector (logical sector 0) into a Geometry.
// It fails if the FAT32 signature is missing; blockSize is the block-cache's
// sector size, which must match BytesPerSector or mount fails.
func Parse(sector []byte, blockSize uint) (*Geometry, error) {
	if len(sector) < bootSectorSize {
		return nil, fmt.Errorf("bpb: boot sector must be at least %d bytes, got %d", bootSectorSize, len(sector))
	}

	var errs *multierror.Error

	sig := sector[signatureOffset : signatureOffset+5]
	if string(sig) != "FAT32" {
		errs = multierror.Append(errs, fmt.Errorf("bpb: bad FAT32 signature: got %q", sig))
		return nil, errs
	}

	g := &Geometry{
		BytesPerSector:      uint(binary.LittleEndian.Uint16(sector[11:13])),
		SectorsPerCluster:   uint(sector[13]),
		ReservedSectorCount: uint(binary.LittleEndian.Uint16(sector[14:16])),
		FATCount:            uint(sector[16]),
		HiddenSectors:       uint(binary.LittleEndian.Uint32(sector[28:32])),
		TotalSectors:        uint(binary.LittleEndian.Uint32(sector[32:36])),
		FATSizeSectors:      uint(binary.LittleEndian.Uint32(sector[36:40])),
		RootCluster:         binary.LittleEndian.Uint32(sector[44:48]),
	}

	if g.BytesPerSector != blockSize {
		errs = multierror.Append(errs, fmt.Errorf(
			"bpb: bytes_per_sector (%d) does not match block cache sector size (%d)",
			g.BytesPerSector, blockSize))
	}
	if g.SectorsPerCluster == 0 {
		errs = multierror.Append(errs, fmt.Errorf("bpb: sectors_per_cluster must be nonzero"))
	}
	if g.FATCount == 0 {
		errs = multierror.Append(errs, fmt.Errorf("bpb: fat_count must be nonzero"))
	}
	if errs.ErrorOrNil() != nil {
		return nil, errs
	}

	g.FirstDataSector = g.ReservedSectorCount + g.FATCount*g.FATSizeSectors
	if g.TotalSectors < g.FirstDataSector {
		return nil, fmt.Errorf(
			"bpb: total_sectors (%d) is smaller than first_data_sector (%d)",
			g.TotalSectors, g.FirstDataSector)
	}
	g.DataClusterCount = (g.TotalSectors - g.FirstDataSector) / g.SectorsPerCluster
	g.BytesPerCluster = g.SectorsPerCluster * g.BytesPerSector

	return g, nil
}

// FirstSectorOfCluster maps a data cluster number (>= 2) to the absolute
// sector where its data begins.
func (g *Geometry) FirstSectorOfCluster(cluster uint32) uint32 {
	return uint32((uint(cluster)-2)*g.SectorsPerCluster) + uint32(g.FirstDataSector)
}

// FATSectorOfCluster returns the sector within the fatNum'th FAT (1-based)
// that holds cluster's 32-bit entry.
func (g *Geometry) FATSectorOfCluster(cluster uint32, fatNum uint) uint32 {
	return uint32(g.ReservedSectorCount) +
		uint32(uint(cluster)*4/g.BytesPerSector) +
		uint32(g.FATSizeSectors*(fatNum-1))
}

// FATOffsetOfCluster returns the byte offset within that sector of cluster's
// 32-bit entry.
func (g *Geometry) FATOffsetOfCluster(cluster uint32) uint32 {
	return (cluster * 4) % uint32(g.BytesPerSector)
}

// IsEndOfChain reports whether value is an end-of-chain marker.
func IsEndOfChain(value uint32) bool {
	return value >= EOC
}

// LastValidCluster is the highest valid data cluster number on this volume.
func (g *Geometry) LastValidCluster() uint32 {
	return uint32(g.DataClusterCount + 1)
}
