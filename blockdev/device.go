// Package blockdev provides the block device and block-cache abstraction
// that the FAT32 driver is built on. Spec-wise these are the "external
// collaborators" (bread/bwrite/brelse over fixed-size sectors) that the
// driver consumes but never defines; this package supplies a concrete,
// swappable implementation so the driver is usable and testable standalone.
package blockdev

import (
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"
)

// Device is a fixed-size, sector-addressable block device. Sector numbers
// are absolute (0-based) and every sector is SectorSize() bytes.
type Device interface {
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
	SectorSize() uint
	SectorCount() uint
}

// seekDevice adapts any io.ReadWriteSeeker with a known, fixed geometry into
// a Device.
type seekDevice struct {
	stream     io.ReadWriteSeeker
	sectorSize uint
	sectors    uint
}

func newSeekDevice(stream io.ReadWriteSeeker, sectorSize uint, sectors uint) *seekDevice {
	return &seekDevice{stream: stream, sectorSize: sectorSize, sectors: sectors}
}

func (d *seekDevice) SectorSize() uint  { return d.sectorSize }
func (d *seekDevice) SectorCount() uint { return d.sectors }

func (d *seekDevice) checkBounds(sector uint32) error {
	if uint(sector) >= d.sectors {
		return fmt.Errorf("blockdev: sector %d out of range [0, %d)", sector, d.sectors)
	}
	return nil
}

func (d *seekDevice) ReadSector(sector uint32, dst []byte) error {
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if uint(len(dst)) != d.sectorSize {
		return fmt.Errorf("blockdev: destination buffer must be %d bytes, got %d", d.sectorSize, len(dst))
	}
	if _, err := d.stream.Seek(int64(sector)*int64(d.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.stream, dst)
	return err
}

func (d *seekDevice) WriteSector(sector uint32, src []byte) error {
	if err := d.checkBounds(sector); err != nil {
		return err
	}
	if uint(len(src)) != d.sectorSize {
		return fmt.Errorf("blockdev: source buffer must be %d bytes, got %d", d.sectorSize, len(src))
	}
	if _, err := d.stream.Seek(int64(sector)*int64(d.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := d.stream.Write(src)
	return err
}

// NewMemDevice creates an in-memory Device backed by image, a byte slice
// whose length must be an exact multiple of sectorSize. Writes mutate image
// in place.
func NewMemDevice(image []byte, sectorSize uint) (Device, error) {
	if sectorSize == 0 || uint(len(image))%sectorSize != 0 {
		return nil, fmt.Errorf(
			"blockdev: image size %d is not a multiple of sector size %d", len(image), sectorSize)
	}
	stream := bytesextra.NewReadWriteSeeker(image)
	return newSeekDevice(stream, sectorSize, uint(len(image))/sectorSize), nil
}

// NewFileDevice creates a Device backed by an open file or other
// io.ReadWriteSeeker whose size is known in advance, such as a block special
// file or a disk image opened with os.OpenFile.
func NewFileDevice(stream io.ReadWriteSeeker, sectorSize uint, sectorCount uint) Device {
	return newSeekDevice(stream, sectorSize, sectorCount)
}
