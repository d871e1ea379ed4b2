package blockdev

import (
	"fmt"
	"sync"

	"github.com/boljen/go-bitmap"
)

// Cache is a whole-device block cache, keyed by (device id, sector number).
// The device id is always 0 for this single-volume driver; it's threaded
// through the API for future multi-device use.
//
// Every sector the driver has ever touched stays resident for the lifetime
// of the mount: there's no eviction policy here. LRU reclamation happens one
// layer up, in the directory-entry cache (package dirent).
type Cache struct {
	mu      sync.Mutex
	dev     Device
	loaded  bitmap.Bitmap
	data    []byte
	secSize uint
}

// NewCache wraps dev in a block cache.
func NewCache(dev Device) *Cache {
	count := int(dev.SectorCount())
	return &Cache{
		dev:     dev,
		loaded:  bitmap.New(count),
		data:    make([]byte, dev.SectorCount()*dev.SectorSize()),
		secSize: dev.SectorSize(),
	}
}

// SectorSize returns the size of one sector, in bytes.
func (c *Cache) SectorSize() uint { return c.secSize }

// Buf is a pinned view of a single cached sector, analogous to the kernel's
// struct buf. Callers must call Release when done with it.
type Buf struct {
	Dev    uint
	Sector uint32
	Data   []byte
	cache  *Cache
}

func (c *Cache) offset(sector uint32) (int, error) {
	start := int(sector) * int(c.secSize)
	if start+int(c.secSize) > len(c.data) {
		return 0, fmt.Errorf("blockdev: sector %d out of range", sector)
	}
	return start, nil
}

// Bread reads a sector into the cache (if it isn't already resident) and
// returns a pinned buffer over it. dev is preserved for API symmetry with a
// multi-device cache but is otherwise unused: this cache only ever addresses
// one device.
func (c *Cache) Bread(dev uint, sector uint32) (*Buf, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, err := c.offset(sector)
	if err != nil {
		return nil, err
	}

	if !c.loaded.Get(int(sector)) {
		if err := c.dev.ReadSector(sector, c.data[start:start+int(c.secSize)]); err != nil {
			return nil, err
		}
		c.loaded.Set(int(sector), true)
	}

	return &Buf{Dev: dev, Sector: sector, Data: c.data[start : start+int(c.secSize)], cache: c}, nil
}

// Bwrite flushes buf straight to the underlying device. There's no
// deferred write-back pass here: a Cache only ever lives for the lifetime of
// one Mount, and a second Mount of the same device opens an independent
// Cache with no memory of the first, so an unflushed dirty sector would be
// invisible to it. Writing through immediately is what makes a completed
// write durable across that boundary.
func (b *Buf) Bwrite() error {
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()

	return b.cache.dev.WriteSector(b.Sector, b.Data)
}

// Brelse releases the pinned buffer. This cache keeps whole-device data
// resident, so Brelse is a no-op placeholder kept for symmetry with the
// bread/bwrite/brelse triad callers expect.
func (b *Buf) Brelse() {}
