package dirent

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/arrowfs/fat32/bpb"
)

// ucs2LE is the UCS-2 little-endian codec used to decode the raw on-disk
// long-filename byte runs into Go strings. Grounded in soypat-fat's go.mod
// (golang.org/x/text is declared there for exactly this FAT-adjacent
// UCS-2 domain, though never actually wired up in that repo's visible
// code); this package gives it real work: reconstructing a full long name
// from its LFN chain during directory listing, where — unlike lookupDir's
// chunk-wise comparison against an already-known target — there is no
// target name to compare against, so the raw bytes must be decoded to text.
var ucs2LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// DirListEntry is one decoded row of a directory listing: a supplemented
// feature built from the same record shape lookupDir already understands,
// since the original decoder only exposes lookup-by-name.
type DirListEntry struct {
	Name         string
	Attribute    uint8
	FirstCluster uint32
	FileSize     uint
}

// ListDir walks dir's data clusters from the beginning, reconstructing every
// LFN+SFN record into a DirListEntry. Deleted slots are skipped; the scan
// stops at the end-of-directory marker.
func (c *Cache) ListDir(dir *Entry) ([]DirListEntry, error) {
	if !dir.IsDir() {
		return nil, nil
	}

	bpc := c.geom.BytesPerCluster
	bps := c.geom.BytesPerSector

	cluster := dir.FirstCluster
	coff := uint(0)

	var pending [][charLongName]uint16 // indexed by (count-1), collected out of order
	var pendingMax int
	resetPending := func() {
		pending = nil
		pendingMax = 0
	}

	var out []DirListEntry

	for !bpb.IsEndOfChain(cluster) && cluster != 0 {
		if coff >= bpc {
			next, err := c.tab.ReadFAT(cluster)
			if err != nil {
				return nil, err
			}
			cluster = next
			coff = 0
			continue
		}

		sec := c.geom.FirstSectorOfCluster(cluster) + uint32(coff/bps)
		buf, err := c.blk.Bread(0, sec)
		if err != nil {
			return nil, err
		}
		secOff := coff % bps
		raw := buf.Data[secOff : secOff+32]

		switch raw[0] {
		case emptyEntryByte:
			buf.Brelse()
			coff += dirRecordSize
			continue
		case endOfEntryByte:
			buf.Brelse()
			return out, nil
		}

		if entryIsLFN(raw) {
			count := int(lfnCount(raw))
			if lfnIsLast(raw) {
				pending = make([][charLongName]uint16, count)
				pendingMax = count
			}
			if count >= 1 && count <= pendingMax && pending != nil {
				pending[count-1] = extractLFNChunk(raw)
			}
			buf.Brelse()
			coff += dirRecordSize
			continue
		}

		// SFN record: terminates whatever LFN chain (if any) preceded it.
		var name string
		if pendingMax > 0 && pending != nil {
			name = decodeLongName(pending)
		} else {
			name = decodeSFNName(raw)
		}

		entry := DirListEntry{Name: name}
		readEntryInfoListing(&entry, raw)
		out = append(out, entry)

		buf.Brelse()
		resetPending()
		coff += dirRecordSize
	}

	return out, nil
}

func readEntryInfoListing(e *DirListEntry, raw []byte) {
	e.Attribute = raw[11]
	hi := binary.LittleEndian.Uint16(raw[20:22])
	lo := binary.LittleEndian.Uint16(raw[26:28])
	e.FirstCluster = (uint32(hi) << 16) | uint32(lo)
	e.FileSize = uint(binary.LittleEndian.Uint32(raw[28:32]))
}

// decodeLongName concatenates the LFN chunks in order, strips the 0x0000
// terminator and 0xFFFF padding buildLFNChunks writes, and decodes the
// resulting UCS-2LE byte run into a UTF-8 string via x/text.
func decodeLongName(chunks [][charLongName]uint16) string {
	units := make([]uint16, 0, len(chunks)*charLongName)
loop:
	for _, chunk := range chunks {
		for _, u := range chunk {
			switch u {
			case 0x0000:
				break loop
			case 0xFFFF:
				continue
			default:
				units = append(units, u)
			}
		}
	}

	raw := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(raw[i*2:], u)
	}
	decoded, _, err := transform.Bytes(ucs2LE.NewDecoder(), raw)
	if err != nil {
		return ""
	}
	return string(decoded)
}
