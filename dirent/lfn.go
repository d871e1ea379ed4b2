package dirent

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Directory-entry byte-0 sentinels and LFN bit layout, matching the FAT32
// on-disk format and original_source's lookup_dir and read_entry_name.
const (
	emptyEntryByte    byte  = 0xE5
	endOfEntryByte    byte  = 0x00
	lastLongEntryBit  uint8 = 0x40
	charLongName      int   = 13
	dirRecordSize     uint  = 32
)

// entCount returns the number of 13-char LFN records needed to hold a name
// of the given length in UTF-16 code units: entcnt = ceil(len/13).
func entCount(wideLen int) int {
	return (wideLen + charLongName - 1) / charLongName
}

// buildLFNChunks splits a UTF-16 name into entcnt chunks of 13 code units
// each, in left-to-right order (chunks[0] holds characters 0..12, matching
// the "count" field of 1 in the on-disk LFN chain). Per the standard FAT32
// LFN convention — which original_source's ealloc never implements, since it
// never actually writes an on-disk directory record — a short final chunk
// is terminated with a 0x0000 code unit and padded with 0xFFFF filler.
// Comparison is defined as chunk-wise equality over this padded
// representation, not C-string truncated comparison.
func buildLFNChunks(wide []uint16, entcnt int) [][charLongName]uint16 {
	chunks := make([][charLongName]uint16, entcnt)
	for i := 0; i < entcnt; i++ {
		start := i * charLongName
		var chunk [charLongName]uint16
		n := 0
		for n < charLongName && start+n < len(wide) {
			chunk[n] = wide[start+n]
			n++
		}
		if n < charLongName {
			chunk[n] = 0x0000
			for k := n + 1; k < charLongName; k++ {
				chunk[k] = 0xFFFF
			}
		}
		chunks[i] = chunk
	}
	return chunks
}

// extractLFNChunk pulls the 13 UCS-2LE code units out of a raw 32-byte LFN
// record, at byte offsets 1..10, 14..25, 28..31.
func extractLFNChunk(raw []byte) [charLongName]uint16 {
	var chunk [charLongName]uint16
	chunk[0] = binary.LittleEndian.Uint16(raw[1:3])
	chunk[1] = binary.LittleEndian.Uint16(raw[3:5])
	chunk[2] = binary.LittleEndian.Uint16(raw[5:7])
	chunk[3] = binary.LittleEndian.Uint16(raw[7:9])
	chunk[4] = binary.LittleEndian.Uint16(raw[9:11])
	chunk[5] = binary.LittleEndian.Uint16(raw[14:16])
	chunk[6] = binary.LittleEndian.Uint16(raw[16:18])
	chunk[7] = binary.LittleEndian.Uint16(raw[18:20])
	chunk[8] = binary.LittleEndian.Uint16(raw[20:22])
	chunk[9] = binary.LittleEndian.Uint16(raw[22:24])
	chunk[10] = binary.LittleEndian.Uint16(raw[24:26])
	chunk[11] = binary.LittleEndian.Uint16(raw[28:30])
	chunk[12] = binary.LittleEndian.Uint16(raw[30:32])
	return chunk
}

// encodeLFNRecord builds one raw 32-byte LFN directory record.
func encodeLFNRecord(ordinal uint8, chunk [charLongName]uint16) [32]byte {
	var raw [32]byte
	raw[0] = ordinal
	binary.LittleEndian.PutUint16(raw[1:3], chunk[0])
	binary.LittleEndian.PutUint16(raw[3:5], chunk[1])
	binary.LittleEndian.PutUint16(raw[5:7], chunk[2])
	binary.LittleEndian.PutUint16(raw[7:9], chunk[3])
	binary.LittleEndian.PutUint16(raw[9:11], chunk[4])
	raw[11] = AttrLongName
	raw[12] = 0
	raw[13] = 0 // checksum: not computed; lookups never match on the SFN
	binary.LittleEndian.PutUint16(raw[14:16], chunk[5])
	binary.LittleEndian.PutUint16(raw[16:18], chunk[6])
	binary.LittleEndian.PutUint16(raw[18:20], chunk[7])
	binary.LittleEndian.PutUint16(raw[20:22], chunk[8])
	binary.LittleEndian.PutUint16(raw[22:24], chunk[9])
	binary.LittleEndian.PutUint16(raw[24:26], chunk[10])
	binary.LittleEndian.PutUint16(raw[26:28], 0)
	binary.LittleEndian.PutUint16(raw[28:30], chunk[11])
	binary.LittleEndian.PutUint16(raw[30:32], chunk[12])
	return raw
}

// encodeSFNRecord builds the raw 32-byte short-name record that terminates
// an LFN chain: attribute at 11, first cluster split across 20:22 hi /
// 26:28 lo, size at 28:32.
func encodeSFNRecord(shortName [11]byte, attr uint8, firstCluster uint32, fileSize uint32) [32]byte {
	var raw [32]byte
	copy(raw[0:11], shortName[:])
	raw[11] = attr
	binary.LittleEndian.PutUint16(raw[20:22], uint16(firstCluster>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(firstCluster&0xFFFF))
	binary.LittleEndian.PutUint32(raw[28:32], fileSize)
	return raw
}

// readEntryInfo populates e's on-disk payload fields from a raw SFN
// record.
func readEntryInfo(e *Entry, raw []byte) {
	e.Attribute = raw[11]
	hi := binary.LittleEndian.Uint16(raw[20:22])
	lo := binary.LittleEndian.Uint16(raw[26:28])
	e.FirstCluster = (uint32(hi) << 16) | uint32(lo)
	e.FileSize = uint(binary.LittleEndian.Uint32(raw[28:32]))
}

// decodeSFNName reconstructs the "8.3" textual name from a raw short-name
// record: trim trailing spaces from the 8-byte base, and if the 3-byte
// extension isn't all spaces, append a '.' plus the trimmed extension.
// Grounded in original_source's read_entry_name non-long branch.
func decodeSFNName(raw []byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// shortNameField synthesizes a structurally valid (uppercase, FAT-legal)
// 8.3 name for the SFN record that always trails an LFN chain in this
// driver. Its content is never matched against: every name goes through the
// LFN path, so the SFN text only needs to keep the directory structurally
// valid for tools that don't understand LFNs. offset disambiguates
// same-stem names with a classic FAT tilde suffix.
func shortNameField(name string, offset uint) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}

	base, ext := name, ""
	if idx := strings.LastIndexByte(name, '.'); idx > 0 {
		base, ext = name[:idx], name[idx+1:]
	}
	base = sanitizeSFNChars(base)
	ext = sanitizeSFNChars(ext)
	if len(base) > 6 {
		base = base[:6]
	}
	if base == "" {
		base = "FILE"
	}

	tag := fmt.Sprintf("~%d", (offset/dirRecordSize)%10)
	copy(out[0:], base)
	copy(out[len(base):], tag)

	if len(ext) > 3 {
		ext = ext[:3]
	}
	copy(out[8:], ext)
	return out
}

func sanitizeSFNChars(s string) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func entryIsLFN(raw []byte) bool {
	return raw[11] == AttrLongName
}

func lfnCount(raw []byte) uint8 {
	return raw[0] &^ lastLongEntryBit
}

func lfnIsLast(raw []byte) bool {
	return raw[0]&lastLongEntryBit != 0
}

// wideName converts a filename to its UTF-16 code-unit sequence, the unit
// of comparison for LFN matching. The name is decoded as UTF-8 and each
// rune encoded as UTF-16 (a surrogate pair above U+FFFF); bytes that are not
// valid UTF-8 become U+FFFD.
func wideName(name string) []uint16 {
	return utf16.Encode([]rune(name))
}
