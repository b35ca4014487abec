package minidump

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Stream type numbers recognized by the engine. Values match the
// platform minidump format (spec §6); the two custom user-stream numbers
// are reserved above the platform's reserved range (0xffff).
const (
	StreamThreadList    = 3
	StreamModuleList    = 4
	StreamMemoryList    = 5
	StreamException     = 6
	StreamMemory64List  = 9

	StreamBlackboxSnapshot = 0x47000
	StreamWaitChainDoc     = 0x47001
)

const signature = 0x504d444d // "MDMP"

const (
	headerSize    = 32
	directoryEntrySize = 12
)

type directoryEntry struct {
	streamType uint32
	dataSize   uint32
	rva        uint32
}

// View parses a mapped minidump's header and stream directory. All
// further reads are bounds-checked against the mapped file's size.
type View struct {
	mf         *MappedFile
	streamDir  map[uint32]directoryEntry
}

// Open validates the signature and stream directory and returns a View.
// Per spec §4.1, a signature mismatch or an out-of-bounds directory is
// fatal (ErrMalformedDump); an individual stream failing its own bounds
// check is detected lazily by FindStream, which then reports the stream
// as absent.
func Open(mf *MappedFile) (*View, error) {
	hdr, ok := mf.slice(0, headerSize)
	if !ok {
		return nil, fmt.Errorf("%w: file smaller than header", ErrMalformedDump)
	}
	sig := binary.LittleEndian.Uint32(hdr[0:4])
	if sig != signature {
		return nil, fmt.Errorf("%w: bad signature", ErrMalformedDump)
	}
	streamCount := binary.LittleEndian.Uint32(hdr[8:12])
	dirRVA := binary.LittleEndian.Uint32(hdr[12:16])

	const maxStreams = 1 << 20 // sanity cap; real dumps have a handful
	if streamCount > maxStreams {
		return nil, fmt.Errorf("%w: implausible stream count %d", ErrMalformedDump, streamCount)
	}

	dirSize := uint64(streamCount) * directoryEntrySize
	dirBytes, ok := mf.slice(uint64(dirRVA), dirSize)
	if !ok {
		return nil, fmt.Errorf("%w: directory out of bounds", ErrMalformedDump)
	}

	dir := make(map[uint32]directoryEntry, streamCount)
	for i := uint32(0); i < streamCount; i++ {
		off := uint64(i) * directoryEntrySize
		e := directoryEntry{
			streamType: binary.LittleEndian.Uint32(dirBytes[off : off+4]),
			dataSize:   binary.LittleEndian.Uint32(dirBytes[off+4 : off+8]),
			rva:        binary.LittleEndian.Uint32(dirBytes[off+8 : off+12]),
		}
		// Last entry of a given type wins, matching directory scan order.
		dir[e.streamType] = e
	}

	return &View{mf: mf, streamDir: dir}, nil
}

// FindStream returns the bytes for a stream of the given type, or false
// if absent or out of bounds. N is small (a few dozen directory
// entries), so the map built in Open keeps per-call lookup O(1); the
// directory itself was already scanned in O(N) at Open time as spec §4.1
// specifies.
func (v *View) FindStream(streamType uint32) ([]byte, bool) {
	e, ok := v.streamDir[streamType]
	if !ok {
		return nil, false
	}
	b, ok := v.mf.slice(uint64(e.rva), uint64(e.dataSize))
	return b, ok
}

// ReadSizedStringUTF16 reads a 32-bit byte-length-prefixed UTF-16LE
// string at the given RVA. Returns false when the length is odd, the
// read would go out of bounds, or rva itself is unmapped.
func (v *View) ReadSizedStringUTF16(rva uint32) (string, bool) {
	lenBytes, ok := v.mf.slice(uint64(rva), 4)
	if !ok {
		return "", false
	}
	byteLen := binary.LittleEndian.Uint32(lenBytes)
	if byteLen%2 != 0 {
		return "", false
	}
	body, ok := v.mf.slice(uint64(rva)+4, uint64(byteLen))
	if !ok {
		return "", false
	}
	units := make([]uint16, byteLen/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(body[i*2 : i*2+2])
	}
	return string(utf16.Decode(units)), true
}

// Size returns the mapped dump's total byte size.
func (v *View) Size() uint64 { return v.mf.Size() }

// raw exposes the bounds-checked slice helper to sibling files in this
// package (threads.go, memoryview.go).
func (v *View) raw(off, size uint64) ([]byte, bool) {
	return v.mf.slice(off, size)
}
