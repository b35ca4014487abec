package minidump

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func memory64Builder(ranges [][2]uint64, data []byte) streamBuilder {
	return func(buf *bytes.Buffer) (uint32, uint32) {
		countBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(countBuf, uint64(len(ranges)))
		buf.Write(countBuf)
		baseRVABuf := make([]byte, 8)
		// base RVA is the absolute file offset where range bytes start:
		// header + this stream's own header bytes (8 count + 8 baseRVA) +
		// len(ranges)*16 descriptor bytes, computed by caller via patch below.
		buf.Write(baseRVABuf) // placeholder, patched after writing descriptors
		descStart := buf.Len()
		for _, r := range ranges {
			d := make([]byte, 16)
			binary.LittleEndian.PutUint64(d[0:8], r[0])
			binary.LittleEndian.PutUint64(d[8:16], r[1])
			buf.Write(d)
		}
		baseRVA := uint32(headerSize + buf.Len())
		out := buf.Bytes()
		binary.LittleEndian.PutUint32(out[descStart-8:descStart-4], baseRVA)
		buf.Write(data)
		return StreamMemory64List, 0
	}
}

func TestMemory64ViewReadPartial(t *testing.T) {
	payload := []byte("ABCDEFGHIJ") // 10 bytes for one range starting at VA 0x1000
	raw := buildTestDump(memory64Builder([][2]uint64{{0x1000, 10}}, payload))
	mf := mappedFromBytes(raw)
	v, err := Open(mf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mv := NewMemoryView(v, nil)
	b, ok := mv.Read(0x1000, 4)
	if !ok || string(b) != "ABCD" {
		t.Fatalf("Read(0x1000,4) = %q ok=%v", b, ok)
	}
	// Partial copy up to range end, never stitches.
	b, ok = mv.Read(0x1000+8, 10)
	if !ok || string(b) != "IJ" {
		t.Fatalf("Read at tail = %q ok=%v", b, ok)
	}
	if _, ok := mv.Read(0x2000, 1); ok {
		t.Fatalf("expected miss outside ranges")
	}
}
