package minidump

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// buildTestDump assembles a minimal, valid minidump byte buffer with a
// header, a directory, and whichever stream builders are supplied. Each
// builder appends its body to buf and returns its stream type;
// buildTestDump measures the body size from buf itself.
type streamBuilder func(buf *bytes.Buffer) (streamType uint32, size uint32)

func buildTestDump(builders ...streamBuilder) []byte {
	var body bytes.Buffer
	type dirEnt struct {
		streamType, size, rva uint32
	}
	var dirEntries []dirEnt

	// First pass: lay out stream bodies right after the header.
	bodyOff := uint32(headerSize)
	for _, b := range builders {
		before := body.Len()
		st, _ := b(&body)
		size := uint32(body.Len() - before)
		dirEntries = append(dirEntries, dirEnt{streamType: st, size: size, rva: bodyOff + uint32(before)})
	}

	dirRVA := bodyOff + uint32(body.Len())

	var out bytes.Buffer
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], signature)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(dirEntries)))
	binary.LittleEndian.PutUint32(hdr[12:16], dirRVA)
	out.Write(hdr)
	out.Write(body.Bytes())
	for _, d := range dirEntries {
		e := make([]byte, directoryEntrySize)
		binary.LittleEndian.PutUint32(e[0:4], d.streamType)
		binary.LittleEndian.PutUint32(e[4:8], d.size)
		binary.LittleEndian.PutUint32(e[8:12], d.rva)
		out.Write(e)
	}
	return out.Bytes()
}

func mappedFromBytes(data []byte) *MappedFile {
	return &MappedFile{data: data}
}

func putUTF16String(buf *bytes.Buffer, s string) uint32 {
	rva := uint32(buf.Len())
	units := utf16.Encode([]rune(s))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(units)*2))
	buf.Write(lenBuf)
	for _, u := range units {
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, u)
		buf.Write(b)
	}
	return rva
}

// moduleListBuilder returns a streamBuilder writing a ModuleList stream.
// Name strings are written into a side buffer immediately before the
// module records so RVAs stay consistent.
func moduleListBuilder(mods []struct {
	base, size uint64
	name       string
}) streamBuilder {
	return func(buf *bytes.Buffer) (uint32, uint32) {
		// We need absolute RVAs for module name strings, but this builder
		// only knows the offset within its own body, not the stream's
		// final file RVA. buildTestDump always starts stream bodies right
		// after the header and concatenates sequentially with no gaps, so
		// the absolute RVA of a byte at position p within *this* stream's
		// body equals headerSize + (bytes written before this stream) + p.
		// Callers therefore pass pre-encoded absolute RVAs in practice; for
		// this test helper we instead write names inline right after the
		// fixed module table and compute offsets within the same buffer,
		// then patch them since buf already contains prior streams' bytes.
		tableStart := buf.Len()
		countBuf := make([]byte, 4)
		binary.LittleEndian.PutUint32(countBuf, uint32(len(mods)))
		buf.Write(countBuf)
		recStart := buf.Len()
		buf.Write(make([]byte, len(mods)*moduleRecordSize))

		namesStart := buf.Len()
		nameRVAs := make([]uint32, len(mods))
		for i, m := range mods {
			nameRVAs[i] = uint32(headerSize + buf.Len())
			units := utf16.Encode([]rune(m.name))
			lenBuf := make([]byte, 4)
			binary.LittleEndian.PutUint32(lenBuf, uint32(len(units)*2))
			buf.Write(lenBuf)
			for _, u := range units {
				b := make([]byte, 2)
				binary.LittleEndian.PutUint16(b, u)
				buf.Write(b)
			}
		}
		_ = namesStart

		out := buf.Bytes()
		for i, m := range mods {
			off := recStart + i*moduleRecordSize
			binary.LittleEndian.PutUint64(out[off:off+8], m.base)
			binary.LittleEndian.PutUint32(out[off+8:off+12], uint32(m.size))
			binary.LittleEndian.PutUint32(out[off+20:off+24], nameRVAs[i])
		}
		_ = tableStart
		return StreamModuleList, 0
	}
}
