package minidump

import (
	"encoding/binary"
	"sort"

	"github.com/skyrimdiag/dumptool/internal/model"
)

// MemoryView is the merged process-memory view built per spec §4.1's
// construction policy: Memory64 first, then MemoryList, then synthesized
// thread stacks.
type MemoryView struct {
	ranges []model.MemoryRange
}

// NewMemoryView builds a view, preferring Memory64List, then MemoryList,
// then falling back to synthesizing ranges from thread stacks.
func NewMemoryView(v *View, threads *ThreadIndex) *MemoryView {
	if rs, ok := memory64Ranges(v); ok && len(rs) > 0 {
		return newSortedView(rs)
	}
	if rs, ok := memoryListRanges(v); ok && len(rs) > 0 {
		return newSortedView(rs)
	}
	return newSortedView(synthesizeFromStacks(v, threads))
}

func newSortedView(rs []model.MemoryRange) *MemoryView {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	return &MemoryView{ranges: rs}
}

// memory64Ranges decodes the Memory64List stream. Per spec §4.1, if the
// stream exists but is internally inconsistent (declared count doesn't
// fit, or a computed cursor runs past the end of the file), the ranges are
// silently cleared and the caller falls through to MemoryList — this is
// the open question in spec §9 resolved in favor of matching the
// original behavior rather than surfacing MalformedStream.
func memory64Ranges(v *View) ([]model.MemoryRange, bool) {
	data, ok := v.FindStream(StreamMemory64List)
	if !ok || len(data) < 16 {
		return nil, false
	}
	count := binary.LittleEndian.Uint64(data[0:8])
	baseRVA := binary.LittleEndian.Uint64(data[8:16])

	const descSize = 16
	need := count * descSize
	if uint64(len(data)-16) < need {
		return nil, false
	}

	ranges := make([]model.MemoryRange, 0, count)
	cursor := baseRVA
	for i := uint64(0); i < count; i++ {
		off := 16 + i*descSize
		start := binary.LittleEndian.Uint64(data[off : off+8])
		size := binary.LittleEndian.Uint64(data[off+8 : off+16])
		if size == 0 {
			continue // zero-size ranges are skipped per spec §8
		}
		b, ok := v.raw(cursor, size)
		if !ok {
			return nil, false
		}
		ranges = append(ranges, model.MemoryRange{Start: start, End: start + size, Bytes: b})
		cursor += size
	}
	return ranges, true
}

func memoryListRanges(v *View) ([]model.MemoryRange, bool) {
	data, ok := v.FindStream(StreamMemoryList)
	if !ok || len(data) < 4 {
		return nil, false
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	const descSize = 16
	need := uint64(count) * descSize
	if uint64(len(data)-4) < need {
		return nil, false
	}

	ranges := make([]model.MemoryRange, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 4 + uint64(i)*descSize
		start := binary.LittleEndian.Uint64(data[off : off+8])
		size := binary.LittleEndian.Uint32(data[off+8 : off+12])
		rva := binary.LittleEndian.Uint32(data[off+12 : off+16])
		if size == 0 {
			continue
		}
		b, ok := v.raw(uint64(rva), uint64(size))
		if !ok {
			continue
		}
		ranges = append(ranges, model.MemoryRange{Start: start, End: start + uint64(size), Bytes: b})
	}
	return ranges, true
}

func synthesizeFromStacks(v *View, threads *ThreadIndex) []model.MemoryRange {
	if threads == nil {
		return nil
	}
	var ranges []model.MemoryRange
	for _, t := range threads.All() {
		b, base, ok := threads.StackBytes(t)
		if !ok || len(b) == 0 {
			continue
		}
		ranges = append(ranges, model.MemoryRange{Start: base, End: base + uint64(len(b)), Bytes: b})
	}
	return ranges
}

// Read finds the single containing range for [addr, addr+len) and
// copies up to the range end; it never stitches adjacent ranges, per
// spec §4.1.
func (mv *MemoryView) Read(addr uint64, length int) ([]byte, bool) {
	n := len(mv.ranges)
	idx := sort.Search(n, func(i int) bool { return mv.ranges[i].Start > addr })
	if idx == 0 {
		return nil, false
	}
	r := mv.ranges[idx-1]
	if addr < r.Start || addr >= r.End {
		return nil, false
	}
	avail := r.End - addr
	want := uint64(length)
	if want > avail {
		want = avail
	}
	off := addr - r.Start
	return r.Bytes[off : off+want], true
}

// Ranges exposes the sorted range list, primarily for tests.
func (mv *MemoryView) Ranges() []model.MemoryRange { return mv.ranges }
