package stackwalk

import (
	"encoding/binary"
	"testing"

	"github.com/skyrimdiag/dumptool/internal/model"
)

// fakeStack builds a little-endian frame-pointer chain in a flat byte
// slice addressed starting at base, for exercising Walk without a real
// minidump memory view.
type fakeStack struct {
	base uint64
	data []byte
}

func (s fakeStack) read(addr uint64, length int) ([]byte, bool) {
	if addr < s.base || addr+uint64(length) > s.base+uint64(len(s.data)) {
		return nil, false
	}
	off := addr - s.base
	return s.data[off : off+uint64(length)], true
}

func TestWalkFollowsFramePointerChain(t *testing.T) {
	base := uint64(0x1000)
	data := make([]byte, 64)
	// Frame at base+0: saved fp = base+16, return addr = 0xAAAA
	binary.LittleEndian.PutUint64(data[0:8], base+16)
	binary.LittleEndian.PutUint64(data[8:16], 0xAAAA)
	// Frame at base+16: saved fp = 0 (terminate), return addr = 0xBBBB
	binary.LittleEndian.PutUint64(data[16:24], 0)
	binary.LittleEndian.PutUint64(data[24:32], 0xBBBB)

	stack := fakeStack{base: base, data: data}
	ctx := model.CPUContext{RIP: 0x9999, RSP: base - 8, RBP: base}

	frames := Walk(ctx, stack.read)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].PC != 0x9999 || frames[0].FP != base {
		t.Errorf("seed frame wrong: %+v", frames[0])
	}
	if frames[1].PC != 0xAAAA || frames[1].FP != base+16 {
		t.Errorf("second frame wrong: %+v", frames[1])
	}
	if frames[2].PC != 0xBBBB {
		t.Errorf("third frame wrong: %+v", frames[2])
	}
}

func TestWalkStopsOnUnreadableMemory(t *testing.T) {
	ctx := model.CPUContext{RIP: 0x500, RSP: 0x10, RBP: 0x20}
	read := func(addr uint64, length int) ([]byte, bool) { return nil, false }
	frames := Walk(ctx, read)
	if len(frames) != 1 {
		t.Fatalf("expected exactly the seed frame, got %d", len(frames))
	}
}

func TestWalkStopsOnZeroPC(t *testing.T) {
	ctx := model.CPUContext{RIP: 0, RSP: 0x10, RBP: 0x20}
	frames := Walk(ctx, func(uint64, int) ([]byte, bool) { return nil, false })
	if len(frames) != 0 {
		t.Fatalf("expected no frames for zero PC seed, got %d", len(frames))
	}
}

func TestWalkStopsOnCycle(t *testing.T) {
	base := uint64(0x2000)
	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], base) // points to itself
	binary.LittleEndian.PutUint64(data[8:16], 0x111)
	stack := fakeStack{base: base, data: data}
	ctx := model.CPUContext{RIP: 0x111, RSP: base - 8, RBP: base}

	frames := Walk(ctx, stack.read)
	if len(frames) != 1 {
		t.Fatalf("expected walk to detect no-progress loop after 1 frame, got %d", len(frames))
	}
}
