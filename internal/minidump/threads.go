package minidump

import (
	"encoding/binary"
	"fmt"

	"github.com/skyrimdiag/dumptool/internal/model"
)

const threadRecordSize = 48

// x64 CONTEXT register offsets (CONTEXT_AMD64 layout). Only the three
// registers the stack walker needs are decoded; everything else in the
// context blob is ignored, per spec §3.
const (
	ctxOffRSP = 0x98
	ctxOffRBP = 0xA0
	ctxOffRIP = 0xF8
	ctxMinLen = 0x100
)

// ThreadIndex is the decoded thread table (spec §4.3, L3).
type ThreadIndex struct {
	v       *View
	threads []model.Thread
}

// LoadThreads decodes the ThreadList stream. An absent stream yields an
// empty index.
func LoadThreads(v *View) (*ThreadIndex, error) {
	data, ok := v.FindStream(StreamThreadList)
	if !ok {
		return &ThreadIndex{v: v}, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: thread list truncated", ErrMalformedStream)
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	need := uint64(count) * threadRecordSize
	if uint64(len(data)-4) < need {
		return &ThreadIndex{v: v}, nil
	}

	threads := make([]model.Thread, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 4 + uint64(i)*threadRecordSize
		rec := data[off : off+threadRecordSize]
		tid := binary.LittleEndian.Uint32(rec[0:4])
		stackStart := binary.LittleEndian.Uint64(rec[16:24])
		stackDataSize := binary.LittleEndian.Uint32(rec[24:28])
		stackRVA := binary.LittleEndian.Uint32(rec[28:32])
		ctxDataSize := binary.LittleEndian.Uint32(rec[32:36])
		ctxRVA := binary.LittleEndian.Uint32(rec[36:40])

		threads = append(threads, model.Thread{
			TID:         tid,
			StackStart:  stackStart,
			StackSize:   uint64(stackDataSize),
			StackRVA:    stackRVA,
			ContextRVA:  ctxRVA,
			ContextSize: ctxDataSize,
		})
	}
	return &ThreadIndex{v: v, threads: threads}, nil
}

// All returns every decoded thread.
func (ti *ThreadIndex) All() []model.Thread { return ti.threads }

// ByTID returns the thread record matching tid, if any.
func (ti *ThreadIndex) ByTID(tid uint32) (model.Thread, bool) {
	for _, t := range ti.threads {
		if t.TID == tid {
			return t, true
		}
	}
	return model.Thread{}, false
}

// Context copies tid's CPU context into a fixed-size struct. Bytes
// outside the mapped context blob (or a context shorter than needed) are
// left zero-initialized rather than erroring, per spec §3.
func (ti *ThreadIndex) Context(t model.Thread) model.CPUContext {
	var ctx model.CPUContext
	blob, ok := ti.v.raw(uint64(t.ContextRVA), uint64(t.ContextSize))
	if !ok || len(blob) < ctxMinLen {
		return ctx
	}
	ctx.RSP = binary.LittleEndian.Uint64(blob[ctxOffRSP : ctxOffRSP+8])
	ctx.RBP = binary.LittleEndian.Uint64(blob[ctxOffRBP : ctxOffRBP+8])
	ctx.RIP = binary.LittleEndian.Uint64(blob[ctxOffRIP : ctxOffRIP+8])
	return ctx
}

// StackBytes returns a thread's raw stack bytes and its base address.
func (ti *ThreadIndex) StackBytes(t model.Thread) ([]byte, uint64, bool) {
	b, ok := ti.v.raw(uint64(t.StackRVA), t.StackSize)
	if !ok {
		return nil, 0, false
	}
	return b, t.StackStart, true
}
