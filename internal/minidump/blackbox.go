package minidump

import (
	"encoding/binary"

	"github.com/skyrimdiag/dumptool/internal/model"
)

// Blackbox snapshot wire format.
//
// The live in-process ring (shared memory, out of scope per spec §1) is
// owned by the capture helper; what this engine decodes is the
// point-in-time snapshot the helper copies into the dump's custom user
// stream at capture time. The snapshot keeps the same seqlock discipline
// (an even, stable sequence number per entry) and field set the spec
// calls for (index, t_ms, tid, type, four u64 payload slots) without
// committing to the helper's live memory layout.
//
// header: magic(4) version(4) pid(4) eventCapacity(4) eventWriteIndex(4)
// events:  eventCapacity * eventRecord
// resHeader: resWriteIndex(4) resCapacity(4)
// entries: resCapacity * resourceRecord
const (
	bbHeaderSize     = 20
	bbEventSize      = 56 // seq4 tid4 qpc8 type2 size2 reserved4 payload(4x8)
	bbResHeaderSize  = 8
	bbResEntrySize   = 284 // seq4 tid4 qpc8 pathHash8 path[260]
	bbResPathMaxLen  = 260
	bbMaxKeptResources = 80
)

// Known event types; anything else is invalid per spec §3.
var validEventTypes = map[uint16]string{
	1:   "SessionStart",
	2:   "Heartbeat",
	10:  "MenuOpen",
	11:  "MenuClose",
	20:  "LoadStart",
	21:  "LoadEnd",
	30:  "CellChange",
	40:  "Note",
	50:  "PerfHitch",
	100: "Crash",
	200: "HangMark",
}

// DecodeBlackbox decodes the blackbox user stream's event ring and the
// trailing resource log. A structural problem degrades to "absent"
// rather than failing the pass, per spec §7's MalformedStream policy: a
// bad header or event ring leaves both return values empty, while a
// truncated resource log still returns the decoded events with no
// resources.
func DecodeBlackbox(v *View) (events []model.BlackboxEvent, resources []model.ResourceLogEntry) {
	data, ok := v.FindStream(StreamBlackboxSnapshot)
	if !ok || len(data) < bbHeaderSize {
		return nil, nil
	}
	capacity := binary.LittleEndian.Uint32(data[12:16])

	eventsEnd := uint64(bbHeaderSize) + uint64(capacity)*bbEventSize
	if eventsEnd > uint64(len(data)) {
		return nil, nil
	}

	for i := uint32(0); i < capacity; i++ {
		off := uint64(bbHeaderSize) + uint64(i)*bbEventSize
		rec := data[off : off+bbEventSize]
		ev, ok := decodeEventRecord(uint64(i), rec)
		if ok {
			events = append(events, ev)
		}
	}

	if eventsEnd+bbResHeaderSize > uint64(len(data)) {
		return events, nil
	}
	resHdr := data[eventsEnd : eventsEnd+bbResHeaderSize]
	resCapacity := binary.LittleEndian.Uint32(resHdr[4:8])

	resEntriesEnd := eventsEnd + bbResHeaderSize + uint64(resCapacity)*bbResEntrySize
	if resEntriesEnd > uint64(len(data)) {
		return events, nil
	}

	for i := uint32(0); i < resCapacity; i++ {
		off := eventsEnd + bbResHeaderSize + uint64(i)*bbResEntrySize
		rec := data[off : off+bbResEntrySize]
		if e, ok := decodeResourceRecord(rec); ok {
			resources = append(resources, e)
		}
	}
	if len(resources) > bbMaxKeptResources {
		resources = resources[len(resources)-bbMaxKeptResources:]
	}
	return events, resources
}

// decodeEventRecord applies the seqlock protocol: the committed sequence
// number must be even, and re-reading it (a no-op on a frozen snapshot,
// but checked for protocol fidelity) must agree; the type must be one of
// the known values.
func decodeEventRecord(index uint64, rec []byte) (model.BlackboxEvent, bool) {
	seqPre := binary.LittleEndian.Uint32(rec[0:4])
	tid := binary.LittleEndian.Uint32(rec[4:8])
	qpc := binary.LittleEndian.Uint64(rec[8:16])
	typ := binary.LittleEndian.Uint16(rec[16:18])
	var payload [4]uint64
	for i := 0; i < 4; i++ {
		payload[i] = binary.LittleEndian.Uint64(rec[24+i*8 : 32+i*8])
	}
	seqPost := binary.LittleEndian.Uint32(rec[0:4])

	if seqPre%2 != 0 || seqPre != seqPost {
		return model.BlackboxEvent{}, false
	}
	name, ok := validEventTypes[typ]
	if !ok {
		return model.BlackboxEvent{}, false
	}
	return model.BlackboxEvent{
		Index:   index,
		TimeMS:  qpc,
		TID:     tid,
		Type:    name,
		Payload: payload,
	}, true
}

func decodeResourceRecord(rec []byte) (model.ResourceLogEntry, bool) {
	seqPre := binary.LittleEndian.Uint32(rec[0:4])
	tid := binary.LittleEndian.Uint32(rec[4:8])
	qpc := binary.LittleEndian.Uint64(rec[8:16])
	pathHash := binary.LittleEndian.Uint64(rec[16:24])
	pathBytes := rec[24 : 24+bbResPathMaxLen]
	seqPost := binary.LittleEndian.Uint32(rec[0:4])

	if seqPre%2 != 0 || seqPre != seqPost {
		return model.ResourceLogEntry{}, false
	}

	nul := len(pathBytes)
	for i, b := range pathBytes {
		if b == 0 {
			nul = i
			break
		}
	}
	path := string(pathBytes[:nul])
	if path == "" {
		return model.ResourceLogEntry{}, false
	}

	return model.ResourceLogEntry{
		TID:      tid,
		TimeMS:   qpc,
		Path:     path,
		PathHash: pathHash,
		Ext:      classifyResourceExt(path),
	}, true
}

func classifyResourceExt(path string) string {
	lower := path
	for i := len(lower) - 1; i >= 0; i-- {
		if lower[i] == '.' {
			ext := lowerASCII(lower[i+1:])
			switch ext {
			case "nif", "hkx", "tri":
				return ext
			}
			return "(unknown)"
		}
		if lower[i] == '/' || lower[i] == '\\' {
			break
		}
	}
	return "(unknown)"
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
