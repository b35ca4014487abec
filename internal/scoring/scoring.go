// Package scoring ranks candidate modules as the probable crash culprit
// from two independent evidence sources — a walked callstack and a raw
// stack-memory scan — using weighted frame/slot scoring with hook
// framework demotion. Scores accumulate per module, ties break by a
// stable sort, and the final list is capped with a confidence tier
// assigned from the top two scores and the winning frame's depth.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/skyrimdiag/dumptool/internal/model"
)

const maxSuspects = 5

// Hook-framework demotion margins per spec §4.6: a fallback candidate
// within this many points of the hook-framework top is treated as a
// near-tie and promoted ahead of it. Stack-scan scores run hotter than
// callstack-weight scores, so its margin is wider.
const (
	callstackDemotionMargin = 4
	stackScanDemotionMargin = 8
)

// CallstackFrameWeight mirrors the walked-callstack depth weighting.
func CallstackFrameWeight(depth int) uint32 {
	switch {
	case depth == 0:
		return 16
	case depth == 1:
		return 12
	case depth == 2:
		return 8
	case depth <= 5:
		return 4
	case depth <= 10:
		return 2
	default:
		return 1
	}
}

// StackScanSlotWeight mirrors the raw-stack-scan slot weighting, indexed
// by the 8-byte-aligned word position counted from the stack pointer.
func StackScanSlotWeight(slotIndex int) uint32 {
	switch {
	case slotIndex < 4:
		return 8
	case slotIndex < 16:
		return 4
	case slotIndex < 64:
		return 2
	default:
		return 1
	}
}

type row struct {
	mod        model.Module
	score      uint32
	firstDepth int
}

// FromCallstack scores one module per unique entry in a walked PC list,
// skipping system and game-executable frames, weighting each hit by its
// depth in the walk, and tracking each module's shallowest occurrence for
// tie-breaking.
func FromCallstack(findModule func(pc uint64) (model.Module, bool), pcs []uint64) []model.SuspectItem {
	byModule := map[string]*row{}
	for depth, pc := range pcs {
		m, ok := findModule(pc)
		if !ok || m.IsSystem || m.IsGameExe {
			continue
		}
		w := CallstackFrameWeight(depth)
		r, exists := byModule[m.Path]
		if !exists {
			byModule[m.Path] = &row{mod: m, score: w, firstDepth: depth}
			continue
		}
		r.score += w
		if depth < r.firstDepth {
			r.firstDepth = depth
		}
	}
	return rank(byModule, func(r row) string {
		return fmt.Sprintf("Callstack weight=%d, first depth=%d", r.score, r.firstDepth)
	}, confidenceForCallstack, callstackDemotionMargin)
}

// FromStackScan scores one module per 8-byte-aligned hit found scanning
// raw stack memory for pointer-shaped values landing inside a module's
// address range, weighted by distance from the stack pointer.
func FromStackScan(findModule func(addr uint64) (model.Module, bool), words []uint64) []model.SuspectItem {
	byModule := map[string]*row{}
	for slot, v := range words {
		m, ok := findModule(v)
		if !ok || m.IsSystem || m.IsGameExe {
			continue
		}
		w := StackScanSlotWeight(slot)
		r, exists := byModule[m.Path]
		if !exists {
			byModule[m.Path] = &row{mod: m, score: w, firstDepth: slot}
			continue
		}
		r.score += w
	}
	return rank(byModule, func(r row) string {
		return fmt.Sprintf("Stack scan weight=%d, first slot=%d", r.score, r.firstDepth)
	}, confidenceForStackScan, stackScanDemotionMargin)
}

// rank sorts accumulated rows by (score desc, firstDepth asc, filename
// asc), applies the hook-framework top-demotion policy, assigns
// confidence to the top suspect via confFn, and returns at most
// maxSuspects items.
func rank(byModule map[string]*row, reason func(row) string, confFn func(top, second uint32, firstDepth int) model.ConfidenceLevel, demotionMargin uint32) []model.SuspectItem {
	if len(byModule) == 0 {
		return nil
	}
	rows := make([]row, 0, len(byModule))
	for _, r := range byModule {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if rows[i].firstDepth != rows[j].firstDepth {
			return rows[i].firstDepth < rows[j].firstDepth
		}
		return strings.ToLower(rows[i].mod.Filename) < strings.ToLower(rows[j].mod.Filename)
	})

	promoted := false
	if len(rows) > 1 && rows[0].mod.IsKnownHookFramework {
		fallback := -1
		for i := 1; i < len(rows); i++ {
			if !rows[i].mod.IsKnownHookFramework {
				fallback = i
				break
			}
		}
		if fallback != -1 {
			lower := strings.ToLower(rows[0].mod.Filename)
			isCrashLogger := lower == "crashloggersse.dll" || lower == "crashlogger.dll"
			isSkseLoader := lower == "skse64_loader.dll" || lower == "skse64_steam_loader.dll"
			nearTie := rows[fallback].score+demotionMargin >= rows[0].score
			if isCrashLogger || isSkseLoader || nearTie {
				rows[0], rows[fallback] = rows[fallback], rows[0]
				promoted = true
			}
		}
	}

	var second uint32
	if len(rows) > 1 {
		second = rows[1].score
	}
	confTop := confFn(rows[0].score, second, rows[0].firstDepth)
	if rows[0].mod.IsKnownHookFramework {
		confTop = confTop.Demote()
	}

	n := len(rows)
	if n > maxSuspects {
		n = maxSuspects
	}
	out := make([]model.SuspectItem, 0, n)
	for i := 0; i < n; i++ {
		r := rows[i]
		level := model.Medium
		if i == 0 {
			level = confTop
		}
		reasonText := reason(r)
		if i == 0 && promoted {
			reasonText += " (primary candidate promoted over hook framework frame owner)"
		}
		out = append(out, model.SuspectItem{
			ConfidenceLevel: level,
			Confidence:      level.String(),
			Module:          r.mod,
			InferredModName: r.mod.InferredModName,
			Score:           r.score,
			Reason:          reasonText,
		})
	}
	return out
}

func confidenceForCallstack(top, second uint32, firstDepth int) model.ConfidenceLevel {
	if firstDepth <= 2 && (top >= 24 || top >= second+12) {
		return model.High
	}
	if firstDepth <= 6 && (top >= 12 || top >= second+6) {
		return model.Medium
	}
	return model.Low
}

func confidenceForStackScan(top, second uint32, _ int) model.ConfidenceLevel {
	if top >= 256 || (top >= 96 && top >= second*2) {
		return model.High
	}
	if top >= 40 {
		return model.Medium
	}
	return model.Low
}
