package minidump

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/skyrimdiag/dumptool/internal/model"
)

// moduleRecordSize is sizeof(MINIDUMP_MODULE): BaseOfImage(8) +
// SizeOfImage(4) + CheckSum(4) + TimeDateStamp(4) + ModuleNameRva(4) +
// VersionInfo(VS_FIXEDFILEINFO, 13*4 = 52 bytes) +
// CvRecord(8) + MiscRecord(8) + Reserved0(8) + Reserved1(8).
const moduleRecordSize = 108

// systemModuleAllowlist is the short list of OS DLL filenames treated as
// system regardless of path, per spec §3 and
// original_source/dump_tool/src/CrashLoggerParseCore.h's
// IsSystemishModuleAsciiLower.
var systemModuleAllowlist = map[string]bool{
	"kernelbase.dll":     true,
	"ntdll.dll":          true,
	"kernel32.dll":       true,
	"ucrtbase.dll":       true,
	"msvcp140.dll":       true,
	"vcruntime140.dll":   true,
	"vcruntime140_1.dll": true,
	"concrt140.dll":      true,
	"user32.dll":         true,
	"gdi32.dll":          true,
	"combase.dll":        true,
	"ole32.dll":          true,
	"ws2_32.dll":         true,
}

// systemPathFragments are normalized path substrings that mark a module
// as system regardless of filename, per spec §3.
var systemPathFragments = []string{
	`\windows\system32\`,
	`\syswow64\`,
	`\winsxs\`,
	`\systemroot\system32\`,
}

// gameExecutableNames are the known mod-host game executables, per
// original_source/dump_tool/src/CrashLoggerParseCore.h's
// IsGameExeModuleAsciiLower (also used verbatim by internal/crashlog's
// gameExeNames). Any module whose filename matches is_game_exe, never a
// suspect slot.
var gameExecutableNames = map[string]bool{
	"skyrimse.exe": true,
	"skyrimae.exe": true,
	"skyrimvr.exe": true,
	"skyrim.exe":   true,
}

// scriptExtenderRuntimeRE matches the script-extender runtime's
// fixed-prefix, variable-build-suffix naming (e.g. skse64_1_6_1170.dll).
var scriptExtenderRuntimeRE = regexp.MustCompile(`^(skse64|f4se|sksevr|f4sevr)_[0-9_]+\.dll$`)

// hookFrameworkSet is the process-wide, lock-guarded set of known
// hook-framework filenames, loaded once at startup per spec §4.2 and §5.
type hookFrameworkSet struct {
	mu    sync.RWMutex
	names map[string]bool
}

var globalHookFrameworks = &hookFrameworkSet{names: map[string]bool{}}

// LoadHookFrameworks populates the process-wide hook-framework set from
// data/hook_frameworks.json's decoded {dll} entries. Safe to call once;
// subsequent calls replace the set (used by tests).
func LoadHookFrameworks(dllNames []string) {
	globalHookFrameworks.mu.Lock()
	defer globalHookFrameworks.mu.Unlock()
	globalHookFrameworks.names = make(map[string]bool, len(dllNames))
	for _, n := range dllNames {
		globalHookFrameworks.names[strings.ToLower(n)] = true
	}
}

func isKnownHookFramework(filenameLower string) bool {
	if scriptExtenderRuntimeRE.MatchString(filenameLower) {
		return true
	}
	globalHookFrameworks.mu.RLock()
	defer globalHookFrameworks.mu.RUnlock()
	return globalHookFrameworks.names[filenameLower]
}

func isSystemModule(pathLower, filenameLower string) bool {
	if systemModuleAllowlist[filenameLower] {
		return true
	}
	norm := strings.ReplaceAll(pathLower, "/", `\`)
	for _, frag := range systemPathFragments {
		if strings.Contains(norm, frag) {
			return true
		}
	}
	return false
}

func isGameExe(filenameLower string) bool {
	return gameExecutableNames[filenameLower]
}

// inferModName guesses the MO2 mod name from a full module path by
// taking the path component right after "\mods\", matching the
// convention detailed for Mo2Index in spec §4.10.
func inferModName(path string) string {
	lower := strings.ToLower(strings.ReplaceAll(path, "/", `\`))
	idx := strings.Index(lower, `\mods\`)
	if idx < 0 {
		return ""
	}
	rest := path[idx+len(`\mods\`):]
	rest = strings.ReplaceAll(rest, "/", `\`)
	parts := strings.SplitN(rest, `\`, 2)
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// ModuleIndex is the base-sorted module table (spec §4.2, L2).
type ModuleIndex struct {
	mods []model.Module
}

// LoadModules decodes the ModuleList stream into a base-sorted,
// classified ModuleIndex. An absent stream yields an empty index, not an
// error (spec §8 boundary case).
func LoadModules(v *View) (*ModuleIndex, error) {
	data, ok := v.FindStream(StreamModuleList)
	if !ok {
		return &ModuleIndex{}, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: module list truncated", ErrMalformedStream)
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	need := uint64(count) * moduleRecordSize
	if uint64(len(data)-4) < need {
		// Declared count does not fit: reject the whole table per spec §8
		// ("ModuleList declares more modules than fit is rejected").
		return &ModuleIndex{}, nil
	}

	mods := make([]model.Module, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 4 + uint64(i)*moduleRecordSize
		rec := data[off : off+moduleRecordSize]
		base := binary.LittleEndian.Uint64(rec[0:8])
		size := binary.LittleEndian.Uint32(rec[8:12])
		nameRVA := binary.LittleEndian.Uint32(rec[20:24])

		path, ok := v.ReadSizedStringUTF16(nameRVA)
		if !ok {
			continue
		}
		filename := filepath.Base(strings.ReplaceAll(path, `\`, "/"))
		pathLower := strings.ToLower(path)
		filenameLower := strings.ToLower(filename)

		end := base + uint64(size)
		if end <= base {
			continue // invariant: end > base
		}

		mods = append(mods, model.Module{
			Base:                 base,
			End:                  end,
			Path:                 path,
			Filename:             filename,
			InferredModName:      inferModName(path),
			IsSystem:             isSystemModule(pathLower, filenameLower),
			IsGameExe:            isGameExe(filenameLower),
			IsKnownHookFramework: isKnownHookFramework(filenameLower),
		})
	}

	sort.Slice(mods, func(i, j int) bool { return mods[i].Base < mods[j].Base })
	return &ModuleIndex{mods: mods}, nil
}

// All returns the module table in base-sorted order.
func (mi *ModuleIndex) All() []model.Module { return mi.mods }

// Find performs an upper-bound-then-predecessor lookup, returning the
// containing module for addr, or false if none contains it (spec §4.2,
// §8 property 2).
func (mi *ModuleIndex) Find(addr uint64) (model.Module, bool) {
	n := len(mi.mods)
	// idx = first module with Base > addr
	idx := sort.Search(n, func(i int) bool { return mi.mods[i].Base > addr })
	if idx == 0 {
		return model.Module{}, false
	}
	cand := mi.mods[idx-1]
	if addr >= cand.Base && addr < cand.End {
		return cand, true
	}
	return model.Module{}, false
}
