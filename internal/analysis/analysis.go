// Package analysis is the pass orchestrator: it runs stream discovery,
// module decoding, thread decoding, exception parsing, stack walking,
// rule evaluation, and evidence fusion over one minidump in a fixed
// order and folds every component's output into a single
// model.AnalysisResult.
package analysis

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skyrimdiag/dumptool/internal/bucket"
	"github.com/skyrimdiag/dumptool/internal/crashlog"
	"github.com/skyrimdiag/dumptool/internal/evidence"
	"github.com/skyrimdiag/dumptool/internal/history"
	"github.com/skyrimdiag/dumptool/internal/minidump"
	"github.com/skyrimdiag/dumptool/internal/mo2"
	"github.com/skyrimdiag/dumptool/internal/model"
	"github.com/skyrimdiag/dumptool/internal/rules"
	"github.com/skyrimdiag/dumptool/internal/scoring"
	"github.com/skyrimdiag/dumptool/internal/stackwalk"
	"github.com/skyrimdiag/dumptool/internal/symbols"
)

// nearAnchorLoadingWindow and the nearAnchorDefault* pair bound how far
// from an anchor event (the last Crash/HangMark event, or else the last
// resource load) a resource is still considered "near" it. Kept as
// fixed constants rather than configuration; see DESIGN.md.
const (
	nearAnchorLoadingWindow = 15 * time.Second
	nearAnchorDefaultBefore = 5 * time.Second
	nearAnchorDefaultAfter  = 300 * time.Millisecond
	stackScanWindowBytes    = 96 * 1024
)

// RuleData bundles the sidecar JSON rule databases a caller loads once
// per process and passes into every pass.
type RuleData struct {
	Signatures *rules.SignatureMatcher
	Plugins    *rules.PluginRules
	Graphics   *rules.GraphicsRules
}

// Options configures one analysis pass.
type Options struct {
	DumpPath       string
	OutDir         string
	Lang           model.Language
	AllowOnline    bool
	PluginScanPath string // optional sidecar plugin-scan JSON
	CrashLogDirs   []string
	HistoryPath    string
	GameVersion    string
	Rules          RuleData
	BeesPresent    bool
	AddressDB      *symbols.AddressResolver // optional address_db lookup for the selected game version
}

// Output bundles the fused AnalysisResult (destined for the JSON
// summary and text report) with the two raw side-streams that get
// their own sidecar files instead of being embedded in the summary:
// the decoded blackbox event ring and the embedded wait-chain
// document, when present.
type Output struct {
	Result         model.AnalysisResult
	BlackboxEvents []model.BlackboxEvent
	WaitChain      *model.WaitChainDoc
}

// Run executes one full analysis pass per spec §2/§5 and returns the
// fused result. Only a dump that cannot be opened or mapped, or one that
// fails header/directory validation (MalformedDump), is returned as an
// error; every other failure degrades the affected signal and is folded
// into the result.
func Run(opts Options) (Output, error) {
	result := model.AnalysisResult{
		DumpPath:   opts.DumpPath,
		Language:   opts.Lang,
		AnalyzedAt: time.Now(),
	}

	mf, err := minidump.OpenMapped(opts.DumpPath)
	if err != nil {
		return Output{Result: result}, fmt.Errorf("analysis: open dump: %w", err)
	}
	defer mf.Close()

	view, err := minidump.Open(mf)
	if err != nil {
		return Output{Result: result}, fmt.Errorf("analysis: %w", err)
	}

	modIdx, err := minidump.LoadModules(view)
	if err != nil {
		log.Printf("skydiag: warning: module list unavailable: %v", err)
		modIdx = &minidump.ModuleIndex{}
	}

	threadIdx, err := minidump.LoadThreads(view)
	if err != nil {
		log.Printf("skydiag: warning: thread list unavailable: %v", err)
		threadIdx = &minidump.ThreadIndex{}
	}

	memView := minidump.NewMemoryView(view, threadIdx)

	exc, err := minidump.LoadException(view)
	if err != nil {
		log.Printf("skydiag: warning: exception stream malformed: %v", err)
		exc = nil
	}

	events, resources := minidump.DecodeBlackbox(view)

	wct, err := minidump.LoadWaitChain(view)
	if err != nil {
		log.Printf("skydiag: warning: wait-chain document malformed: %v", err)
		wct = nil
	}

	var excInfo []uint64
	if exc != nil {
		result.ExceptionPresent = true
		result.ExceptionCode = exc.Code
		result.ExceptionThread = exc.ThreadID
		result.ExceptionAddress = exc.Address
		excInfo = exc.Info
	}

	var faultModule model.Module
	faultKnown := false
	if exc != nil {
		if m, ok := modIdx.Find(exc.Address); ok {
			faultModule = m
			faultKnown = true
			result.FaultModulePath = m.Path
			result.InferredModName = m.InferredModName
			offset := exc.Address - m.Base
			result.FaultModulePlusOffset = fmt.Sprintf("%s+0x%X", m.Filename, offset)
		} else {
			result.FaultModuleUnknown = true
		}
	}

	allModules := make([]symbols.ModuleForLoad, 0, len(modIdx.All()))
	for _, m := range modIdx.All() {
		allModules = append(allModules, symbols.ModuleForLoad{Path: m.Path, Base: m.Base, Size: m.End - m.Base})
	}
	sess, symErr := symbols.Open(opts.AllowOnline, allModules)
	if symErr != nil {
		log.Printf("skydiag: warning: symbol session init failed, degrading to addresses only: %v", symErr)
	}
	if sess != nil {
		defer sess.Close()
	}

	// candidateWalkThreads mirrors the original's shouldAnalyzeStacks gate
	// (exc_tid != 0 || hangLike): an exception pins the walk to its own
	// thread; otherwise, when the incident looks hang-like, every WCT
	// candidate thread is walked and scored, and the best-scoring one wins.
	var frameStrings []string
	var suspects []model.SuspectItem
	suspectsFromCallstack := false
	var walkTID uint32
	bestScore := int64(-1)
	for _, tid := range candidateWalkThreads(threadIdx, exc, wct, events) {
		thread, ok := threadIdx.ByTID(tid)
		if !ok {
			continue
		}
		ctx := threadIdx.Context(thread)

		// The bundled native backend never resolves symbol names (see
		// internal/symbols); opts.AddressDB is the portable, pure-data
		// fallback (spec §6's address_db sidecar) that formatFrame
		// consults to turn a raw offset into module!symbol+0xHEX.
		frames := stackwalk.Walk(ctx, memView.Read)
		var candPCs []uint64
		var candFrames []string
		var candSymbolicated, candAddressOnly int
		for _, fr := range frames {
			candPCs = append(candPCs, fr.PC)
			formatted, symbolicated := formatFrame(modIdx, opts.AddressDB, fr.PC)
			candFrames = append(candFrames, formatted)
			if symbolicated {
				candSymbolicated++
			} else {
				candAddressOnly++
			}
		}

		var candSuspects []model.SuspectItem
		candFromCallstack := false
		if len(candPCs) > 0 {
			candSuspects = scoring.FromCallstack(modIdx.Find, candPCs)
			candFromCallstack = len(candSuspects) > 0
		}
		if len(candSuspects) == 0 {
			if stackBytes, ok := stackBytesFromSP(threadIdx, thread, ctx); ok {
				words := wordsFromStack(stackBytes, stackScanWindowBytes)
				candSuspects = scoring.FromStackScan(modIdx.Find, words)
			}
		}

		score := int64(len(candPCs))
		if len(candSuspects) > 0 {
			score = int64(candSuspects[0].Score)*1_000_000 + int64(len(candPCs))
		}
		if score > bestScore {
			bestScore = score
			walkTID = tid
			frameStrings = candFrames
			suspects = candSuspects
			suspectsFromCallstack = candFromCallstack
			result.SymProvenance.Symbolicated = candSymbolicated
			result.SymProvenance.AddressOnly = candAddressOnly
		}
	}
	result.StackwalkThreadID = walkTID
	result.Stackwalk = frameStrings
	result.Suspects = suspects

	// Signature matching (spec §4.7, L7).
	var sigMatch *model.SignatureMatch
	var sigDiag *rules.Diagnosis
	var sigID string
	if opts.Rules.Signatures != nil {
		offsetHex := ""
		if faultKnown && exc != nil {
			offsetHex = fmt.Sprintf("%X", exc.Address-faultModule.Base)
		}
		excCode := uint32(0)
		if exc != nil {
			excCode = exc.Code
		}
		excAddr := uint64(0)
		if exc != nil {
			excAddr = exc.Address
		}
		id, diag, ok := opts.Rules.Signatures.Match(rules.MatchInput{
			ExcCode:        excCode,
			FaultModule:    faultModule.Filename,
			FaultIsSystem:  faultModule.IsSystem,
			FaultOffsetHex: offsetHex,
			ExcAddress:     excAddr,
			Callstack:      frameStrings,
		})
		if ok {
			sigID = id
			sigDiag = diag
			sigMatch = &model.SignatureMatch{
				ID:              id,
				Cause:           tr(opts.Lang, diag.CauseEn, diag.CauseKo),
				Confidence:      diag.Confidence,
				Recommendations: tr2(opts.Lang, diag.RecommendationsEn, diag.RecommendationsKo),
			}
		}
	}
	result.SignatureMatch = sigMatch

	// Graphics-injection rules (spec §4.8 sibling, detection_modules-driven).
	var graphicsFirings []rules.Firing
	if opts.Rules.Graphics != nil {
		loadedLower := map[string]bool{}
		for _, m := range modIdx.All() {
			loadedLower[strings.ToLower(m.Filename)] = true
		}
		graphicsFirings = opts.Rules.Graphics.Evaluate(loadedLower)
	}
	for _, g := range graphicsFirings {
		result.GraphicsDiag = append(result.GraphicsDiag, model.GraphicsDiagnosis{ID: g.ID, Cause: g.Diagnosis.CauseEn})
	}

	// Plugin rules (spec §4.8, L8).
	var pluginFirings []rules.Firing
	var missingMasters []string
	needsBees := false
	beesPresent := opts.BeesPresent
	if opts.PluginScanPath != "" && opts.Rules.Plugins != nil {
		if scan, ok := loadPluginScan(opts.PluginScanPath); ok {
			missingMasters = rules.MissingMasters(scan)
			pluginFirings = opts.Rules.Plugins.Evaluate(rules.PluginRuleInput{
				Scan:          scan,
				GameVersion:   opts.GameVersion,
				LoadedModules: modulePathSet(modIdx),
				HasMissing:    len(missingMasters) > 0,
			})
			needsBees = rules.AnyHeaderGE(scan, 1.71)
		}
	}
	for _, p := range pluginFirings {
		result.PluginDiags = append(result.PluginDiags, model.PluginDiagnosis{ID: p.ID, Cause: p.Diagnosis.CauseEn})
	}
	result.MissingMasters = missingMasters

	// Crash-log sidecar (spec §4.9, L9).
	dumpTime := crashlog.DumpTimestamp(opts.DumpPath)
	logPath := crashlog.Discover(opts.CrashLogDirs, dumpTime)
	var crashLogTop []string
	var cppExc *model.CppExceptionInfo
	crashLogVersion := ""
	if logPath != "" {
		parsed := crashlog.Parse(logPath)
		crashLogTop = parsed.TopModules
		cppExc = parsed.CppException
		crashLogVersion = parsed.Version
	}
	result.CrashLogPath = logPath
	result.CrashLogTop = crashLogTop
	result.CrashLogVersion = crashLogVersion
	result.CppException = cppExc
	if suspectsFromCallstack {
		applyCrashLogBoost(result.Suspects, crashLogTop, cppExcModule(cppExc))
	}

	// MO2 index (spec §4.10, L10).
	var mo2Idx *mo2.Index
	if base := mo2.FindBase(modulePaths(modIdx)); base != "" {
		if idx, err := mo2.Load(base); err == nil {
			mo2Idx = idx
		} else {
			log.Printf("skydiag: warning: mo2 index load failed: %v", err)
		}
	}

	// Bucket key (spec §4.12, L12).
	bucketFrames := frameStrings
	if len(bucketFrames) > 6 {
		bucketFrames = bucketFrames[:6]
	}
	excCodeForBucket := uint32(0)
	if exc != nil {
		excCodeForBucket = exc.Code
	}
	result.CrashBucketKey = bucket.Key(excCodeForBucket, faultModule.Filename, bucketFrames)

	// History store (spec §4.13, L13).
	var histStats []history.ModuleStats
	bucketCount := 0
	if opts.HistoryPath != "" {
		store := history.Open(opts.HistoryPath)
		histStats = store.ModuleStatsOverLast(100)
		bucketCount = store.BucketStatsFor(result.CrashBucketKey).Count
		entry := history.Entry{
			TimestampUTC: result.AnalyzedAt.UTC(),
			DumpFile:     filepath.Base(opts.DumpPath),
			BucketKey:    result.CrashBucketKey,
			AllSuspects:  suspectFilenames(result.Suspects),
			SignatureID:  sigID,
		}
		if len(result.Suspects) > 0 {
			entry.TopSuspect = result.Suspects[0].Module.Filename
			entry.Confidence = result.Suspects[0].Confidence
		}
		if err := store.Append(entry); err != nil {
			log.Printf("skydiag: warning: history append failed: %v", err)
		}
		bucketCount++ // this pass's own entry counts toward the repetition tally
	}

	// Evidence fusion (spec §4.11, L11).
	isLoadingState := wct != nil && wct.Capture != nil && wct.Capture.IsLoading
	recent := recentResources(resources)
	anchorMS, haveAnchor := anchorTimeMS(events, recent)
	var nearAnchor []model.ResourceLogEntry
	if haveAnchor {
		nearAnchor = nearAnchorResources(recent, anchorMS, isLoadingState)
	}
	hitchCount, hitchMax, hitchP95 := hitchStats(events)
	hitchWindowCount := 0
	if haveAnchor {
		hitchWindowCount = hitchesInWindow(events, nearAnchor)
	}

	nameBase := strings.ToLower(filepath.Base(opts.DumpPath))
	in := evidence.Input{
		Lang:             opts.Lang,
		ExceptionCode:    result.ExceptionCode,
		ExceptionAddress: result.ExceptionAddress,
		ExceptionInfo:    excInfo,
		NameHasCrash:     strings.Contains(nameBase, "_crash_"),
		NameHasHang:      strings.Contains(nameBase, "_hang_"),
		NameHasManual:    strings.Contains(nameBase, "_manual_"),
		FaultModule:      faultModule,
		FaultModuleKnown: faultKnown,
		InferredModName:  result.InferredModName,
		Suspects:         result.Suspects,
		Frames:           frameStrings,
		SignatureID:      sigID,
		SignatureDoc:     sigDiag,
		GraphicsFirings:  graphicsFirings,
		PluginFirings:    pluginFirings,
		MissingMasters:   missingMasters,
		NeedsBees:        needsBees,
		BeesPresent:      beesPresent,
		CrashLogPath:     logPath,
		CrashLogTopModules: crashLogTop,
		CppException:     cppExc,
		RecentResources:  recent,
		ConflictResources: conflictResources(mo2Idx, recent),
		NearAnchorResources: nearAnchor,
		NearAnchorHasAnchor: haveAnchor,
		PreFreezeContext:    preFreezeContext(events),
		HitchCount:          hitchCount,
		HitchMaxMS:          hitchMax,
		HitchP95MS:          hitchP95,
		HitchWindowCount:    hitchWindowCount,
		Mo2:              mo2Idx,
		HistoryStats:     histStats,
		BucketKey:        result.CrashBucketKey,
		BucketCount:      bucketCount,
		IsLoadingState:   isLoadingState,
		HeartbeatAgeSec:  heartbeatAgeSeconds(events),
	}
	for _, ev := range events {
		switch ev.Type {
		case "Crash":
			in.CrashEventPresent = true
		case "HangMark":
			in.HangMarkEventPresent = true
		}
	}
	if wct != nil {
		for _, t := range wct.Threads {
			if t.IsCycle {
				in.WctCycles++
			}
		}
		in.WctCapture = wct.Capture
	}

	class := evidence.Classify(in)
	result.SummarySentence = evidence.BuildSummary(in, class)
	result.Evidence = evidence.BuildEvidence(in, class)
	result.Recommendations = evidence.BuildRecommendations(in, class)
	result.StateFlags = stateFlags(class, isLoadingState)
	result.Resources = resourceSummaries(recent, mo2Idx)

	return Output{Result: result, BlackboxEvents: events, WaitChain: wct}, nil
}

// stateFlags renders the classification booleans as the output
// summary's state_flags tags (spec §6).
func stateFlags(c evidence.Classification, loading bool) []string {
	var flags []string
	if c.IsCrashLike {
		flags = append(flags, "crash")
	}
	if c.IsHangLike {
		flags = append(flags, "hang")
	}
	if c.IsSnapshotLike {
		flags = append(flags, "snapshot")
	}
	if loading {
		flags = append(flags, "loading")
	}
	return flags
}

// resourceSummaries annotates each recent resource with its MO2
// provider chain for the output summary's resources list (spec §6).
func resourceSummaries(resources []model.ResourceLogEntry, idx *mo2.Index) []model.ResourceSummary {
	out := make([]model.ResourceSummary, 0, len(resources))
	for _, r := range resources {
		var providers []string
		if idx != nil {
			if rel := dataRelativePath(r.Path); rel != "" {
				providers = idx.Providers(rel, 8)
			}
		}
		out = append(out, model.ResourceSummary{
			TimeMS:     r.TimeMS,
			TID:        r.TID,
			Kind:       r.Ext,
			Path:       r.Path,
			Providers:  providers,
			IsConflict: len(providers) > 1,
		})
	}
	return out
}

func tr(lang model.Language, en, ko string) string {
	if lang == model.Korean && ko != "" {
		return ko
	}
	return en
}

func tr2(lang model.Language, en, ko []string) []string {
	if lang == model.Korean && len(ko) > 0 {
		return ko
	}
	return en
}

// candidateWalkThreads mirrors original_source/dump_tool/src/Analyzer.cpp's
// shouldAnalyzeStacks gate: an exception thread is always the sole
// candidate; absent an exception, a hang-like incident walks every thread
// ExtractWctCandidateThreadIds names in the embedded wait-chain document
// (deduplicated, in document order). With neither signal, the first
// decoded thread is the last-resort candidate so a pass never walks zero
// threads outright.
func candidateWalkThreads(ti *minidump.ThreadIndex, exc *model.ExceptionInfo, wct *model.WaitChainDoc, events []model.BlackboxEvent) []uint32 {
	if exc != nil {
		if _, ok := ti.ByTID(exc.ThreadID); ok {
			return []uint32{exc.ThreadID}
		}
	}
	if isHangLikeHint(wct, events) && wct != nil {
		seen := map[uint32]bool{}
		var tids []uint32
		for _, t := range wct.Threads {
			if seen[t.TID] {
				continue
			}
			if _, ok := ti.ByTID(t.TID); !ok {
				continue
			}
			seen[t.TID] = true
			tids = append(tids, t.TID)
		}
		if len(tids) > 0 {
			return tids
		}
	}
	all := ti.All()
	if len(all) == 0 {
		return nil
	}
	return []uint32{all[0].TID}
}

// isHangLikeHint is a minimal hang-like check available before the full
// evidence.Classify pass runs (which needs the stackwalk's own output):
// a WCT wait cycle, a WCT capture past its heartbeat threshold, or a
// HangMark blackbox event.
func isHangLikeHint(wct *model.WaitChainDoc, events []model.BlackboxEvent) bool {
	if wct != nil {
		for _, t := range wct.Threads {
			if t.IsCycle {
				return true
			}
		}
		if wct.Capture != nil && wct.Capture.ThresholdSec > 0 && wct.Capture.SecondsSinceHeartbeat >= wct.Capture.ThresholdSec {
			return true
		}
	}
	for _, e := range events {
		if e.Type == "HangMark" {
			return true
		}
	}
	return false
}

// stackBytesFromSP returns a thread's captured stack bytes sliced to
// start at its reported stack pointer, matching StackScanSlotWeight's
// "indexed from the stack pointer" assumption. Falls back to the full
// captured range when the SP lands outside it.
func stackBytesFromSP(ti *minidump.ThreadIndex, t model.Thread, ctx model.CPUContext) ([]byte, bool) {
	stackBytes, base, ok := ti.StackBytes(t)
	if !ok {
		return nil, false
	}
	if ctx.RSP < base {
		return stackBytes, true
	}
	off := ctx.RSP - base
	if off >= uint64(len(stackBytes)) {
		return stackBytes, true
	}
	return stackBytes[off:], true
}

// formatFrame renders one stackwalk frame. When resolver names the
// module-relative offset, the frame is emitted as module!symbol+0xHEX
// and symbolicated is true; otherwise it falls back to module+0xHEX,
// or bare hex when the PC isn't inside any known module.
func formatFrame(modIdx *minidump.ModuleIndex, resolver *symbols.AddressResolver, pc uint64) (formatted string, symbolicated bool) {
	m, ok := modIdx.Find(pc)
	if !ok {
		return fmt.Sprintf("0x%X", pc), false
	}
	offset := pc - m.Base
	if name, ok := resolver.Resolve(offset); ok {
		return fmt.Sprintf("%s!%s+0x%X", m.Filename, name, offset), true
	}
	return fmt.Sprintf("%s+0x%X", m.Filename, offset), false
}

func wordsFromStack(stackBytes []byte, maxBytes int) []uint64 {
	n := len(stackBytes)
	if n > maxBytes {
		n = maxBytes
	}
	words := make([]uint64, 0, n/8)
	for off := 0; off+8 <= n; off += 8 {
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(stackBytes[off+i])
		}
		words = append(words, v)
	}
	return words
}

// applyCrashLogBoost implements spec §4.6's callstack-mode boost rule:
// raise the top suspect's confidence to High when the parsed crash log
// independently names it.
func applyCrashLogBoost(suspects []model.SuspectItem, crashLogTop []string, cppExcModule string) {
	if len(suspects) == 0 {
		return
	}
	top := &suspects[0]
	named := cppExcModule != "" && strings.EqualFold(cppExcModule, top.Module.Filename)
	if !named {
		for _, m := range crashLogTop {
			if strings.EqualFold(m, top.Module.Filename) {
				named = true
				break
			}
		}
	}
	if named && top.ConfidenceLevel != model.High {
		top.ConfidenceLevel = model.High
		top.Confidence = model.High.String()
		top.Reason += " (confirmed by third-party crash log)"
	}
}

func cppExcModule(c *model.CppExceptionInfo) string {
	if c == nil {
		return ""
	}
	return c.Module
}

func modulePaths(mi *minidump.ModuleIndex) []string {
	all := mi.All()
	out := make([]string, 0, len(all))
	for _, m := range all {
		out = append(out, m.Path)
	}
	return out
}

func modulePathSet(mi *minidump.ModuleIndex) map[string]bool {
	out := map[string]bool{}
	for _, m := range mi.All() {
		out[strings.ToLower(m.Filename)] = true
	}
	return out
}

func suspectFilenames(suspects []model.SuspectItem) []string {
	out := make([]string, 0, len(suspects))
	for _, s := range suspects {
		out = append(out, s.Module.Filename)
	}
	return out
}

func recentResources(resources []model.ResourceLogEntry) []model.ResourceLogEntry {
	if len(resources) <= 80 {
		return resources
	}
	return resources[len(resources)-80:]
}

// heartbeatAgeSeconds estimates how stale the last Heartbeat event is
// relative to the rest of the event ring (the closest available proxy
// for "time of capture" within the monotonic QPC-like clock the
// blackbox uses). No Heartbeat event at all reports as maximally stale,
// so the absence of a heartbeat never masquerades as hb_fresh.
func heartbeatAgeSeconds(events []model.BlackboxEvent) float64 {
	var lastEvent, lastHeartbeat uint64
	haveEvent, haveHeartbeat := false, false
	for _, e := range events {
		if !haveEvent || e.TimeMS > lastEvent {
			lastEvent = e.TimeMS
			haveEvent = true
		}
		if e.Type == "Heartbeat" && (!haveHeartbeat || e.TimeMS > lastHeartbeat) {
			lastHeartbeat = e.TimeMS
			haveHeartbeat = true
		}
	}
	if !haveHeartbeat || !haveEvent {
		return math.Inf(1)
	}
	return float64(lastEvent-lastHeartbeat) / 1000.0
}

// anchorTimeMS picks the correlation anchor per spec §4.11: the latest
// Crash/HangMark event timestamp, falling back to the most recent
// resource load when no such event exists.
func anchorTimeMS(events []model.BlackboxEvent, resources []model.ResourceLogEntry) (uint64, bool) {
	var anchor uint64
	found := false
	for _, e := range events {
		if e.Type != "Crash" && e.Type != "HangMark" {
			continue
		}
		if !found || e.TimeMS > anchor {
			anchor = e.TimeMS
			found = true
		}
	}
	if found {
		return anchor, true
	}
	if len(resources) == 0 {
		return 0, false
	}
	return resources[len(resources)-1].TimeMS, true
}

// nearAnchorResources filters resources to the window around anchorMS:
// 15s on both sides while loading, else 5s before / 300ms after.
func nearAnchorResources(resources []model.ResourceLogEntry, anchorMS uint64, loading bool) []model.ResourceLogEntry {
	before, after := nearAnchorDefaultBefore, nearAnchorDefaultAfter
	if loading {
		before, after = nearAnchorLoadingWindow, nearAnchorLoadingWindow
	}
	lo := int64(anchorMS) - before.Milliseconds()
	hi := int64(anchorMS) + after.Milliseconds()
	var out []model.ResourceLogEntry
	for _, r := range resources {
		t := int64(r.TimeMS)
		if t >= lo && t <= hi {
			out = append(out, r)
		}
	}
	return out
}

// conflictResources reports each near-recent resource that more than one
// MO2-tracked provider (a mod or the overwrite tree) could have supplied,
// which is the usual signature of a texture/mesh replacer conflict.
func conflictResources(idx *mo2.Index, resources []model.ResourceLogEntry) []string {
	if idx == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, r := range resources {
		rel := dataRelativePath(r.Path)
		if rel == "" || seen[strings.ToLower(rel)] {
			continue
		}
		providers := idx.Providers(rel, 8)
		if len(providers) > 1 {
			seen[strings.ToLower(rel)] = true
			out = append(out, fmt.Sprintf("%s (%s)", r.Path, strings.Join(providers, " > ")))
		}
	}
	return out
}

// dataRelativePath extracts the tail of a loaded-resource path starting
// just past its "Data" directory segment, tolerating either Windows
// backslashes (as recorded in the dump) or forward slashes (as produced
// by filepath.Join on a non-Windows build/test host).
func dataRelativePath(path string) string {
	norm := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	const marker = "/data/"
	idx := strings.Index(norm, marker)
	if idx < 0 {
		return ""
	}
	return path[idx+len(marker):]
}

// hitchStats summarizes PerfHitch events' first payload slot (duration
// in milliseconds) into a count/max/p95 triple.
func hitchStats(events []model.BlackboxEvent) (count int, maxMS, p95MS float64) {
	var durations []float64
	for _, e := range events {
		if e.Type != "PerfHitch" {
			continue
		}
		durations = append(durations, float64(e.Payload[0]))
	}
	if len(durations) == 0 {
		return 0, 0, 0
	}
	sort.Float64s(durations)
	count = len(durations)
	maxMS = durations[count-1]
	idx := int(float64(count) * 0.95)
	if idx >= count {
		idx = count - 1
	}
	p95MS = durations[idx]
	return
}

// hitchesInWindow counts PerfHitch events whose timestamp falls within
// the span covered by the near-anchor resource set.
func hitchesInWindow(events []model.BlackboxEvent, nearAnchor []model.ResourceLogEntry) int {
	if len(nearAnchor) == 0 {
		return 0
	}
	lo, hi := nearAnchor[0].TimeMS, nearAnchor[0].TimeMS
	for _, r := range nearAnchor {
		if r.TimeMS < lo {
			lo = r.TimeMS
		}
		if r.TimeMS > hi {
			hi = r.TimeMS
		}
	}
	count := 0
	for _, e := range events {
		if e.Type == "PerfHitch" && e.TimeMS >= lo && e.TimeMS <= hi {
			count++
		}
	}
	return count
}

// preFreezeContext collects the names of events in the 10s leading up to
// the largest PerfHitch of at least 2s, giving a short "what happened
// right before the freeze" trail.
func preFreezeContext(events []model.BlackboxEvent) []string {
	var biggestTime uint64
	var biggestDur float64
	found := false
	for _, e := range events {
		if e.Type != "PerfHitch" {
			continue
		}
		d := float64(e.Payload[0])
		if d < 2000 {
			continue
		}
		if !found || d > biggestDur {
			biggestDur = d
			biggestTime = e.TimeMS
			found = true
		}
	}
	if !found {
		return nil
	}
	lo := int64(biggestTime) - 10000
	var names []string
	for _, e := range events {
		t := int64(e.TimeMS)
		if t >= lo && t <= int64(biggestTime) {
			names = append(names, e.Type)
		}
	}
	return names
}

func loadPluginScan(path string) (rules.PluginScan, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("skydiag: warning: plugin scan unreadable: %v", err)
		return rules.PluginScan{}, false
	}
	scan, err := rules.ParsePluginScan(data)
	if err != nil {
		log.Printf("skydiag: warning: plugin scan malformed: %v", err)
		return rules.PluginScan{}, false
	}
	return scan, true
}
