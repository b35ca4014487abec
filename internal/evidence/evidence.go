// Package evidence fuses every upstream signal into a final localized
// evidence list, a recommendation list, and one summary sentence. The
// evidence list is assembled by walking a fixed, priority-ordered list of
// predicates and appending an entry for each one whose precondition
// holds; the summary sentence comes from the first predicate in its own
// priority order whose precondition holds.
package evidence

import (
	"fmt"
	"strings"

	"github.com/skyrimdiag/dumptool/internal/history"
	"github.com/skyrimdiag/dumptool/internal/model"
	"github.com/skyrimdiag/dumptool/internal/mo2"
	"github.com/skyrimdiag/dumptool/internal/rules"
)

// Classification holds the derived booleans the rest of this package
// branches on.
type Classification struct {
	HasException       bool
	WctSuggestsHang    bool
	HbFresh            bool
	ManualCaptureHint  bool
	IsCrashLike        bool
	NameHangEffective  bool
	IsHangLike         bool
	IsSnapshotLike     bool
}

// Input bundles every upstream signal the builder consumes.
type Input struct {
	Lang model.Language

	ExceptionCode    uint32
	ExceptionAddress uint64
	ExceptionInfo    []uint64

	NameHasCrash  bool
	NameHasHang   bool
	NameHasManual bool

	CrashEventPresent    bool
	HangMarkEventPresent bool
	HeartbeatAgeSec      float64

	WctCapture *model.WaitChainCapture
	WctCycles  int

	FaultModule       model.Module
	FaultModuleKnown  bool
	InferredModName   string

	Suspects  []model.SuspectItem
	Frames    []string

	SignatureID  string
	SignatureDoc *rules.Diagnosis

	GraphicsFirings []rules.Firing
	PluginFirings   []rules.Firing
	MissingMasters  []string

	NeedsBees       bool
	BeesPresent     bool

	CrashLogPath       string
	CrashLogTopModules []string
	CppException       *model.CppExceptionInfo

	HitchCount     int
	HitchMaxMS     float64
	HitchP95MS     float64
	HitchWindowCount int // hitches inside the near-anchor window

	RecentResources     []model.ResourceLogEntry
	ConflictResources    []string
	NearAnchorResources  []model.ResourceLogEntry
	NearAnchorHasAnchor  bool
	PreFreezeContext     []string
	Mo2                  *mo2.Index

	IsLoadingState bool

	HistoryStats []history.ModuleStats
	BucketKey    string
	BucketCount  int
}

// Classify derives the classification booleans from the raw input.
func Classify(in Input) Classification {
	var c Classification
	c.HasException = in.ExceptionCode != 0
	c.HbFresh = in.HeartbeatAgeSec < 5.0
	manualFromWct := in.WctCapture != nil && in.WctCapture.Kind == "manual"
	c.ManualCaptureHint = in.NameHasManual || manualFromWct

	thresholdHang := in.WctCapture != nil && in.WctCapture.ThresholdSec > 0 &&
		in.WctCapture.SecondsSinceHeartbeat >= in.WctCapture.ThresholdSec
	c.WctSuggestsHang = in.WctCycles > 0 || thresholdHang

	c.IsCrashLike = in.NameHasCrash || c.HasException || (in.CrashEventPresent && !c.ManualCaptureHint)
	c.NameHangEffective = in.NameHasHang && !manualFromWct && !c.HbFresh
	c.IsHangLike = c.NameHangEffective || in.HangMarkEventPresent || c.WctSuggestsHang
	c.IsSnapshotLike = !c.IsCrashLike && !c.IsHangLike
	return c
}

func tr(lang model.Language, en, ko string) string {
	if lang == model.Korean {
		return ko
	}
	return en
}

// BuildSummary selects the single summary sentence from a fixed
// priority chain, always ending in a parenthesized confidence label.
func BuildSummary(in Input, c Classification) string {
	lang := in.Lang

	if in.SignatureID != "" && in.SignatureDoc != nil {
		return fmt.Sprintf("%s (%s)", localizedCause(lang, in.SignatureDoc), capitalize(in.SignatureDoc.Confidence))
	}
	if c.IsSnapshotLike {
		return tr(lang,
			"This capture is a point-in-time snapshot, not a crash or hang (Medium)",
			"이 캡처는 충돌이나 멈춤이 아닌 스냅샷입니다 (Medium)")
	}

	top := firstSuspect(in.Suspects)
	if in.FaultModuleKnown && !in.FaultModule.IsSystem && !in.FaultModule.IsGameExe {
		label := firstNonHookSuspectOr(in.Suspects, in.FaultModule.Filename)
		conf := "Medium"
		if top != nil {
			conf = top.Confidence
		}
		return fmt.Sprintf("%s %s (%s)",
			tr(lang, "Fault address resolves inside", "오류 주소가 다음 모듈 내부에 있습니다:"), label, conf)
	}
	if in.FaultModuleKnown && in.FaultModule.IsSystem {
		label := firstNonHookSuspectOr(in.Suspects, in.FaultModule.Filename)
		return fmt.Sprintf("%s %s %s",
			tr(lang, "Fault is in a system module; likely victim of", "오류가 시스템 모듈에서 발생했으며 아마도 다음의 피해자입니다:"),
			label, "(Medium)")
	}
	if in.FaultModuleKnown && in.FaultModule.IsGameExe {
		label := firstNonHookSuspectOr(in.Suspects, in.FaultModule.Filename)
		return fmt.Sprintf("%s %s %s",
			tr(lang, "Fault is in the game executable; likely victim of", "오류가 게임 실행 파일에서 발생했으며 아마도 다음의 피해자입니다:"),
			label, "(Medium)")
	}
	if c.IsHangLike {
		return tr(lang, "The game appears to have hung (Medium)", "게임이 멈춘 것으로 보입니다 (Medium)")
	}
	if top != nil {
		return fmt.Sprintf("%s %s (%s)", tr(lang, "Most likely culprit:", "가장 유력한 원인:"), top.Module.Filename, top.Confidence)
	}
	return tr(lang,
		"The dump alone is insufficient to pinpoint a cause (Low)",
		"덤프만으로는 원인을 특정하기에 충분하지 않습니다 (Low)")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func localizedCause(lang model.Language, d *rules.Diagnosis) string {
	if lang == model.Korean && d.CauseKo != "" {
		return d.CauseKo
	}
	return d.CauseEn
}

func firstSuspect(suspects []model.SuspectItem) *model.SuspectItem {
	if len(suspects) == 0 {
		return nil
	}
	return &suspects[0]
}

func firstNonHookSuspectOr(suspects []model.SuspectItem, fallback string) string {
	for _, s := range suspects {
		if !s.Module.IsKnownHookFramework {
			return s.Module.Filename
		}
	}
	return fallback
}

// item is an internal builder for one ordered evidence entry.
type item struct {
	level model.ConfidenceLevel
	title string
	body  string
}

// BuildEvidence assembles the evidence list in a fixed order, skipping
// any item whose precondition does not hold.
func BuildEvidence(in Input, c Classification) []model.EvidenceItem {
	lang := in.Lang
	var items []item

	if in.SignatureID != "" && in.SignatureDoc != nil {
		items = append(items, item{model.High, tr(lang, "Signature match", "시그니처 일치"), localizedCause(lang, in.SignatureDoc)})
	}
	for _, g := range in.GraphicsFirings {
		items = append(items, item{model.ParseConfidenceLevel(g.Diagnosis.Confidence), tr(lang, "Graphics injection detected", "그래픽 인젝션 감지"), g.Diagnosis.CauseEn})
	}
	for _, p := range in.PluginFirings {
		items = append(items, item{model.ParseConfidenceLevel(p.Diagnosis.Confidence), tr(lang, "Plugin rule diagnosis", "플러그인 규칙 진단"), p.Diagnosis.CauseEn})
	}
	if len(in.MissingMasters) > 0 {
		items = append(items, item{model.Medium,
			tr(lang, "Missing masters", "누락된 마스터"),
			strings.Join(in.MissingMasters, ", ")})
	}
	if in.NeedsBees && !in.BeesPresent {
		items = append(items, item{model.Medium,
			tr(lang, "Backported ESL Support required", "BEES 필요"),
			tr(lang, "A plugin requires header version 1.71+ support but BEES is not installed", "헤더 버전 1.71 이상을 요구하는 플러그인이 있지만 BEES가 설치되지 않았습니다")})
	}
	if c.HasException {
		items = append(items, item{model.High, tr(lang, "Exception detail", "예외 상세"), exceptionExplanation(lang, in.ExceptionCode, in.ExceptionAddress, in.ExceptionInfo)})
	}
	if c.IsSnapshotLike {
		items = append(items, item{model.Medium, tr(lang, "Snapshot capture", "스냅샷 캡처"), tr(lang, "No crash or hang indicators present", "충돌이나 멈춤 징후가 없습니다")})
	}
	if in.CrashLogPath != "" {
		items = append(items, item{model.Medium, tr(lang, "Crash log found", "크래시 로그 발견"), in.CrashLogPath})
	}
	if len(in.CrashLogTopModules) > 0 {
		items = append(items, item{model.Medium, tr(lang, "Crash log top modules", "크래시 로그 상위 모듈"), strings.Join(in.CrashLogTopModules, ", ")})
	}
	if in.CppException != nil {
		items = append(items, item{model.Medium, tr(lang, "C++ exception", "C++ 예외"),
			fmt.Sprintf("%s: %s (%s)", in.CppException.Type, in.CppException.Info, in.CppException.Module)})
	}
	if len(in.Frames) > 0 {
		n := len(in.Frames)
		if n > 8 {
			n = 8
		}
		items = append(items, item{model.Low, tr(lang, "Callstack preview", "콜스택 미리보기"), strings.Join(in.Frames[:n], " -> ")})
	}
	if top := firstSuspect(in.Suspects); top != nil {
		label := firstNonHookSuspectOr(in.Suspects, top.Module.Filename)
		items = append(items, item{top.ConfidenceLevel, tr(lang, "Top suspect", "최상위 용의자"), fmt.Sprintf("%s — %s", label, top.Reason)})
	}
	if len(in.RecentResources) > 0 {
		names := make([]string, 0, len(in.RecentResources))
		for _, r := range in.RecentResources {
			names = append(names, r.Path)
		}
		items = append(items, item{model.Low, tr(lang, "Recently loaded resources", "최근 로드된 리소스"), strings.Join(names, ", ")})
	}
	if len(in.ConflictResources) > 0 {
		items = append(items, item{model.Medium, tr(lang, "Conflicting resource providers", "충돌하는 리소스 제공자"), strings.Join(in.ConflictResources, ", ")})
	}
	if in.NearAnchorHasAnchor && len(in.NearAnchorResources) > 0 {
		names := make([]string, 0, len(in.NearAnchorResources))
		for _, r := range in.NearAnchorResources {
			names = append(names, r.Path)
		}
		items = append(items, item{model.Medium,
			tr(lang, "Resources near incident time", "사건 시점 근처 리소스"),
			strings.Join(names, ", ")})
	}
	if in.NearAnchorHasAnchor && in.Mo2 != nil && len(in.NearAnchorResources) > 0 {
		providerHits := 0
		for _, r := range in.NearAnchorResources {
			if len(in.Mo2.Providers(mo2RelPath(r.Path), 8)) > 0 {
				providerHits++
			}
		}
		items = append(items, item{model.Low,
			tr(lang, "Near-incident provider coverage", "사건 근처 제공자 현황"),
			fmt.Sprintf(tr(lang, "%d/%d near-incident resources resolved to a mod provider", "%d/%d개의 근접 리소스가 모드 제공자로 해석됨"), providerHits, len(in.NearAnchorResources))})
	}
	if in.HitchCount > 0 {
		items = append(items, item{model.Low,
			tr(lang, "Frame hitches", "프레임 끊김"),
			fmt.Sprintf(tr(lang, "%d hitches, max %.0fms, p95 %.0fms (%d near incident)", "%d건, 최대 %.0fms, p95 %.0fms (사건 근처 %d건)"),
				in.HitchCount, in.HitchMaxMS, in.HitchP95MS, in.HitchWindowCount)})
	}
	if len(in.PreFreezeContext) > 0 {
		items = append(items, item{model.Low,
			tr(lang, "Events before the freeze", "정지 직전 이벤트"),
			strings.Join(in.PreFreezeContext, " -> ")})
	}
	if in.FaultModuleKnown && !in.FaultModule.IsSystem && !in.FaultModule.IsGameExe {
		items = append(items, item{model.Medium, tr(lang, "Fault module", "오류 모듈"), in.FaultModule.Path})
	} else if in.FaultModuleKnown && in.FaultModule.IsSystem {
		items = append(items, item{model.Low, tr(lang, "Fault module is a system DLL", "오류 모듈이 시스템 DLL입니다"), in.FaultModule.Filename})
	} else if in.FaultModuleKnown && in.FaultModule.IsGameExe {
		items = append(items, item{model.Low, tr(lang, "Fault module is the game executable", "오류 모듈이 게임 실행 파일입니다"), in.FaultModule.Filename})
	}
	if in.InferredModName != "" {
		items = append(items, item{model.Low, tr(lang, "Inferred mod name", "추정 모드 이름"), in.InferredModName})
	}
	if in.IsLoadingState {
		items = append(items, item{model.Low, tr(lang, "Game was loading", "게임이 로딩 중이었습니다"), ""})
	}
	if in.WctCapture != nil {
		items = append(items, item{model.Low, tr(lang, "Wait-chain capture included", "대기 체인 캡처 포함됨"), in.WctCapture.Kind})
		items = append(items, item{model.Low,
			tr(lang, "Wait-chain summary", "대기 체인 요약"),
			fmt.Sprintf(tr(lang, "%d cyclic thread(s), %.1fs since heartbeat (threshold %.1fs)", "순환 스레드 %d개, 하트비트 이후 %.1f초 (임계값 %.1f초)"),
				in.WctCycles, in.WctCapture.SecondsSinceHeartbeat, in.WctCapture.ThresholdSec)})
	}
	if len(in.HistoryStats) > 0 {
		n := len(in.HistoryStats)
		if n > 3 {
			n = 3
		}
		var parts []string
		for _, s := range in.HistoryStats[:n] {
			parts = append(parts, fmt.Sprintf("%s: %d crashes", s.Module, s.TotalCrashes))
		}
		items = append(items, item{model.Low, tr(lang, "Crash history", "충돌 이력"), strings.Join(parts, "; ")})
	}
	if in.BucketCount > 1 {
		items = append(items, item{model.Medium, tr(lang, "Repeated crash bucket", "반복되는 충돌 버킷"),
			fmt.Sprintf("%s seen %d times", in.BucketKey, in.BucketCount)})
	}

	out := make([]model.EvidenceItem, 0, len(items))
	for _, it := range items {
		out = append(out, model.EvidenceItem{ConfidenceLevel: it.level, Title: it.title, Details: it.body})
	}
	return out
}

// mo2RelPath strips the leading drive/profile portion of a loaded
// resource path down to its Data-relative tail, the form
// mo2.Index.Providers expects. Tolerates both Windows backslashes and
// forward slashes.
func mo2RelPath(path string) string {
	norm := strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
	const marker = "/data/"
	if idx := strings.Index(norm, marker); idx >= 0 {
		return path[idx+len(marker):]
	}
	return path
}

// accessKind decodes the access-violation parameter (exc_info[0]): 0
// read, 1 write, 8 execute, per the Windows EXCEPTION_RECORD convention.
func accessKind(lang model.Language, kind uint64) string {
	switch kind {
	case 0:
		return tr(lang, "read", "읽기")
	case 1:
		return tr(lang, "write", "쓰기")
	case 8:
		return tr(lang, "execute", "실행")
	default:
		return tr(lang, "unknown", "알 수 없음")
	}
}

// exceptionExplanation renders the exception-detail evidence line. For
// EXCEPTION_ACCESS_VIOLATION and EXCEPTION_IN_PAGE_ERROR, info carries
// the raw exception parameters (access kind, faulting address, and for
// the in-page case an NTSTATUS) and is decoded into a human-readable
// classification when present.
func exceptionExplanation(lang model.Language, code uint32, address uint64, info []uint64) string {
	switch {
	case code == 0xC0000005 && len(info) >= 2:
		return fmt.Sprintf(tr(lang, "EXCEPTION_ACCESS_VIOLATION: %s at 0x%x", "접근 위반: %s 주소=0x%x"),
			accessKind(lang, info[0]), info[1])
	case code == 0xC0000005:
		return fmt.Sprintf("%s (0x%x)", tr(lang, "Access violation at address", "접근 위반 주소"), address)
	case code == 0xC0000006 && len(info) >= 3:
		return fmt.Sprintf(tr(lang, "EXCEPTION_IN_PAGE_ERROR: %s at 0x%x (NTSTATUS 0x%x)", "페이지 오류: %s 주소=0x%x (NTSTATUS 0x%x)"),
			accessKind(lang, info[0]), info[1], info[2])
	case code == 0xC0000006:
		return tr(lang, "In-page error", "페이지 오류")
	default:
		return fmt.Sprintf("0x%08X", code)
	}
}

// BuildRecommendations generates bracket-tagged recommendation strings
// from the same predicates BuildEvidence consumed.
func BuildRecommendations(in Input, c Classification) []string {
	lang := in.Lang
	var out []string

	if c.IsHangLike {
		out = append(out, tr(lang, "[Hang] Check for mods performing heavy work on the main thread", "[멈춤] 메인 스레드에서 무거운 작업을 수행하는 모드를 확인하세요"))
	}
	if len(in.MissingMasters) > 0 {
		out = append(out, tr(lang, "[Check] Install the missing master plugins listed above", "[확인] 위에 나열된 누락된 마스터 플러그인을 설치하세요"))
	}
	if in.NeedsBees && !in.BeesPresent {
		out = append(out, tr(lang, "[Check] Install Backported ESL Support (BEES)", "[확인] BEES(Backported ESL Support)를 설치하세요"))
	}
	if top := firstSuspect(in.Suspects); top != nil {
		label := firstNonHookSuspectOr(in.Suspects, top.Module.Filename)
		out = append(out, fmt.Sprintf(tr(lang, "[Top suspect] Try disabling %s", "[최상위 용의자] %s를 비활성화해 보세요"), label))
	}
	if c.ManualCaptureHint {
		out = append(out, tr(lang, "[Manual] This was a manually triggered capture, not an automatic crash", "[수동] 이것은 자동 충돌이 아닌 수동으로 트리거된 캡처입니다"))
	}
	return out
}
