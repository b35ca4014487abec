// Package output writes the files a completed analysis pass produces
// next to the dump (or under a requested output directory): a
// schema-versioned JSON summary, a human-readable text report, an
// optional blackbox JSONL dump, and an optional WCT JSON copy. JSON
// encoding is a plain json.Encoder with a two-space indent; the text
// report is a flat, section-by-section fmt.Fprintf rendering.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skyrimdiag/dumptool/internal/model"
)

// SchemaName and SchemaVersion identify the summary document shape
// (spec §6); consumers are expected to accept {1,2}.
const (
	SchemaName    = "skydiag.summary"
	SchemaVersion = 2
)

// schema is the nested {name, version} tag spec §6 documents.
type schema struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// exceptionDoc is the summary's flattened exception block.
type exceptionDoc struct {
	Code               uint32 `json:"code"`
	ThreadID           uint32 `json:"thread_id"`
	Address            uint64 `json:"address"`
	ModulePlusOffset   string `json:"module_plus_offset,omitempty"`
	ModulePath         string `json:"module_path,omitempty"`
	InferredModName    string `json:"inferred_mod_name,omitempty"`
	FaultModuleUnknown bool   `json:"fault_module_unknown"`
}

// crashLoggerDoc is the summary's third-party crash-log sidecar block.
type crashLoggerDoc struct {
	Path         string                  `json:"path,omitempty"`
	Version      string                  `json:"version,omitempty"`
	TopModules   []string                `json:"top_modules,omitempty"`
	CppException *model.CppExceptionInfo `json:"cpp_exception,omitempty"`
}

// suspectDoc is one ranked suspect in the summary's suspects list.
type suspectDoc struct {
	Confidence      string `json:"confidence"`
	ModuleFilename  string `json:"module_filename"`
	ModulePath      string `json:"module_path"`
	InferredModName string `json:"inferred_mod_name"`
	Score           uint32 `json:"score"`
	Reason          string `json:"reason"`
}

// callstackDoc is the summary's walked-callstack block.
type callstackDoc struct {
	ThreadID uint32   `json:"thread_id"`
	Frames   []string `json:"frames"`
}

// resourceDoc is one loaded-resource record in the summary's resources
// list.
type resourceDoc struct {
	TMS        uint64   `json:"t_ms"`
	TID        uint32   `json:"tid"`
	Kind       string   `json:"kind"`
	Path       string   `json:"path"`
	Providers  []string `json:"providers"`
	IsConflict bool     `json:"is_conflict"`
}

// evidenceDoc is one entry in the summary's evidence list.
type evidenceDoc struct {
	Confidence string `json:"confidence"`
	Title      string `json:"title"`
	Details    string `json:"details"`
}

// Summary is the stable, versioned JSON document written as
// "<stem>_SkyrimDiagSummary.json" (spec §6).
type Summary struct {
	Schema          schema         `json:"schema"`
	DumpPath        string         `json:"dump_path"`
	PID             uint32         `json:"pid"`
	StateFlags      []string       `json:"state_flags"`
	SummarySentence string         `json:"summary_sentence"`
	CrashBucketKey  string         `json:"crash_bucket_key"`
	Exception       exceptionDoc   `json:"exception"`
	CrashLogger     crashLoggerDoc `json:"crash_logger"`
	Suspects        []suspectDoc   `json:"suspects"`
	Callstack       callstackDoc   `json:"callstack"`
	Resources       []resourceDoc  `json:"resources"`
	Evidence        []evidenceDoc  `json:"evidence"`
	Recommendations []string       `json:"recommendations"`
}

// toSummary translates the fused AnalysisResult into the documented
// wire shape.
func toSummary(r model.AnalysisResult) Summary {
	suspects := make([]suspectDoc, 0, len(r.Suspects))
	for _, s := range r.Suspects {
		suspects = append(suspects, suspectDoc{
			Confidence:      s.Confidence,
			ModuleFilename:  s.Module.Filename,
			ModulePath:      s.Module.Path,
			InferredModName: s.InferredModName,
			Score:           s.Score,
			Reason:          s.Reason,
		})
	}

	resources := make([]resourceDoc, 0, len(r.Resources))
	for _, res := range r.Resources {
		resources = append(resources, resourceDoc{
			TMS:        res.TimeMS,
			TID:        res.TID,
			Kind:       res.Kind,
			Path:       res.Path,
			Providers:  res.Providers,
			IsConflict: res.IsConflict,
		})
	}

	evidence := make([]evidenceDoc, 0, len(r.Evidence))
	for _, e := range r.Evidence {
		evidence = append(evidence, evidenceDoc{
			Confidence: e.ConfidenceLevel.String(),
			Title:      e.Title,
			Details:    e.Details,
		})
	}

	return Summary{
		Schema:          schema{Name: SchemaName, Version: SchemaVersion},
		DumpPath:        r.DumpPath,
		PID:             r.PID,
		StateFlags:      r.StateFlags,
		SummarySentence: r.SummarySentence,
		CrashBucketKey:  r.CrashBucketKey,
		Exception: exceptionDoc{
			Code:               r.ExceptionCode,
			ThreadID:           r.ExceptionThread,
			Address:            r.ExceptionAddress,
			ModulePlusOffset:   r.FaultModulePlusOffset,
			ModulePath:         r.FaultModulePath,
			InferredModName:    r.InferredModName,
			FaultModuleUnknown: r.FaultModuleUnknown,
		},
		CrashLogger: crashLoggerDoc{
			Path:         r.CrashLogPath,
			Version:      r.CrashLogVersion,
			TopModules:   r.CrashLogTop,
			CppException: r.CppException,
		},
		Suspects:        suspects,
		Callstack:       callstackDoc{ThreadID: r.StackwalkThreadID, Frames: r.Stackwalk},
		Resources:       resources,
		Evidence:        evidence,
		Recommendations: r.Recommendations,
	}
}

// Writer writes analysis output files next to a dump or under an
// explicit output directory.
type Writer struct {
	OutDir string // empty means "next to the dump"
}

func (w Writer) stemPath(dumpPath, suffix string) string {
	stem := strings.TrimSuffix(filepath.Base(dumpPath), filepath.Ext(dumpPath))
	dir := w.OutDir
	if dir == "" {
		dir = filepath.Dir(dumpPath)
	}
	return filepath.Join(dir, stem+suffix)
}

// WriteSummary writes the schema-versioned JSON summary. Writes are
// single-file, full-overwrite: a failure partway through leaves a
// truncated file, which is acceptable because a rerun regenerates it
// from scratch.
func (w Writer) WriteSummary(dumpPath string, result model.AnalysisResult) error {
	path := w.stemPath(dumpPath, "_SkyrimDiagSummary.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create summary file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(toSummary(result))
}

// WriteReport writes the human-readable text report.
func (w Writer) WriteReport(dumpPath string, result model.AnalysisResult) error {
	path := w.stemPath(dumpPath, "_SkyrimDiagReport.txt")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create report file: %w", err)
	}
	defer f.Close()
	return renderReport(f, result)
}

func renderReport(f *os.File, r model.AnalysisResult) error {
	fmt.Fprintf(f, "SkyrimDiag Report\n")
	fmt.Fprintf(f, "Dump: %s\n", r.DumpPath)
	fmt.Fprintf(f, "Analyzed: %s\n\n", r.AnalyzedAt.Format("2006-01-02 15:04:05"))

	fmt.Fprintf(f, "Summary: %s\n\n", r.SummarySentence)

	if r.ExceptionPresent {
		fmt.Fprintf(f, "Exception: 0x%08X at thread %d, address 0x%x\n", r.ExceptionCode, r.ExceptionThread, r.ExceptionAddress)
	}
	if r.FaultModulePath != "" {
		fmt.Fprintf(f, "Fault module: %s (%s)\n", r.FaultModulePath, r.FaultModulePlusOffset)
	}
	fmt.Fprintln(f)

	if len(r.Suspects) > 0 {
		fmt.Fprintf(f, "Suspects:\n")
		for i, s := range r.Suspects {
			fmt.Fprintf(f, "  %d. %s (score=%d, confidence=%s) — %s\n", i+1, s.Module.Filename, s.Score, s.Confidence, s.Reason)
		}
		fmt.Fprintln(f)
	}

	if r.SignatureMatch != nil {
		fmt.Fprintf(f, "Signature match: %s (%s)\n", r.SignatureMatch.Cause, r.SignatureMatch.Confidence)
		fmt.Fprintln(f)
	}

	if len(r.Evidence) > 0 {
		fmt.Fprintf(f, "Evidence:\n")
		for _, e := range r.Evidence {
			fmt.Fprintf(f, "  [%s] %s: %s\n", e.ConfidenceLevel.String(), e.Title, e.Details)
		}
		fmt.Fprintln(f)
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(f, "Recommendations:\n")
		for _, rec := range r.Recommendations {
			fmt.Fprintf(f, "  - %s\n", rec)
		}
		fmt.Fprintln(f)
	}

	fmt.Fprintf(f, "Crash bucket: %s\n", r.CrashBucketKey)
	return nil
}

// WriteBlackbox writes the decoded blackbox event ring as JSON Lines,
// only when at least one event was decoded.
func (w Writer) WriteBlackbox(dumpPath string, events []model.BlackboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	path := w.stemPath(dumpPath, "_SkyrimDiagBlackbox.jsonl")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create blackbox file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("output: encode blackbox event: %w", err)
		}
	}
	return nil
}

// WriteWct writes a copy of the embedded wait-chain document, only when
// one was present.
func (w Writer) WriteWct(dumpPath string, doc *model.WaitChainDoc) error {
	if doc == nil {
		return nil
	}
	path := w.stemPath(dumpPath, "_SkyrimDiagWct.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create wct file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
