// Package model holds the plain data types shared across the analysis
// pipeline: the minidump-derived tables, the fused diagnosis, and the
// sidecar structures read alongside the dump.
package model

import (
	"strings"
	"time"
)

// Language selects which of the two supported locales an EvidenceItem,
// recommendation, or summary sentence is rendered in.
type Language int

const (
	English Language = iota
	Korean
)

// ConfidenceLevel is the confidence tag attached to a SuspectItem or
// EvidenceItem.
type ConfidenceLevel int

const (
	Unknown ConfidenceLevel = iota
	Low
	Medium
	High
)

func (c ConfidenceLevel) String() string {
	switch c {
	case High:
		return "High"
	case Medium:
		return "Medium"
	case Low:
		return "Low"
	default:
		return "Unknown"
	}
}

// ParseConfidenceLevel maps a rule file's lowercase confidence string
// ("high"/"medium"/"low") to a ConfidenceLevel, defaulting to Medium for
// anything else.
func ParseConfidenceLevel(s string) ConfidenceLevel {
	switch strings.ToLower(s) {
	case "high":
		return High
	case "low":
		return Low
	case "medium":
		return Medium
	default:
		return Medium
	}
}

// Demote drops a confidence level by one step, floored at Low.
func (c ConfidenceLevel) Demote() ConfidenceLevel {
	switch c {
	case High:
		return Medium
	case Medium:
		return Low
	default:
		return Low
	}
}

// Module is a single entry from the minidump's ModuleList stream,
// classified during ModuleIndex construction.
type Module struct {
	Base                 uint64
	End                  uint64
	Path                 string
	Filename             string
	Version              string
	InferredModName      string
	IsSystem             bool
	IsGameExe            bool
	IsKnownHookFramework bool
}

// Thread is a single entry from the minidump's ThreadList stream.
type Thread struct {
	TID         uint32
	StackStart  uint64
	StackSize   uint64
	StackRVA    uint32
	ContextRVA  uint32
	ContextSize uint32
}

// CPUContext carries the subset of the platform register record the
// stack walker needs. Unfilled fields are left zero.
type CPUContext struct {
	RIP uint64
	RSP uint64
	RBP uint64
}

// MemoryRange is one contiguous, bounds-checked view into the dump's
// memory streams or a synthesized thread-stack range.
type MemoryRange struct {
	Start uint64
	End   uint64
	Bytes []byte
}

// ExceptionInfo mirrors the minidump ExceptionStream, when present.
type ExceptionInfo struct {
	Code     uint32
	ThreadID uint32
	Address  uint64
	Info     []uint64
}

// BlackboxEvent is one decoded in-process probe event.
type BlackboxEvent struct {
	Index   uint64
	TimeMS  uint64
	TID     uint32
	Type    string
	Payload [4]uint64
}

// ResourceLogEntry is one decoded resource-load record from the tail of
// the blackbox ring.
type ResourceLogEntry struct {
	TID      uint32
	TimeMS   uint64
	Path     string
	PathHash uint64
	Ext      string // "nif", "hkx", "tri", or "(unknown)"
}

// WaitChainCapture is the optional capture-decision payload embedded in
// a WaitChainDoc.
type WaitChainCapture struct {
	Kind                 string
	SecondsSinceHeartbeat float64
	ThresholdSec         float64
	IsLoading            bool
}

// WaitChainThread is one thread entry in a WaitChainDoc.
type WaitChainThread struct {
	TID     uint32
	IsCycle bool
	Nodes   []string
}

// WaitChainDoc is the optional embedded wait-chain JSON document.
type WaitChainDoc struct {
	Threads []WaitChainThread
	Capture *WaitChainCapture
}

// SuspectItem is one ranked candidate module produced by the Scorer.
type SuspectItem struct {
	ConfidenceLevel ConfidenceLevel
	Confidence      string
	Module          Module
	InferredModName string
	Score           uint32
	Reason          string
}

// EvidenceItem is one localized line of supporting evidence in the final
// report.
type EvidenceItem struct {
	ConfidenceLevel ConfidenceLevel
	Title           string
	Details         string
}

// SignatureMatch is the result of applying the signature rule database.
type SignatureMatch struct {
	ID                string
	Cause             string
	Confidence        string
	Recommendations   []string
}

// PluginDiagnosis is one firing plugin rule.
type PluginDiagnosis struct {
	ID    string
	Cause string
}

// GraphicsDiagnosis is a firing graphics-injection rule.
type GraphicsDiagnosis struct {
	ID    string
	Cause string
}

// CppExceptionInfo is the parsed "C++ EXCEPTION:" block from a crash log.
type CppExceptionInfo struct {
	Type          string
	Info          string
	ThrowLocation string
	Module        string
}

// SymbolProvenance counts how many stack-walked frames resolved to a
// symbol versus address-only.
type SymbolProvenance struct {
	Symbolicated int
	AddressOnly  int
}

// ResourceSummary is one loaded-resource record annotated with its MO2
// provider chain, for the output summary's resources list.
type ResourceSummary struct {
	TimeMS     uint64
	TID        uint32
	Kind       string
	Path       string
	Providers  []string
	IsConflict bool
}

// AnalysisResult is the single value produced by one analysis pass.
type AnalysisResult struct {
	DumpPath   string
	PID        uint32
	Language   Language

	ExceptionPresent bool
	ExceptionCode    uint32
	ExceptionThread  uint32
	ExceptionAddress uint64

	FaultModulePlusOffset string
	FaultModulePath       string
	FaultModuleUnknown    bool
	InferredModName       string

	Suspects          []SuspectItem
	Stackwalk         []string // formatted frames
	StackwalkThreadID uint32   // thread selected for walking

	SignatureMatch *SignatureMatch
	GraphicsDiag   []GraphicsDiagnosis
	PluginDiags    []PluginDiagnosis
	MissingMasters []string

	Evidence        []EvidenceItem
	Recommendations []string
	SummarySentence string
	StateFlags      []string

	Resources []ResourceSummary

	CrashBucketKey string

	SymProvenance SymbolProvenance

	CrashLogPath    string
	CrashLogVersion string
	CrashLogTop     []string
	CppException    *CppExceptionInfo

	AnalyzedAt time.Time
}
