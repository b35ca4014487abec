package evidence

import (
	"strings"
	"testing"

	"github.com/skyrimdiag/dumptool/internal/model"
	"github.com/skyrimdiag/dumptool/internal/rules"
)

func TestClassifyCrashLike(t *testing.T) {
	in := Input{ExceptionCode: 0xC0000005, NameHasCrash: true}
	c := Classify(in)
	if !c.HasException || !c.IsCrashLike || c.IsHangLike || c.IsSnapshotLike {
		t.Fatalf("unexpected classification: %+v", c)
	}
}

func TestClassifySnapshotLike(t *testing.T) {
	in := Input{HeartbeatAgeSec: 100}
	c := Classify(in)
	if c.IsCrashLike || c.IsHangLike || !c.IsSnapshotLike {
		t.Fatalf("expected snapshot-like, got %+v", c)
	}
}

func TestClassifyHangLikeFromWct(t *testing.T) {
	in := Input{WctCapture: &model.WaitChainCapture{ThresholdSec: 30, SecondsSinceHeartbeat: 45}}
	c := Classify(in)
	if !c.WctSuggestsHang || !c.IsHangLike || c.IsCrashLike {
		t.Fatalf("expected hang-like, got %+v", c)
	}
}

func TestClassifyHangHintSuppressedByFreshHeartbeat(t *testing.T) {
	in := Input{NameHasHang: true, HeartbeatAgeSec: 1.0}
	c := Classify(in)
	if c.NameHangEffective {
		t.Fatal("expected fresh heartbeat to suppress the hang name hint")
	}
}

func TestBuildSummarySignaturePriority(t *testing.T) {
	in := Input{
		ExceptionCode: 0xC0000005,
		SignatureID:   "null-deref",
		SignatureDoc:  &rules.Diagnosis{CauseEn: "Null pointer dereference", Confidence: "high"},
	}
	c := Classify(in)
	summary := BuildSummary(in, c)
	if !strings.Contains(summary, "Null pointer dereference") || !strings.Contains(summary, "(High)") {
		t.Fatalf("expected signature-driven summary, got %q", summary)
	}
}

func TestBuildEvidenceFixedOrderIncludesTopSuspectAndMissingMasters(t *testing.T) {
	in := Input{
		MissingMasters: []string{"Requiem.esm"},
		Suspects: []model.SuspectItem{
			{ConfidenceLevel: model.High, Confidence: "High", Module: model.Module{Filename: "EvilMod.dll"}, Reason: "Callstack weight=24"},
		},
	}
	c := Classify(in)
	items := BuildEvidence(in, c)
	var sawMissing, sawTop bool
	for _, it := range items {
		if it.Title == "Missing masters" {
			sawMissing = true
		}
		if it.Title == "Top suspect" {
			sawTop = true
		}
	}
	if !sawMissing || !sawTop {
		t.Fatalf("expected missing-masters and top-suspect items, got %+v", items)
	}
}

func TestBuildEvidenceUsesRuleDiagnosisConfidenceNotHardcodedMedium(t *testing.T) {
	in := Input{
		GraphicsFirings: []rules.Firing{{ID: "enb-conflict", Diagnosis: rules.Diagnosis{CauseEn: "ENB/ReShade conflict", Confidence: "low"}}},
		PluginFirings:   []rules.Firing{{ID: "missing-master", Diagnosis: rules.Diagnosis{CauseEn: "Missing master", Confidence: "high"}}},
	}
	c := Classify(in)
	items := BuildEvidence(in, c)
	var sawGraphics, sawPlugin bool
	for _, it := range items {
		if it.Title == "Graphics injection detected" {
			sawGraphics = true
			if it.ConfidenceLevel != model.Low {
				t.Errorf("expected graphics item confidence Low (from rule), got %v", it.ConfidenceLevel)
			}
		}
		if it.Title == "Plugin rule diagnosis" {
			sawPlugin = true
			if it.ConfidenceLevel != model.High {
				t.Errorf("expected plugin item confidence High (from rule), got %v", it.ConfidenceLevel)
			}
		}
	}
	if !sawGraphics || !sawPlugin {
		t.Fatalf("expected both graphics and plugin evidence items, got %+v", items)
	}
}

func TestExceptionExplanationClassifiesAccessViolationKind(t *testing.T) {
	got := exceptionExplanation(model.English, 0xC0000005, 0xDEAD0000, []uint64{1, 0x7FFE0000})
	if !strings.Contains(got, "write") || !strings.Contains(got, "0x7ffe0000") {
		t.Fatalf("expected write-kind explanation with the faulting address, got %q", got)
	}
}

func TestExceptionExplanationFallsBackWithoutInfoSlots(t *testing.T) {
	got := exceptionExplanation(model.English, 0xC0000005, 0xDEAD0000, nil)
	if !strings.Contains(got, "0xdead0000") {
		t.Fatalf("expected the address-only fallback, got %q", got)
	}
}

func TestExceptionExplanationReportsInPageErrorStatus(t *testing.T) {
	got := exceptionExplanation(model.English, 0xC0000006, 0, []uint64{0, 0x1000, 0xC0000185})
	if !strings.Contains(got, "read") || !strings.Contains(got, "0xc0000185") {
		t.Fatalf("expected read-kind explanation with NTSTATUS, got %q", got)
	}
}

func TestBuildRecommendationsHangTag(t *testing.T) {
	in := Input{WctCapture: &model.WaitChainCapture{ThresholdSec: 10, SecondsSinceHeartbeat: 20}}
	c := Classify(in)
	recs := BuildRecommendations(in, c)
	if len(recs) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	found := false
	for _, r := range recs {
		if len(r) > 6 && r[:6] == "[Hang]" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a [Hang]-tagged recommendation, got %v", recs)
	}
}
