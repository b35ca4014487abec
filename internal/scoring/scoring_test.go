package scoring

import (
	"testing"

	"github.com/skyrimdiag/dumptool/internal/model"
)

func mod(path, file string, hook bool) model.Module {
	return model.Module{Path: path, Filename: file, IsKnownHookFramework: hook}
}

func TestFromCallstackRanksByWeightThenDepth(t *testing.T) {
	plugin := mod(`C:\Data\SKSE\Plugins\EvilPlugin.dll`, "EvilPlugin.dll", false)
	sysMod := mod(`C:\Windows\System32\ntdll.dll`, "ntdll.dll", false)
	sysMod.IsSystem = true

	pcs := []uint64{1, 2, 3} // all resolve to `plugin` except addr 2 -> system
	find := func(pc uint64) (model.Module, bool) {
		if pc == 2 {
			return sysMod, true
		}
		return plugin, true
	}
	suspects := FromCallstack(find, pcs)
	if len(suspects) != 1 {
		t.Fatalf("expected 1 suspect, got %d", len(suspects))
	}
	// weight(0) + weight(2) = 16 + 8 = 24, firstDepth 0 -> High confidence
	if suspects[0].Score != 24 {
		t.Errorf("expected score 24, got %d", suspects[0].Score)
	}
	if suspects[0].ConfidenceLevel != model.High {
		t.Errorf("expected High confidence, got %v", suspects[0].ConfidenceLevel)
	}
}

func TestFromCallstackDemotesHookFrameworkTop(t *testing.T) {
	hook := mod(`C:\Data\SKSE\Plugins\po3_SmartHarvest.dll`, "po3_SmartHarvestSE.dll", true)
	rival := mod(`C:\Data\SKSE\Plugins\SuspectMod.dll`, "SuspectMod.dll", false)

	// Hook framework scores higher at depth 0, rival close behind (near-tie).
	find := func(pc uint64) (model.Module, bool) {
		switch pc {
		case 1:
			return hook, true // depth 0, weight 16
		case 2:
			return rival, true // depth 1, weight 12 -- within 4 of 16, near tie
		}
		return model.Module{}, false
	}
	suspects := FromCallstack(find, []uint64{1, 2})
	if len(suspects) != 2 {
		t.Fatalf("expected 2 suspects, got %d", len(suspects))
	}
	if suspects[0].Module.Filename != "SuspectMod.dll" {
		t.Fatalf("expected rival promoted to top, got %s", suspects[0].Module.Filename)
	}
}

func TestFromStackScanWeighting(t *testing.T) {
	plugin := mod(`C:\Data\SKSE\Plugins\Foo.dll`, "Foo.dll", false)
	find := func(addr uint64) (model.Module, bool) {
		if addr == 0xDEAD {
			return plugin, true
		}
		return model.Module{}, false
	}
	words := []uint64{0xDEAD, 0, 0xDEAD, 0xDEAD, 0xDEAD, 0xDEAD}
	suspects := FromStackScan(find, words)
	if len(suspects) != 1 {
		t.Fatalf("expected 1 suspect, got %d", len(suspects))
	}
	// slot index is the position in `words`, not the filtered count:
	// slots 0,2,3 are < 4 => 8 each, slots 4,5 are in [4,16) => 4 each.
	// total = 8+8+8+4+4 = 32
	if suspects[0].Score != 32 {
		t.Errorf("expected score 32, got %d", suspects[0].Score)
	}
}

func TestNoSuspectsWhenEmpty(t *testing.T) {
	find := func(uint64) (model.Module, bool) { return model.Module{}, false }
	if s := FromCallstack(find, []uint64{1, 2, 3}); s != nil {
		t.Errorf("expected nil suspects, got %v", s)
	}
}
