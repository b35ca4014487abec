package minidump

import (
	"bytes"
	"testing"
)

func TestModuleIndexFindUpperBoundPredecessor(t *testing.T) {
	mods := []struct {
		base, size uint64
		name       string
	}{
		{base: 0x10000, size: 0x1000, name: `C:\Windows\System32\ntdll.dll`},
		{base: 0x20000, size: 0x2000, name: `C:\Games\Skyrim\Data\SKSE\Plugins\Foo.dll`},
		{base: 0x30000, size: 0x500, name: `C:\Games\Skyrim\SkyrimSE.exe`},
	}

	raw := buildTestDump(moduleListBuilder(mods))
	mf := mappedFromBytes(raw)
	v, err := Open(mf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mi, err := LoadModules(v)
	if err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if len(mi.All()) != 3 {
		t.Fatalf("expected 3 modules, got %d", len(mi.All()))
	}

	tests := []struct {
		addr    uint64
		wantHit bool
		wantBase uint64
	}{
		{0xFFFF, false, 0},
		{0x10000, true, 0x10000},
		{0x10FFF, true, 0x10000},
		{0x11000, false, 0}, // gap between module 0 end and module 1 base
		{0x21FFF, true, 0x20000},
		{0x30000 + 0x500 - 1, true, 0x30000}, // module.end - 1 is still a hit
		{0x30000 + 0x500, false, 0},
	}
	for _, tc := range tests {
		m, ok := mi.Find(tc.addr)
		if ok != tc.wantHit {
			t.Errorf("Find(0x%x) ok=%v want=%v", tc.addr, ok, tc.wantHit)
			continue
		}
		if ok && m.Base != tc.wantBase {
			t.Errorf("Find(0x%x) base=0x%x want=0x%x", tc.addr, m.Base, tc.wantBase)
		}
	}

	ntdll, ok := mi.Find(0x10000)
	if !ok || !ntdll.IsSystem {
		t.Errorf("ntdll.dll should classify as system")
	}
	exe, ok := mi.Find(0x30000)
	if !ok || !exe.IsGameExe {
		t.Errorf("SkyrimSE.exe should classify as game exe")
	}
	plugin, ok := mi.Find(0x20000)
	if !ok || plugin.InferredModName != "" {
		// no \mods\ in path, so inferred name should be empty
		t.Errorf("expected empty inferred mod name, got %q", plugin.InferredModName)
	}
}

func TestIsGameExeMatchesGroundTruthAllowlist(t *testing.T) {
	for _, name := range []string{"skyrimse.exe", "skyrimae.exe", "skyrimvr.exe", "skyrim.exe"} {
		if !isGameExe(name) {
			t.Errorf("expected %q to classify as game exe", name)
		}
	}
	for _, name := range []string{"fallout4.exe", "fallout4vr.exe", "falloutnv.exe", "notepad.exe"} {
		if isGameExe(name) {
			t.Errorf("expected %q to NOT classify as game exe", name)
		}
	}
}

func TestLoadModulesEmptyStream(t *testing.T) {
	raw := buildTestDump()
	mf := mappedFromBytes(raw)
	v, err := Open(mf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mi, err := LoadModules(v)
	if err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if len(mi.All()) != 0 {
		t.Fatalf("expected empty module table, got %d", len(mi.All()))
	}
}

func TestLoadModulesRejectsOverclaimedCount(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0x7F}) // declares ~2 billion modules
	raw := buildTestDump(func(b *bytes.Buffer) (uint32, uint32) {
		b.Write(buf.Bytes())
		return StreamModuleList, uint32(buf.Len())
	})
	mf := mappedFromBytes(raw)
	v, err := Open(mf)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mi, err := LoadModules(v)
	if err != nil {
		t.Fatalf("LoadModules should not error, got %v", err)
	}
	if len(mi.All()) != 0 {
		t.Fatalf("expected empty table for implausible count, got %d", len(mi.All()))
	}
}

func TestOpenRejectsBadSignature(t *testing.T) {
	raw := buildTestDump()
	raw[0] = 0x00
	mf := mappedFromBytes(raw)
	_, err := Open(mf)
	if err == nil {
		t.Fatal("expected error for bad signature")
	}
}
