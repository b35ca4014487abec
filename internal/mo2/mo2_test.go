package mo2

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindBase(t *testing.T) {
	paths := []string{
		`C:\Windows\System32\ntdll.dll`,
		`C:\MO2\mods\SkyUI\SKSE\Plugins\SkyUI_SE.dll`,
	}
	base := FindBase(paths)
	if base != `C:\MO2` {
		t.Fatalf("expected C:\\MO2, got %q", base)
	}
}

func TestFindBaseNoMatch(t *testing.T) {
	if b := FindBase([]string{`C:\Games\Skyrim\SkyrimSE.exe`}); b != "" {
		t.Fatalf("expected empty base, got %q", b)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadWinnerFirstAndProviders(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "ModOrganizer.ini"), "selected_profile=@ByteArray(Default)\n")
	writeFile(t, filepath.Join(base, "mods", "SkyUI", "interface", "skyui.swf"), "x")
	writeFile(t, filepath.Join(base, "mods", "USSEP", "meshes", "foo.nif"), "x")
	writeFile(t, filepath.Join(base, "profiles", "Default", "modlist.txt"),
		"+USSEP\n+SkyUI\n-DisabledMod\n")

	idx, err := Load(base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(idx.WinnerFirst) != 2 || idx.WinnerFirst[0] != "SkyUI" || idx.WinnerFirst[1] != "USSEP" {
		t.Fatalf("unexpected winner-first order: %v", idx.WinnerFirst)
	}

	providers := idx.Providers("interface/skyui.swf", 5)
	if len(providers) != 1 || providers[0] != "SkyUI" {
		t.Fatalf("expected only SkyUI to provide interface/skyui.swf, got %v", providers)
	}

	dir, ok := idx.ModsByName["skyui"]
	if !ok || filepath.Base(dir) != "SkyUI" {
		t.Fatalf("expected SkyUI mod dir mapping, got %v ok=%v", dir, ok)
	}
}

func TestLoadFallsBackWhenSelectedProfileDirMissing(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "ModOrganizer.ini"), "selected_profile=GoneProfile\n")
	writeFile(t, filepath.Join(base, "profiles", "Fallback", "modlist.txt"), "+OnlyMod\n")

	idx, err := Load(base)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if filepath.Base(idx.ProfileDir) != "Fallback" {
		t.Fatalf("expected fallback to mtime-newest profile, got %q", idx.ProfileDir)
	}
	if len(idx.WinnerFirst) != 1 || idx.WinnerFirst[0] != "OnlyMod" {
		t.Fatalf("unexpected winner-first order: %v", idx.WinnerFirst)
	}
}

func TestReadModlistWinnerFirstDedupesCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modlist.txt")
	writeFile(t, path, "+ModA\n+moda\n+ModB\n")
	got := readModlistWinnerFirst(path)
	if len(got) != 2 {
		t.Fatalf("expected dedupe to 2 entries, got %v", got)
	}
	// bottom-up: ModB read first, then moda (deduped against earlier? no ModA not yet seen)
	if got[0] != "ModB" {
		t.Fatalf("expected ModB first (bottom of file = highest priority), got %v", got)
	}
}
