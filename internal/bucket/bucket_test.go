package bucket

import "testing"

func TestKeyDeterministic(t *testing.T) {
	a := Key(0xC0000005, "EvilMod.dll", []string{"EvilMod.dll+100", "SkyrimSE.exe+200"})
	b := Key(0xC0000005, "EvilMod.dll", []string{"EvilMod.dll+100", "SkyrimSE.exe+200"})
	if a != b {
		t.Fatalf("expected identical keys, got %q vs %q", a, b)
	}
}

func TestKeyFormat(t *testing.T) {
	k := Key(0xC0000005, "EvilMod.dll", nil)
	if len(k) != len("CTD-") + 16 {
		t.Fatalf("unexpected key length: %q", k)
	}
	if k[:4] != "CTD-" {
		t.Fatalf("expected CTD- prefix, got %q", k)
	}
}

func TestKeyChangesWithFrameOrder(t *testing.T) {
	a := Key(0xC0000005, "EvilMod.dll", []string{"a", "b"})
	b := Key(0xC0000005, "EvilMod.dll", []string{"b", "a"})
	if a == b {
		t.Fatal("expected frame-order change to change the key")
	}
}

func TestKeyChangesWithExceptionCode(t *testing.T) {
	a := Key(0xC0000005, "EvilMod.dll", nil)
	b := Key(0xC0000006, "EvilMod.dll", nil)
	if a == b {
		t.Fatal("expected exception-code change to change the key")
	}
}

func TestKeyCaseAndWhitespaceInsensitiveModule(t *testing.T) {
	a := Key(1, "  EvilMod.DLL  ", nil)
	b := Key(1, "evilmod.dll", nil)
	if a != b {
		t.Fatalf("expected case/whitespace-insensitive module match, got %q vs %q", a, b)
	}
}

func TestKeyNonASCIIFallback(t *testing.T) {
	a := Key(1, "модfile.dll", nil)
	if a == "" {
		t.Fatal("expected non-empty key for non-ASCII input")
	}
}

func TestKeyIgnoresFramesPastSix(t *testing.T) {
	frames7 := []string{"f0", "f1", "f2", "f3", "f4", "f5", "EXTRA"}
	frames6 := []string{"f0", "f1", "f2", "f3", "f4", "f5"}
	a := Key(1, "mod", frames7)
	b := Key(1, "mod", frames6)
	if a != b {
		t.Fatalf("expected 7th frame to be ignored, got %q vs %q", a, b)
	}
}
