package history

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAppendBoundsAt100(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := Open(path)
	base := time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 105; i++ {
		e := Entry{
			TimestampUTC: base.Add(time.Duration(i) * time.Minute),
			DumpFile:     "dump.dmp",
			BucketKey:    "CTD-abc",
			TopSuspect:   "EvilMod.dll",
			AllSuspects:  []string{"EvilMod.dll"},
		}
		if err := s.Append(e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	doc := s.load()
	if len(doc.Entries) != maxEntries {
		t.Fatalf("expected bounded to %d entries, got %d", maxEntries, len(doc.Entries))
	}
	// Oldest entries should have been evicted from the front.
	if doc.Entries[0].TimestampUTC.Before(base.Add(4 * time.Minute)) {
		t.Fatalf("expected front eviction, oldest kept is %v", doc.Entries[0].TimestampUTC)
	}
}

func TestModuleStatsOverLastSortOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := Open(path)
	base := time.Now()

	entries := []Entry{
		{TimestampUTC: base, TopSuspect: "A.dll", AllSuspects: []string{"A.dll", "B.dll"}},
		{TimestampUTC: base, TopSuspect: "A.dll", AllSuspects: []string{"A.dll", "B.dll"}},
		{TimestampUTC: base, TopSuspect: "B.dll", AllSuspects: []string{"B.dll", "A.dll"}},
	}
	for _, e := range entries {
		if err := s.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	stats := s.ModuleStatsOverLast(0)
	if len(stats) != 2 {
		t.Fatalf("expected 2 modules, got %d", len(stats))
	}
	if stats[0].Module != "A.dll" || stats[0].AsTopSuspect != 2 {
		t.Fatalf("expected A.dll as top with 2 as-top-suspect, got %+v", stats[0])
	}
	if stats[0].TotalAppearances != 3 {
		t.Fatalf("expected A.dll total appearances 3, got %d", stats[0].TotalAppearances)
	}
}

func TestBucketStatsFor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	s := Open(path)
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.Append(Entry{TimestampUTC: t1, BucketKey: "CTD-x", TopSuspect: "A.dll", AllSuspects: []string{"A.dll"}})
	s.Append(Entry{TimestampUTC: t2, BucketKey: "CTD-x", TopSuspect: "A.dll", AllSuspects: []string{"A.dll"}})
	s.Append(Entry{TimestampUTC: t2, BucketKey: "CTD-y", TopSuspect: "B.dll", AllSuspects: []string{"B.dll"}})

	stats := s.BucketStatsFor("CTD-x")
	if stats.Count != 2 {
		t.Fatalf("expected count 2, got %d", stats.Count)
	}
	if !stats.FirstSeen.Equal(t1) || !stats.LastSeen.Equal(t2) {
		t.Fatalf("unexpected first/last seen: %v / %v", stats.FirstSeen, stats.LastSeen)
	}
}
