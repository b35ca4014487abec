// Package history persists a bounded log of past analysis results to a
// single JSON file and derives per-module and per-bucket statistics
// from it. The store is read whole, mutated, and rewritten whole under
// a mutex; once full, the oldest entry is evicted to make room for the
// newest.
package history

import (
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"
)

const maxEntries = 100

// Entry is one recorded analysis pass.
type Entry struct {
	TimestampUTC time.Time `json:"timestamp_utc"`
	DumpFile     string    `json:"dump_file"`
	BucketKey    string    `json:"bucket_key"`
	TopSuspect   string    `json:"top_suspect"`
	Confidence   string    `json:"confidence"`
	SignatureID  string    `json:"signature_id,omitempty"`
	AllSuspects  []string  `json:"all_suspects"`
}

type document struct {
	Version uint32  `json:"version"`
	Entries []Entry `json:"entries"`
}

// Store guards one history file with a mutex so concurrent calls on the
// same Store never interleave a read-mutate-write cycle. Separate Store
// values for the same path do not share the mutex.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a Store bound to path. The file need not exist yet;
// it is created on first Append.
func Open(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() document {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return document{Version: 1}
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{Version: 1}
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	return doc
}

// Append adds e to the log, evicting the oldest entry when the bound is
// exceeded.
func (s *Store) Append(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	doc.Entries = append(doc.Entries, e)
	if len(doc.Entries) > maxEntries {
		doc.Entries = doc.Entries[len(doc.Entries)-maxEntries:]
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// ModuleStats is per-module aggregation over the last N entries.
type ModuleStats struct {
	Module           string
	TotalAppearances int
	AsTopSuspect     int
	TotalCrashes     int
}

// ModuleStatsOverLast returns per-module stats over the most recent n
// entries, sorted by (as_top_suspect desc, total_appearances desc, name
// asc).
func (s *Store) ModuleStatsOverLast(n int) []ModuleStats {
	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()

	entries := doc.Entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}

	byModule := map[string]*ModuleStats{}
	order := []string{}
	get := func(name string) *ModuleStats {
		if st, ok := byModule[name]; ok {
			return st
		}
		st := &ModuleStats{Module: name}
		byModule[name] = st
		order = append(order, name)
		return st
	}

	// Two separate passes, matching the original: one over every entry's
	// suspect list for total_appearances, one over just the top-suspect
	// slot for as_top_suspect. total_crashes is not a per-module tally at
	// all — it is the size of the considered window, the same value
	// stamped onto every row.
	for _, e := range entries {
		for _, m := range e.AllSuspects {
			get(m).TotalAppearances++
		}
	}
	for _, e := range entries {
		if e.TopSuspect == "" {
			continue
		}
		get(e.TopSuspect).AsTopSuspect++
	}

	windowSize := len(entries)
	out := make([]ModuleStats, 0, len(order))
	for _, name := range order {
		if name == "" {
			continue
		}
		st := *byModule[name]
		st.TotalCrashes = windowSize
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AsTopSuspect != out[j].AsTopSuspect {
			return out[i].AsTopSuspect > out[j].AsTopSuspect
		}
		if out[i].TotalAppearances != out[j].TotalAppearances {
			return out[i].TotalAppearances > out[j].TotalAppearances
		}
		return out[i].Module < out[j].Module
	})
	return out
}

// BucketStats is aggregation over one bucket key across all entries.
type BucketStats struct {
	Count     int
	FirstSeen time.Time
	LastSeen  time.Time
}

// BucketStatsFor computes BucketStats for bucketKey over the full log.
func (s *Store) BucketStatsFor(bucketKey string) BucketStats {
	s.mu.Lock()
	doc := s.load()
	s.mu.Unlock()

	var stats BucketStats
	for _, e := range doc.Entries {
		if e.BucketKey != bucketKey {
			continue
		}
		stats.Count++
		if stats.FirstSeen.IsZero() || e.TimestampUTC.Before(stats.FirstSeen) {
			stats.FirstSeen = e.TimestampUTC
		}
		if stats.LastSeen.IsZero() || e.TimestampUTC.After(stats.LastSeen) {
			stats.LastSeen = e.TimestampUTC
		}
	}
	return stats
}
