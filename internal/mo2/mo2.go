// Package mo2 infers a Mod Organizer 2 install from the minidump's
// module paths and reads its profile/modlist state to produce a
// winner-first provider ordering for a given relative file path. File
// and directory access uses stdlib os/filepath only: MO2's own files
// are flat line-oriented text, not a format that calls for a parsing
// library.
package mo2

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modsMarker = `\mods\`

// FindBase scans module paths for a `\mods\` path segment and returns
// the MO2 installation root, or "" if none is found.
func FindBase(modulePaths []string) string {
	for _, p := range modulePaths {
		lower := strings.ToLower(p)
		idx := strings.Index(lower, strings.ToLower(modsMarker))
		if idx < 0 {
			continue
		}
		return p[:idx]
	}
	return ""
}

// Index is the resolved MO2 state for one base install.
type Index struct {
	Base          string
	ModsByName    map[string]string // lowercased name -> absolute path
	WinnerFirst   []string          // enabled mod names, winner (highest priority) first
	Unused        []string          // installed but not enabled, sorted lowercase
	ProfileDir    string
	OverwriteDir  string
}

// Load builds an Index for base by enumerating <base>\mods, resolving
// the active profile, and reading its modlist.txt.
func Load(base string) (*Index, error) {
	idx := &Index{
		Base:         base,
		ModsByName:   map[string]string{},
		OverwriteDir: filepath.Join(base, "overwrite"),
	}

	modsDir := filepath.Join(base, "mods")
	entries, err := os.ReadDir(modsDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				idx.ModsByName[strings.ToLower(e.Name())] = filepath.Join(modsDir, e.Name())
			}
		}
	}

	// The selected profile only counts if its directory actually exists;
	// a stale or renamed selected_profile= falls through to the
	// mtime-based fallback exactly as TryPickMo2ProfileDir does.
	if profile := resolveProfile(base); profile != "" {
		dir := filepath.Join(base, "profiles", profile)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			idx.ProfileDir = dir
		}
	}
	if idx.ProfileDir == "" {
		idx.ProfileDir = latestProfileByModlistMtime(base)
	}

	var enabled []string
	if idx.ProfileDir != "" {
		enabled = readModlistWinnerFirst(filepath.Join(idx.ProfileDir, "modlist.txt"))
	}
	idx.WinnerFirst = enabled

	enabledSet := map[string]bool{}
	for _, m := range enabled {
		enabledSet[strings.ToLower(m)] = true
	}
	var unused []string
	for name := range idx.ModsByName {
		if !enabledSet[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	idx.Unused = unused

	return idx, nil
}

// resolveProfile reads ModOrganizer.ini's selected_profile= key, undoing
// the optional @ByteArray(...) wrapping MO2 sometimes applies to the
// value.
func resolveProfile(base string) string {
	f, err := os.Open(filepath.Join(base, "ModOrganizer.ini"))
	if err != nil {
		return ""
	}
	defer f.Close()

	const key = "selected_profile="
	const byteArrayPrefix = "@ByteArray("
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, key) {
			continue
		}
		v := strings.TrimPrefix(line, key)
		if strings.HasPrefix(v, byteArrayPrefix) && strings.HasSuffix(v, ")") {
			v = v[len(byteArrayPrefix) : len(v)-1]
		}
		return v
	}
	return ""
}

// latestProfileByModlistMtime falls back to the profile whose
// modlist.txt has the largest mtime when no selected_profile is found.
func latestProfileByModlistMtime(base string) string {
	profilesDir := filepath.Join(base, "profiles")
	entries, err := os.ReadDir(profilesDir)
	if err != nil {
		return ""
	}
	var best string
	var bestMod int64
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(profilesDir, e.Name(), "modlist.txt")
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mt := info.ModTime().Unix(); best == "" || mt > bestMod {
			best = filepath.Join(profilesDir, e.Name())
			bestMod = mt
		}
	}
	return best
}

// readModlistWinnerFirst reads modlist.txt bottom-up (MO2 stores its
// lowest-priority mod first), keeping "+"-prefixed (enabled) entries and
// deduplicating case-insensitively, producing winner-first order.
func readModlistWinnerFirst(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")

	seen := map[string]bool{}
	var out []string
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "+") {
			continue
		}
		name := strings.TrimPrefix(line, "+")
		lower := strings.ToLower(name)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, name)
	}
	return out
}

// Providers returns, truncated to max, the ordered list of locations
// that could supply relPath: "overwrite" first if present there, then
// each enabled mod (winner-first) whose directory contains the path.
func (idx *Index) Providers(relPath string, max int) []string {
	var out []string
	if fileExists(filepath.Join(idx.OverwriteDir, relPath)) {
		out = append(out, "overwrite")
	}
	for _, name := range idx.WinnerFirst {
		dir, ok := idx.ModsByName[strings.ToLower(name)]
		if !ok {
			continue
		}
		if fileExists(filepath.Join(dir, relPath)) {
			out = append(out, name)
		}
		if len(out) >= max {
			break
		}
	}
	if len(out) > max {
		out = out[:max]
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
