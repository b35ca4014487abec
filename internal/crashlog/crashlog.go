// Package crashlog discovers and parses the third-party crash-logger
// text file that may sit alongside a minidump, in either of its two
// dialects. Token scanning is an ASCII-only, allocation-light byte
// scan rather than a regexp-based one, since the source format is a
// fixed, line-oriented ASCII log.
package crashlog

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/skyrimdiag/dumptool/internal/model"
)

var systemModuleAllowlist = map[string]bool{
	"kernelbase.dll": true, "ntdll.dll": true, "kernel32.dll": true, "ucrtbase.dll": true,
	"msvcp140.dll": true, "vcruntime140.dll": true, "vcruntime140_1.dll": true, "concrt140.dll": true,
	"user32.dll": true, "gdi32.dll": true, "combase.dll": true, "ole32.dll": true,
	"ws2_32.dll": true,
}

var gameExeNames = map[string]bool{
	"skyrimse.exe": true, "skyrimae.exe": true, "skyrimvr.exe": true, "skyrim.exe": true,
}

const maxTopModules = 8

var filenameTimestampRE = regexp.MustCompile(`(\d{8})_(\d{6})`)
var logTimestampRE = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})-(\d{2})-(\d{2})-(\d{2})`)

// DumpTimestamp resolves the dump's best-effort timestamp: the
// filename's YYYYMMDD_HHMMSS token, else the file's mtime.
func DumpTimestamp(dumpPath string) time.Time {
	base := filepath.Base(dumpPath)
	if m := filenameTimestampRE.FindStringSubmatch(base); m != nil {
		if t, ok := parseCompactTimestamp(m[1], m[2]); ok {
			return t
		}
	}
	if info, err := os.Stat(dumpPath); err == nil {
		return info.ModTime()
	}
	return time.Time{}
}

func parseCompactTimestamp(ymd, hms string) (time.Time, bool) {
	t, err := time.Parse("20060102150405", ymd+hms)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func logTimestamp(name string) (time.Time, bool) {
	m := logTimestampRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	layout := "2006-01-02-15-04-05"
	joined := m[1] + "-" + m[2] + "-" + m[3] + "-" + m[4] + "-" + m[5] + "-" + m[6]
	t, err := time.Parse(layout, joined)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

const proximityWindow = 30 * time.Minute

// Discover searches candidateDirs for the crash log file whose
// timestamp is within 30 minutes of dumpTime, preferring the smallest
// distance. A candidate must also pass the heuristic signature check.
func Discover(candidateDirs []string, dumpTime time.Time) string {
	var best string
	var bestDist time.Duration = -1

	for _, dir := range candidateDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			path := filepath.Join(dir, e.Name())
			ts, ok := logTimestamp(e.Name())
			if !ok {
				if info, err := os.Stat(path); err == nil {
					ts = info.ModTime()
				} else {
					continue
				}
			}
			dist := ts.Sub(dumpTime)
			if dist < 0 {
				dist = -dist
			}
			if dist > proximityWindow {
				continue
			}
			data, err := os.ReadFile(path)
			if err != nil || !looksLikeCrashLoggerLog(string(data)) {
				continue
			}
			if bestDist == -1 || dist < bestDist {
				best = path
				bestDist = dist
			}
		}
	}
	return best
}

func looksLikeCrashLoggerLog(text string) bool {
	prefix := text
	if len(prefix) > 4096 {
		prefix = prefix[:4096]
	}
	lower := strings.ToLower(prefix)
	if !strings.Contains(lower, "crashlogger") {
		return false
	}
	return strings.Contains(lower, "crash time:") ||
		strings.Contains(lower, "thread dump") ||
		strings.Contains(lower, "probable call stack") ||
		strings.Contains(lower, "process info:")
}

// ParseResult is everything Parse can extract; a parse failure never
// surfaces as an error, only as a zero-value ParseResult.
type ParseResult struct {
	Version      string
	TopModules   []string
	CppException *model.CppExceptionInfo
}

// Parse reads and parses a discovered crash log. Any I/O failure yields
// an empty ParseResult.
func Parse(path string) ParseResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParseResult{}
	}
	text := string(data)
	return ParseResult{
		Version:      parseVersion(text),
		TopModules:   parseTopModules(text),
		CppException: parseCppException(text),
	}
}

// parseVersion scans the first 32 lines for a "CrashLoggerSSE vX.Y.Z"
// token.
func parseVersion(text string) string {
	sc := bufio.NewScanner(strings.NewReader(text))
	for i := 0; i < 32 && sc.Scan(); i++ {
		line := strings.TrimRight(sc.Text(), "\r")
		lower := strings.ToLower(line)
		clPos := strings.Index(lower, "crashloggersse")
		if clPos < 0 {
			continue
		}
		vRel := strings.IndexByte(lower[clPos:], 'v')
		if vRel < 0 {
			continue
		}
		vPos := clPos + vRel
		if vPos+1 >= len(lower) {
			continue
		}
		if !isDigit(lower[vPos+1]) {
			continue
		}
		end := vPos + 1
		for end < len(lower) {
			c := lower[end]
			if !(isDigit(c) || c == '.' || c == '-' || isAlpha(c)) {
				break
			}
			end++
		}
		if end <= vPos+1 {
			continue
		}
		return line[vPos:end]
	}
	return ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// extractModulePlusOffsetToken finds the first "<name>.(dll|exe)+<hex>"
// token in line.
func extractModulePlusOffsetToken(line string) (string, bool) {
	lower := strings.ToLower(line)
	pos := strings.Index(lower, ".dll+")
	plusLen := 5
	if exe := strings.Index(lower, ".exe+"); exe >= 0 && (pos < 0 || exe < pos) {
		pos = exe
	}
	if pos < 0 {
		return "", false
	}

	start := pos
	for start > 0 {
		c := line[start-1]
		if c == ' ' || c == '\t' {
			break
		}
		start--
	}

	end := pos + plusLen
	for end < len(line) {
		c := lower[end]
		if !isHex(c) {
			break
		}
		end++
	}
	if end <= start {
		return "", false
	}
	return line[start:end], true
}

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// parseTopModules aggregates module-name frequency from whichever
// dialect the log uses, drops system/game-exe names, and returns up to
// eight, sorted by (count desc, name asc).
func parseTopModules(text string) []string {
	isThreadDump := strings.Contains(strings.ToLower(text), "thread dump")
	freq := map[string]int{}

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	if isThreadDump {
		inBlock := false
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if !inBlock {
				if strings.Contains(strings.ToLower(line), "callstack:") {
					inBlock = true
				}
				continue
			}
			if line == "" || strings.HasPrefix(line, "=") {
				inBlock = false
				continue
			}
			addTopModuleToken(line, freq)
		}
	} else {
		inStack := false
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if !inStack {
				if strings.Contains(strings.ToLower(line), "probable call stack") {
					inStack = true
				}
				continue
			}
			lower := strings.ToLower(line)
			if line == "" || strings.Contains(lower, "registers:") || strings.Contains(lower, "modules:") {
				break
			}
			addTopModuleToken(line, freq)
		}
	}

	type row struct {
		name  string
		count int
	}
	rows := make([]row, 0, len(freq))
	for k, v := range freq {
		rows = append(rows, row{k, v})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].name < rows[j].name
	})

	out := make([]string, 0, maxTopModules)
	for _, r := range rows {
		if systemModuleAllowlist[r.name] || gameExeNames[r.name] {
			continue
		}
		out = append(out, r.name)
		if len(out) >= maxTopModules {
			break
		}
	}
	return out
}

func addTopModuleToken(line string, freq map[string]int) {
	tok, ok := extractModulePlusOffsetToken(line)
	if !ok {
		return
	}
	lower := strings.ToLower(tok)
	plus := strings.IndexByte(lower, '+')
	if plus <= 0 {
		return
	}
	freq[lower[:plus]]++
}

// parseCppException extracts the "C++ EXCEPTION:" block's indented
// Type/Info/Throw Location/Module fields.
func parseCppException(text string) *model.CppExceptionInfo {
	sc := bufio.NewScanner(strings.NewReader(text))
	inBlock := false
	out := model.CppExceptionInfo{}
	gotAny := false

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if !inBlock {
			if strings.Contains(strings.ToLower(line), "c++ exception:") {
				inBlock = true
			}
			continue
		}
		if line == "" {
			break
		}
		c0 := line[0]
		if c0 != '\t' && c0 != ' ' {
			break
		}
		trimmed := strings.TrimLeft(line, " \t")

		if v, ok := tryField(trimmed, "Type:"); ok {
			out.Type = v
			gotAny = true
			continue
		}
		if v, ok := tryField(trimmed, "Info:"); ok {
			out.Info = v
			gotAny = true
			continue
		}
		if v, ok := tryField(trimmed, "Throw Location:"); ok {
			out.ThrowLocation = v
			gotAny = true
			continue
		}
		if v, ok := tryField(trimmed, "Module:"); ok {
			out.Module = v
			gotAny = true
			continue
		}
	}
	if !gotAny {
		return nil
	}
	return &out
}

func tryField(trimmed, key string) (string, bool) {
	if len(trimmed) < len(key) || !strings.EqualFold(trimmed[:len(key)], key) {
		return "", false
	}
	return strings.TrimSpace(trimmed[len(key):]), true
}
