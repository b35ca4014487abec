// Command skydiag is the thin CLI driver around the analysis engine
// (spec §1: peripheral, not core). It hand-parses flags with the
// standard flag package and prints a usage banner, following the
// teacher's cmd/root.go convention (ftahirops/xtop), and maps engine
// outcomes to the exit codes spec §6 defines via ExitCodeError, the same
// pattern as the teacher's cmd.ExitCodeError (ftahirops/xtop
// cmd/doctor.go) unwrapped in main via errors.As.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skyrimdiag/dumptool/internal/analysis"
	"github.com/skyrimdiag/dumptool/internal/minidump"
	"github.com/skyrimdiag/dumptool/internal/model"
	"github.com/skyrimdiag/dumptool/internal/output"
	"github.com/skyrimdiag/dumptool/internal/rules"
	"github.com/skyrimdiag/dumptool/internal/symbols"
)

// envGameVersion mirrors the SymSession's SKYDIAG_GAME_VERSION (spec
// §6), the address-DB selector honored when --game-version is unset.
const envGameVersion = "SKYDIAG_GAME_VERSION"

// Version is set at build time via ldflags.
var Version = "0.1.0"

// ExitCodeError signals a non-zero exit code without calling os.Exit
// directly, so deferred cleanup in run always executes.
type ExitCodeError struct{ Code int }

func (e ExitCodeError) Error() string { return fmt.Sprintf("exit %d", e.Code) }

func printUsage() {
	fmt.Fprintf(os.Stderr, `skydiag v%s — post-incident minidump diagnosis for modded games

Usage:
  skydiag <dumpPath> [OPTIONS]

Options:
  --out-dir DIR              Write output files under DIR instead of next to the dump
  --allow-online-symbols     Permit the symbol session to reach a public symbol server
  --no-online-symbols        Forbid online symbol lookups (default)
  --lang en|ko               Output language (default: en)
  --debug                    Accepted; reports never redact paths, with or without it
  --headless                 Accepted for compatibility; ignored
  --plugin-scan FILE         Sidecar plugin-scan JSON to evaluate plugin rules against
  --crash-log-dir DIR        Additional directory to search for a third-party crash log (repeatable)
  --history FILE             History store path (default: <outdir>/skydiag_history.json)
  --game-version VERSION     Game executable version, for plugin rule game_version_lt checks
  --data-dir DIR             Sidecar rule/data directory (default: ./data)
  --help                     Show this help and exit

Exit codes:
  0  ok
  2  bad arguments
  3  analysis failed
  4  output write failed
`, Version)
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	if err := run(); err != nil {
		var exitErr ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("skydiag", flag.ContinueOnError)
	fs.Usage = printUsage

	outDir := fs.String("out-dir", "", "")
	allowOnline := fs.Bool("allow-online-symbols", false, "")
	noOnline := fs.Bool("no-online-symbols", false, "")
	lang := fs.String("lang", "en", "")
	debug := fs.Bool("debug", false, "")
	headless := fs.Bool("headless", false, "")
	pluginScan := fs.String("plugin-scan", "", "")
	historyPath := fs.String("history", "", "")
	gameVersion := fs.String("game-version", "", "")
	dataDir := fs.String("data-dir", "data", "")
	help := fs.Bool("help", false, "")
	var crashLogDirs stringList
	fs.Var(&crashLogDirs, "crash-log-dir", "")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return ExitCodeError{Code: 2}
	}
	if *help {
		printUsage()
		return nil
	}
	_ = headless // accepted for compatibility, intentionally ignored

	args := fs.Args()
	if len(args) != 1 {
		printUsage()
		return ExitCodeError{Code: 2}
	}
	dumpPath := args[0]

	language := model.English
	switch *lang {
	case "en":
		language = model.English
	case "ko":
		language = model.Korean
	default:
		fmt.Fprintf(os.Stderr, "skydiag: unknown --lang %q (want en or ko)\n", *lang)
		return ExitCodeError{Code: 2}
	}

	online := *allowOnline && !*noOnline

	gameVer := *gameVersion
	if gameVer == "" {
		gameVer = os.Getenv(envGameVersion)
	}

	ruleData := loadRuleData(*dataDir)
	addressDB := loadAddressDB(*dataDir, gameVer)

	hist := *historyPath
	if hist == "" {
		base := *outDir
		if base == "" {
			base = filepath.Dir(dumpPath)
		}
		hist = filepath.Join(base, "skydiag_history.json")
	}

	out, err := analysis.Run(analysis.Options{
		DumpPath:       dumpPath,
		OutDir:         *outDir,
		Lang:           language,
		AllowOnline:    online,
		PluginScanPath: *pluginScan,
		CrashLogDirs:   append([]string{filepath.Dir(dumpPath)}, crashLogDirs...),
		HistoryPath:    hist,
		GameVersion:    gameVer,
		Rules:          ruleData,
		AddressDB:      addressDB,
	})
	if err != nil {
		if errors.Is(err, minidump.ErrMalformedDump) {
			fmt.Fprintf(os.Stderr, "skydiag: malformed dump: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "skydiag: analysis failed: %v\n", err)
		}
		return ExitCodeError{Code: 3}
	}

	_ = debug // output.Writer does not redact paths yet; reserved for parity with spec §6

	w := output.Writer{OutDir: *outDir}
	if err := w.WriteSummary(dumpPath, out.Result); err != nil {
		fmt.Fprintf(os.Stderr, "skydiag: write summary failed: %v\n", err)
		return ExitCodeError{Code: 4}
	}
	if err := w.WriteReport(dumpPath, out.Result); err != nil {
		fmt.Fprintf(os.Stderr, "skydiag: write report failed: %v\n", err)
		return ExitCodeError{Code: 4}
	}
	if err := w.WriteBlackbox(dumpPath, out.BlackboxEvents); err != nil {
		fmt.Fprintf(os.Stderr, "skydiag: write blackbox failed: %v\n", err)
		return ExitCodeError{Code: 4}
	}
	if err := w.WriteWct(dumpPath, out.WaitChain); err != nil {
		fmt.Fprintf(os.Stderr, "skydiag: write wct failed: %v\n", err)
		return ExitCodeError{Code: 4}
	}

	fmt.Println(out.Result.SummarySentence)
	return nil
}

func loadRuleData(dataDir string) analysis.RuleData {
	var rd analysis.RuleData

	if data, err := os.ReadFile(filepath.Join(dataDir, "crash_signatures.json")); err == nil {
		if m, err := rules.LoadSignatureMatcher(data); err == nil {
			rd.Signatures = m
		} else {
			fmt.Fprintf(os.Stderr, "skydiag: warning: crash_signatures.json: %v\n", err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "plugin_rules.json")); err == nil {
		if p, err := rules.LoadPluginRules(data); err == nil {
			rd.Plugins = p
		} else {
			fmt.Fprintf(os.Stderr, "skydiag: warning: plugin_rules.json: %v\n", err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "graphics_rules.json")); err == nil {
		if g, err := rules.LoadGraphicsRules(data); err == nil {
			rd.Graphics = g
		} else {
			fmt.Fprintf(os.Stderr, "skydiag: warning: graphics_rules.json: %v\n", err)
		}
	}
	if data, err := os.ReadFile(filepath.Join(dataDir, "hook_frameworks.json")); err == nil {
		if names, ok := parseHookFrameworks(data); ok {
			minidump.LoadHookFrameworks(names)
		}
	}
	return rd
}

// loadAddressDB reads data/address_db/skyrimse_functions.json (spec §6)
// and builds the resolver for gameVer. A missing file, unset gameVer, or
// unknown version is not an error: the stackwalk just degrades to
// address-only frames.
func loadAddressDB(dataDir, gameVer string) *symbols.AddressResolver {
	if gameVer == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dataDir, "address_db", "skyrimse_functions.json"))
	if err != nil {
		return nil
	}
	resolver, ok := symbols.LoadAddressDB(data, gameVer)
	if !ok {
		fmt.Fprintf(os.Stderr, "skydiag: warning: no address_db entries for game version %q\n", gameVer)
		return nil
	}
	return resolver
}

func parseHookFrameworks(data []byte) ([]string, bool) {
	var doc struct {
		Frameworks []struct {
			DLL string `json:"dll"`
		} `json:"frameworks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "skydiag: warning: hook_frameworks.json: %v\n", err)
		return nil, false
	}
	names := make([]string, 0, len(doc.Frameworks))
	for _, f := range doc.Frameworks {
		names = append(names, f.DLL)
	}
	return names, true
}
