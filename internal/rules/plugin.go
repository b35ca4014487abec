package rules

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PluginInfo is one entry in the sidecar plugin-scan JSON.
type PluginInfo struct {
	Filename      string   `json:"filename"`
	HeaderVersion float32  `json:"header_version"`
	IsESL         bool     `json:"is_esl"`
	IsActive      bool     `json:"is_active"`
	Masters       []string `json:"masters"`
}

// PluginScan is the full sidecar document.
type PluginScan struct {
	GameExeVersion   string       `json:"game_exe_version"`
	PluginListSource string       `json:"plugin_list_source"`
	Mo2Detected      bool         `json:"mo2_detected"`
	Plugins          []PluginInfo `json:"plugins"`
}

// implicitMasters are base game / DLC / built-in creation plugins that
// are always present at runtime and never count as missing.
var implicitMasters = map[string]bool{
	"skyrim.esm":                   true,
	"update.esm":                   true,
	"dawnguard.esm":                true,
	"hearthfires.esm":               true,
	"dragonborn.esm":               true,
	"ccbgssse001-fish.esm":         true,
	"ccqdrsse001-survivalmode.esl": true,
	"ccbgssse037-curios.esl":       true,
	"ccbgssse025-advdsgs.esm":      true,
	"_resourcepack.esl":            true,
	"resourcepack.esl":             true,
}

// MissingMasters returns, in discovery order, every master referenced by
// an active plugin that is neither active itself nor an implicit
// runtime master.
func MissingMasters(scan PluginScan) []string {
	active := map[string]bool{}
	for _, p := range scan.Plugins {
		if p.IsActive {
			active[strings.ToLower(p.Filename)] = true
		}
	}

	seen := map[string]bool{}
	var out []string
	for _, p := range scan.Plugins {
		if !p.IsActive {
			continue
		}
		for _, m := range p.Masters {
			lower := strings.ToLower(m)
			if active[lower] || implicitMasters[lower] || seen[lower] {
				continue
			}
			seen[lower] = true
			out = append(out, m)
		}
	}
	return out
}

// AnyHeaderGE reports whether any plugin's header version is >= v.
func AnyHeaderGE(scan PluginScan, v float32) bool {
	for _, p := range scan.Plugins {
		if p.HeaderVersion >= v {
			return true
		}
	}
	return false
}

// CountESL counts ESL-flagged plugins.
func CountESL(scan PluginScan) int {
	n := 0
	for _, p := range scan.Plugins {
		if p.IsESL {
			n++
		}
	}
	return n
}

// VersionLT performs a segmented numeric comparison on dotted version
// strings (e.g. "1.5.97" < "1.6.1170").
func VersionLT(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		var av, bv int64
		if i < len(as) {
			av, _ = strconv.ParseInt(as[i], 10, 64)
		}
		if i < len(bs) {
			bv, _ = strconv.ParseInt(bs[i], 10, 64)
		}
		if av != bv {
			return av < bv
		}
	}
	return false
}

type pluginCondition struct {
	AnyPluginHeaderVersionGTE *float32 `json:"any_plugin_header_version_gte"`
	GameVersionLT             *string  `json:"game_version_lt"`
	ModuleNotLoaded           *string  `json:"module_not_loaded"`
	HasMissingMaster          *bool    `json:"has_missing_master"`
	ESLCountGTE               *int     `json:"esl_count_gte"`
}

type pluginRule struct {
	ID        string          `json:"id"`
	Condition pluginCondition `json:"condition"`
	Diagnosis Diagnosis       `json:"diagnosis"`
}

type pluginRuleFile struct {
	Version uint32       `json:"version"`
	Rules   []pluginRule `json:"rules"`
}

// PluginRules holds the loaded ordered plugin rule set.
type PluginRules struct {
	rules []pluginRule
}

// ParsePluginScan decodes the sidecar plugin-scan JSON produced during
// capture.
func ParsePluginScan(data []byte) (PluginScan, error) {
	var scan PluginScan
	if err := json.Unmarshal(data, &scan); err != nil {
		return PluginScan{}, fmt.Errorf("rules: parse plugin scan: %w", err)
	}
	return scan, nil
}

// LoadPluginRules parses the plugin rule database.
func LoadPluginRules(data []byte) (*PluginRules, error) {
	var file pluginRuleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules: parse plugin rule file: %w", err)
	}
	return &PluginRules{rules: file.Rules}, nil
}

// PluginRuleInput carries the evaluated facts a plugin rule checks
// against.
type PluginRuleInput struct {
	Scan            PluginScan
	GameVersion     string
	LoadedModules   map[string]bool // lowercased filename -> loaded
	HasMissing      bool
}

// Firing is one rule whose AND-of-present-conditions evaluation
// succeeded.
type Firing struct {
	ID        string
	Diagnosis Diagnosis
}

// Evaluate returns every rule whose present conditions all hold; rules
// fire independently (unlike SignatureMatcher, this is not first-wins).
func (pr *PluginRules) Evaluate(in PluginRuleInput) []Firing {
	var out []Firing
	for _, r := range pr.rules {
		if evaluateCondition(r.Condition, in) {
			out = append(out, Firing{ID: r.ID, Diagnosis: r.Diagnosis})
		}
	}
	return out
}

func evaluateCondition(c pluginCondition, in PluginRuleInput) bool {
	if c.AnyPluginHeaderVersionGTE != nil && !AnyHeaderGE(in.Scan, *c.AnyPluginHeaderVersionGTE) {
		return false
	}
	if c.GameVersionLT != nil && !VersionLT(in.GameVersion, *c.GameVersionLT) {
		return false
	}
	if c.ModuleNotLoaded != nil {
		if in.LoadedModules[strings.ToLower(*c.ModuleNotLoaded)] {
			return false
		}
	}
	if c.HasMissingMaster != nil && *c.HasMissingMaster != in.HasMissing {
		return false
	}
	if c.ESLCountGTE != nil && CountESL(in.Scan) < *c.ESLCountGTE {
		return false
	}
	return true
}
