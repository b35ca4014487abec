package rules

import (
	"encoding/json"
	"fmt"
	"strings"
)

type graphicsCondition struct {
	GroupPresent    string `json:"group_present"`
	GroupCountGTE   *struct {
		Group string `json:"group"`
		Count int    `json:"count"`
	} `json:"group_count_gte"`
}

type graphicsRule struct {
	ID        string            `json:"id"`
	Condition graphicsCondition `json:"condition"`
	Diagnosis Diagnosis         `json:"diagnosis"`
}

type graphicsRuleFile struct {
	Version          uint32              `json:"version"`
	DetectionModules map[string][]string `json:"detection_modules"`
	Rules            []graphicsRule      `json:"rules"`
}

// GraphicsRules groups loaded-module detection into named groups (ENB,
// ReShade, Vortex-injected overlays, ...) and fires rules when a group's
// presence criteria are met.
type GraphicsRules struct {
	groups map[string][]string // group -> lowercased dll names
	rules  []graphicsRule
}

// LoadGraphicsRules parses the graphics-injection rule database.
func LoadGraphicsRules(data []byte) (*GraphicsRules, error) {
	var file graphicsRuleFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules: parse graphics rule file: %w", err)
	}
	groups := make(map[string][]string, len(file.DetectionModules))
	for g, dlls := range file.DetectionModules {
		lowered := make([]string, len(dlls))
		for i, d := range dlls {
			lowered[i] = strings.ToLower(d)
		}
		groups[g] = lowered
	}
	return &GraphicsRules{groups: groups, rules: file.Rules}, nil
}

// Evaluate fires every rule whose group-presence condition matches the
// given set of loaded module filenames (lowercased).
func (gr *GraphicsRules) Evaluate(loadedLower map[string]bool) []Firing {
	counts := make(map[string]int, len(gr.groups))
	for g, dlls := range gr.groups {
		n := 0
		for _, d := range dlls {
			if loadedLower[d] {
				n++
			}
		}
		counts[g] = n
	}

	var out []Firing
	for _, r := range gr.rules {
		ok := true
		if r.Condition.GroupPresent != "" && counts[r.Condition.GroupPresent] == 0 {
			ok = false
		}
		if r.Condition.GroupCountGTE != nil && counts[r.Condition.GroupCountGTE.Group] < r.Condition.GroupCountGTE.Count {
			ok = false
		}
		if ok {
			out = append(out, Firing{ID: r.ID, Diagnosis: r.Diagnosis})
		}
	}
	return out
}
