// Package rules implements three ordered, JSON-defined rule engines
// that turn raw crash facts into named diagnoses: signature matching,
// plugin-scan rules, and graphics-injection detection. All three load
// their rule list once, keep it in file order, and evaluate top-down
// with an AND-over-present-conditions match.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Diagnosis is the localized payload attached to a firing signature rule.
type Diagnosis struct {
	CauseKo           string   `json:"cause_ko"`
	CauseEn           string   `json:"cause_en"`
	Confidence        string   `json:"confidence"`
	RecommendationsKo []string `json:"recommendations_ko"`
	RecommendationsEn []string `json:"recommendations_en"`
}

type signatureMatch struct {
	ExcCode             string   `json:"exc_code"`
	FaultModule         string   `json:"fault_module"`
	FaultOffsetRegex    string   `json:"fault_offset_regex"`
	FaultModuleIsSystem *bool    `json:"fault_module_is_system"`
	ExcAddressNearZero  *bool    `json:"exc_address_near_zero"`
	CallstackContains   []string `json:"callstack_contains"`

	excCode         uint64
	hasExcCode      bool
	offsetRegex     *regexp.Regexp
}

type signatureRule struct {
	ID        string         `json:"id"`
	Match     signatureMatch `json:"match"`
	Diagnosis Diagnosis      `json:"diagnosis"`
}

type signatureFile struct {
	Version    uint32          `json:"version"`
	Signatures []signatureRule `json:"signatures"`
}

// SignatureMatcher holds the loaded, validated, ordered rule set.
type SignatureMatcher struct {
	rules []signatureRule
}

// nearZeroThreshold is the cutoff below which an exception address is
// treated as "near zero" (a common null-pointer signature).
const nearZeroThreshold = 0x10000

// LoadSignatureMatcher parses the signature database, silently dropping
// rules with an invalid hex exc_code or invalid regex so a single bad
// entry never blocks the rest of the file from loading.
func LoadSignatureMatcher(data []byte) (*SignatureMatcher, error) {
	var file signatureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("rules: parse signature file: %w", err)
	}

	m := &SignatureMatcher{}
	for _, r := range file.Signatures {
		if r.Match.ExcCode != "" {
			v, err := strconv.ParseUint(strings.TrimPrefix(r.Match.ExcCode, "0x"), 16, 32)
			if err != nil {
				continue
			}
			r.Match.excCode = v
			r.Match.hasExcCode = true
		}
		if r.Match.FaultOffsetRegex != "" {
			re, err := regexp.Compile("(?i)" + r.Match.FaultOffsetRegex)
			if err != nil {
				continue
			}
			r.Match.offsetRegex = re
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// MatchInput carries the crash facts a signature rule is evaluated
// against.
type MatchInput struct {
	ExcCode        uint32
	FaultModule    string
	FaultIsSystem  bool
	FaultOffsetHex string // printed without a leading "0x"
	ExcAddress     uint64
	Callstack      []string
}

// Match returns the first rule (in file order) all of whose present
// conditions succeed.
func (m *SignatureMatcher) Match(in MatchInput) (string, *Diagnosis, bool) {
	for _, r := range m.rules {
		if matchOne(r.Match, in) {
			d := r.Diagnosis
			return r.ID, &d, true
		}
	}
	return "", nil, false
}

func matchOne(cond signatureMatch, in MatchInput) bool {
	if cond.hasExcCode && uint64(in.ExcCode) != cond.excCode {
		return false
	}
	if cond.FaultModule != "" && !strings.EqualFold(cond.FaultModule, in.FaultModule) {
		return false
	}
	if cond.offsetRegex != nil && !cond.offsetRegex.MatchString(in.FaultOffsetHex) {
		return false
	}
	if cond.FaultModuleIsSystem != nil && *cond.FaultModuleIsSystem != in.FaultIsSystem {
		return false
	}
	if cond.ExcAddressNearZero != nil {
		nearZero := in.ExcAddress <= nearZeroThreshold
		if *cond.ExcAddressNearZero != nearZero {
			return false
		}
	}
	for _, tok := range cond.CallstackContains {
		if !anyFrameContains(in.Callstack, tok) {
			return false
		}
	}
	return true
}

func anyFrameContains(frames []string, tok string) bool {
	lower := strings.ToLower(tok)
	for _, f := range frames {
		if strings.Contains(strings.ToLower(f), lower) {
			return true
		}
	}
	return false
}
