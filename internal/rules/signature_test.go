package rules

import "testing"

const sampleSignatures = `{
  "version": 1,
  "signatures": [
    {
      "id": "null-deref",
      "match": {"exc_code": "0xC0000005", "exc_address_near_zero": true},
      "diagnosis": {"cause_en": "Null pointer dereference", "confidence": "high"}
    },
    {
      "id": "bad-regex",
      "match": {"fault_offset_regex": "("},
      "diagnosis": {"cause_en": "unreachable"}
    },
    {
      "id": "bad-hex",
      "match": {"exc_code": "not-hex"},
      "diagnosis": {"cause_en": "unreachable"}
    },
    {
      "id": "skse-stack",
      "match": {"callstack_contains": ["papyrusutil"]},
      "diagnosis": {"cause_en": "PapyrusUtil related crash", "confidence": "medium"}
    }
  ]
}`

func TestLoadSignatureMatcherDropsInvalidRules(t *testing.T) {
	m, err := LoadSignatureMatcher([]byte(sampleSignatures))
	if err != nil {
		t.Fatalf("LoadSignatureMatcher: %v", err)
	}
	if len(m.rules) != 2 {
		t.Fatalf("expected 2 valid rules (invalid regex/hex dropped), got %d", len(m.rules))
	}
}

func TestSignatureMatchFirstRuleWins(t *testing.T) {
	m, err := LoadSignatureMatcher([]byte(sampleSignatures))
	if err != nil {
		t.Fatalf("LoadSignatureMatcher: %v", err)
	}
	id, diag, ok := m.Match(MatchInput{ExcCode: 0xC0000005, ExcAddress: 0x100})
	if !ok || id != "null-deref" {
		t.Fatalf("expected null-deref match, got id=%q ok=%v", id, ok)
	}
	if diag.Confidence != "high" {
		t.Errorf("unexpected diagnosis: %+v", diag)
	}

	id, _, ok = m.Match(MatchInput{Callstack: []string{"PapyrusUtil.dll+1234"}})
	if !ok || id != "skse-stack" {
		t.Fatalf("expected skse-stack match, got id=%q ok=%v", id, ok)
	}

	_, _, ok = m.Match(MatchInput{ExcCode: 0x1})
	if ok {
		t.Fatal("expected no match")
	}
}
