package rules

import "testing"

func TestMissingMasters(t *testing.T) {
	scan := PluginScan{
		Plugins: []PluginInfo{
			{Filename: "MyMod.esp", IsActive: true, Masters: []string{"Skyrim.esm", "Requiem.esm"}},
			{Filename: "Other.esp", IsActive: false, Masters: []string{"Unrelated.esm"}},
		},
	}
	missing := MissingMasters(scan)
	if len(missing) != 1 || missing[0] != "Requiem.esm" {
		t.Fatalf("expected [Requiem.esm], got %v", missing)
	}
}

func TestMissingMastersExcludesCreationClubImplicitMasters(t *testing.T) {
	scan := PluginScan{
		Plugins: []PluginInfo{
			{Filename: "MyMod.esp", IsActive: true, Masters: []string{
				"ccQDRSSE001-SurvivalMode.esl",
				"ccBGSSSE037-Curios.esl",
				"ccBGSSSE025-AdvDSGS.esm",
				"_ResourcePack.esl",
			}},
		},
	}
	if missing := MissingMasters(scan); len(missing) != 0 {
		t.Fatalf("expected no missing masters, got %v", missing)
	}
}

func TestVersionLT(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1.5.97", "1.6.0", true},
		{"1.6.0", "1.5.97", false},
		{"1.6", "1.6.0", false},
		{"1.6.0", "1.6.0", false},
	}
	for _, c := range cases {
		if got := VersionLT(c.a, c.b); got != c.want {
			t.Errorf("VersionLT(%q,%q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestPluginRulesEvaluateANDOverPresentConditions(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"rules": [
			{
				"id": "needs-sse-1-6",
				"condition": {"game_version_lt": "1.6.0", "has_missing_master": true},
				"diagnosis": {"cause_en": "Outdated runtime with missing masters"}
			},
			{
				"id": "too-many-esl",
				"condition": {"esl_count_gte": 2},
				"diagnosis": {"cause_en": "Too many light plugins"}
			}
		]
	}`)
	pr, err := LoadPluginRules(data)
	if err != nil {
		t.Fatalf("LoadPluginRules: %v", err)
	}
	in := PluginRuleInput{
		GameVersion: "1.5.97",
		HasMissing:  true,
		Scan: PluginScan{
			Plugins: []PluginInfo{
				{Filename: "a.esl", IsESL: true},
				{Filename: "b.esl", IsESL: true},
			},
		},
	}
	firings := pr.Evaluate(in)
	if len(firings) != 2 {
		t.Fatalf("expected 2 firings, got %d: %+v", len(firings), firings)
	}
}
