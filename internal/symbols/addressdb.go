package symbols

import (
	"encoding/json"
	"strconv"
)

// addressTolerance bounds how far past a known function's offset a PC
// may land and still resolve to that function's name, per the original
// AddressResolver's nearest-preceding-match policy.
const addressTolerance = 0x100

// AddressResolver is a pure-data offset->symbol lookup loaded from one
// game version's entry in an address_db sidecar JSON file. It performs
// no native symbol initialization; it only resolves module-relative
// offsets against a precomputed function table.
type AddressResolver struct {
	functions map[uint64]string
}

type addressDBFile struct {
	GameVersions map[string]json.RawMessage `json:"game_versions"`
}

type addressDBVersionWithFunctions struct {
	Functions map[string]string `json:"functions"`
}

// LoadAddressDB parses an address_db sidecar (spec §6:
// data/address_db/<game>_functions.json) and builds the resolver for
// gameVersion. Entries under that version's key may be a bare
// offset->name map, or nest it one level under a "functions" key.
// Returns ok=false when the file, version, or table is absent or
// empty — callers degrade to address-only frames in that case.
func LoadAddressDB(data []byte, gameVersion string) (*AddressResolver, bool) {
	var doc addressDBFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	raw, ok := doc.GameVersions[gameVersion]
	if !ok {
		return nil, false
	}

	var nested addressDBVersionWithFunctions
	entries := map[string]string{}
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested.Functions) > 0 {
		entries = nested.Functions
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	functions := make(map[uint64]string, len(entries))
	for offsetStr, name := range entries {
		offset, err := strconv.ParseUint(offsetStr, 16, 64)
		if err != nil {
			continue
		}
		functions[offset] = name
	}
	if len(functions) == 0 {
		return nil, false
	}
	return &AddressResolver{functions: functions}, true
}

// Resolve looks up offset, first by exact match, then by the nearest
// preceding function entry within addressTolerance, mirroring the
// original AddressResolver::Resolve.
func (r *AddressResolver) Resolve(offset uint64) (string, bool) {
	if r == nil {
		return "", false
	}
	if name, ok := r.functions[offset]; ok {
		return name, true
	}

	var nearestDiff uint64
	var nearestName string
	found := false
	for fnOffset, name := range r.functions {
		if offset < fnOffset {
			continue
		}
		diff := offset - fnOffset
		if diff >= addressTolerance {
			continue
		}
		if !found || diff < nearestDiff {
			nearestDiff = diff
			nearestName = name
			found = true
		}
	}
	return nearestName, found
}

// Size returns the number of loaded function entries.
func (r *AddressResolver) Size() int {
	if r == nil {
		return 0
	}
	return len(r.functions)
}
