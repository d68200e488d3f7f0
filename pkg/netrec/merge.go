package netrec

import (
	"sort"

	"github.com/roosthq/roost/pkg/types"
)

// Merge deduplicates derived records by key, keeping the last
// occurrence. Callers build the input as an ordered concatenation of
// sources from lowest to highest priority, so "last wins" is exactly
// "highest priority wins" and never insertion-order luck. The output
// is sorted by key so regenerated artifacts are byte-stable.
func Merge(records []types.DerivedRecord) []types.DerivedRecord {
	byKey := make(map[string]types.DerivedRecord, len(records))
	for _, r := range records {
		byKey[r.Key] = r
	}

	out := make([]types.DerivedRecord, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
