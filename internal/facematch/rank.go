package facematch

import (
	"cmp"
	"slices"
)

// compareMatches orders by similarity descending, then image ID, then face index.
func compareMatches(a, b Match) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ImageID, b.ImageID); c != 0 {
		return c
	}
	return cmp.Compare(a.FaceIndex, b.FaceIndex)
}

// Rank sorts matches deterministically. With dedupe only the best face of each
// image is kept. topK > 0 truncates after ranking. The input slice is reordered.
func Rank(matches []Match, dedupe bool, topK int) []Match {
	slices.SortFunc(matches, compareMatches)

	if dedupe {
		seen := make(map[string]struct{}, len(matches))
		kept := matches[:0]
		for _, m := range matches {
			if _, ok := seen[m.ImageID]; ok {
				continue
			}
			seen[m.ImageID] = struct{}{}
			kept = append(kept, m)
		}
		matches = kept
	}

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches
}
