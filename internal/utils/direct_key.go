package utils

import "strings"

// DirectPairKey returns the key identifying the 1:1 conversation between two
// users. It is the same for (a, b) and (b, a).
func DirectPairKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + ":" + b
}

// DedupeIDs returns ids with blanks and repeats removed, keeping first
// occurrence order.
func DedupeIDs(ids ...string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
