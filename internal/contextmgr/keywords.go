package contextmgr

import (
	"sort"
	"strings"
)

// extractKeywords returns up to 20 distinct words of length > 2, lowercased,
// from text, in first-seen order (spec.md §4.2 "Store semantics").
func extractKeywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, raw := range strings.FieldsFunc(text, isWordSeparator) {
		w := strings.ToLower(raw)
		if len(w) <= 2 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == 20 {
			break
		}
	}
	return out
}

func isWordSeparator(r rune) bool {
	return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

// wordSet tokenizes text into a lowercase word set, for keyword-hit-rate
// scoring.
func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, raw := range strings.FieldsFunc(text, isWordSeparator) {
		w := strings.ToLower(raw)
		if len(w) > 0 {
			set[w] = true
		}
	}
	return set
}

// sortedTags returns a sorted copy of tags.
func sortedTags(tags []string) []string {
	out := append([]string{}, tags...)
	sort.Strings(out)
	return out
}
