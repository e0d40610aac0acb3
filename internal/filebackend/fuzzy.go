package filebackend

import (
	"sort"
	"strings"

	"github.com/SnellerInc/sneller/fuzzy"
)

const (
	fuzzyScoreCutoff = 40.0
	fuzzyLimit       = 10
)

// ratio scores two strings 0-100 from their Damerau-Levenshtein distance,
// the same weighted-ratio shape rapidfuzz's WRatio approximates and the one
// the reference implementation's own pure-Python fallback uses when
// rapidfuzz is unavailable.
func ratio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 100
	}
	total := len(a) + len(b)
	if total == 0 {
		return 100
	}
	dist := fuzzy.Distance(a, b)
	score := float64(total-dist) / float64(total) * 100
	if score < 0 {
		return 0
	}
	return score
}

// topMatches scores every candidate against query and returns the best
// fuzzyLimit matches scoring at least fuzzyScoreCutoff, highest first.
func topMatches(query string, candidates []string) []Match {
	var matches []Match
	for _, c := range candidates {
		score := ratio(query, c)
		if score >= fuzzyScoreCutoff {
			matches = append(matches, Match{Path: c, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Path < matches[j].Path
	})
	if len(matches) > fuzzyLimit {
		matches = matches[:fuzzyLimit]
	}
	return matches
}
