// Package suggest offers "did you mean" hints for undefined label
// references, appended to diagnostics without altering their required text.
package suggest

import "github.com/lithammer/fuzzysearch/fuzzy"

// Closest returns, among the candidates in pool that fuzzy-match want (want's
// characters appear in them in order, ignoring case), the one with the
// smallest Levenshtein distance to want, or "" if pool is empty or no
// candidate matches. No upper bound on the distance is applied.
func Closest(want string, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindNormalizedFold(want, pool)
	if len(ranks) == 0 {
		return ""
	}
	best := ranks[0]
	for _, r := range ranks[1:] {
		if r.Distance < best.Distance {
			best = r
		}
	}
	return best.Target
}

// Hint formats a closest match as a parenthetical suggestion, or "" if there
// is none to offer.
func Hint(want string, pool []string) string {
	c := Closest(want, pool)
	if c == "" || c == want {
		return ""
	}
	return " (did you mean '" + c + "'?)"
}
