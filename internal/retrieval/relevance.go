package retrieval

import "strings"

// levenshtein is a plain edit-distance routine, stripped of the
// Vietnamese-diacritic folding a fuzzy-matching utility elsewhere in this
// codebase's lineage carried, since keyword search here operates on plain
// English/ASCII subjects and addresses.
func levenshtein(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	ra, rb := []rune(a), []rune(b)
	m, n := len(ra), len(rb)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}
	d := make([][]int, m+1)
	for i := range d {
		d[i] = make([]int, n+1)
		d[i][0] = i
	}
	for j := 0; j <= n; j++ {
		d[0][j] = j
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = min3(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
		}
	}
	return d[m][n]
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

// intentMatches recognizes the "today"/"important" shortcuts inside a
// natural-language query, not just a bare single-word input, so
// "show me important emails" matches "important" the same way "important"
// alone does. Each word is checked with a little typo tolerance.
func intentMatches(input, intent string) bool {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return false
	}
	for _, word := range strings.Fields(input) {
		word = strings.Trim(word, ".,!?;:")
		if word == intent || levenshtein(word, intent) <= 1 {
			return true
		}
	}
	return false
}

// relevanceScore ranks a candidate message against a keyword query: exact
// substring hits in the subject outweigh sender-name hits, which outweigh
// address hits, with a small edit-distance bonus for near-miss words so
// KeywordSearch results read best-match-first instead of date-only order.
func relevanceScore(query, subject, fromName, fromEmail string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	var score float64

	subj := strings.ToLower(subject)
	if strings.Contains(subj, q) {
		score += 100
	} else {
		for _, word := range strings.Fields(subj) {
			if d := levenshtein(q, word); d <= 2 {
				score += 40 - float64(d)*10
			}
		}
	}

	name := strings.ToLower(fromName)
	if strings.Contains(name, q) {
		score += 60
	}

	addr := strings.ToLower(fromEmail)
	if strings.Contains(addr, q) {
		score += 30
	}

	return score
}
