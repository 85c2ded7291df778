package retrieval

import "testing"

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"today", "today", 0},
		{"today", "todai", 1},
		{"today", "todayy", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIntentMatchesToleratesTypos(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"today", true},
		{"Today", true},
		{"  today  ", true},
		{"todai", true},
		{"tody", true},
		{"tomorrow", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := intentMatches(tt.input, "today"); got != tt.want {
			t.Errorf("intentMatches(%q, \"today\") = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestIntentMatchesRecognizesPhrases(t *testing.T) {
	tests := []struct {
		input  string
		intent string
		want   bool
	}{
		{"show me important emails", "important", true},
		{"Show me my Important messages!", "important", true},
		{"anything urgent or importent today?", "important", true},
		{"what's on my plate today", "today", true},
		{"show me my emails", "important", false},
		{"show me my emails", "today", false},
	}
	for _, tt := range tests {
		if got := intentMatches(tt.input, tt.intent); got != tt.want {
			t.Errorf("intentMatches(%q, %q) = %v, want %v", tt.input, tt.intent, got, tt.want)
		}
	}
}

func TestRelevanceScoreRanksSubjectAboveAddress(t *testing.T) {
	subjectHit := relevanceScore("invoice", "Your invoice is ready", "Billing", "billing@example.com")
	addressOnlyHit := relevanceScore("invoice", "Weekly update", "Team", "invoice@example.com")
	noHit := relevanceScore("invoice", "Weekly update", "Team", "team@example.com")

	if subjectHit <= addressOnlyHit {
		t.Errorf("subject hit (%v) should outrank address-only hit (%v)", subjectHit, addressOnlyHit)
	}
	if addressOnlyHit <= noHit {
		t.Errorf("address hit (%v) should outrank no hit (%v)", addressOnlyHit, noHit)
	}
}

func TestRelevanceScoreEmptyQueryIsZero(t *testing.T) {
	if got := relevanceScore("", "anything", "anyone", "a@b.com"); got != 0 {
		t.Errorf("relevanceScore with empty query = %v, want 0", got)
	}
}
