package llm

import (
	"strings"
	"testing"
)

func TestDetectFamily(t *testing.T) {
	tests := []struct {
		filename string
		want     Family
	}{
		{"lfm2.5-1.2b.q4_k_m.gguf", FamilyLFM25},
		{"LFM2.5-Chat.gguf", FamilyLFM25},
		{"qwen2.5-3b-instruct.gguf", FamilyQwen25},
		{"mistral-7b-instruct.gguf", FamilyUnknown},
	}
	for _, tt := range tests {
		if got := DetectFamily(tt.filename); got != tt.want {
			t.Errorf("DetectFamily(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestFormatPromptVariesByFamily(t *testing.T) {
	lfm := FormatPrompt(FamilyLFM25, "sys", "usr")
	if !strings.Contains(lfm, "<|startoftext|>") || !strings.Contains(lfm, "sys") || !strings.Contains(lfm, "usr") {
		t.Errorf("LFM prompt missing expected structure: %q", lfm)
	}

	qwen := FormatPrompt(FamilyQwen25, "sys", "usr")
	if strings.Contains(qwen, "<|startoftext|>") {
		t.Errorf("Qwen prompt should not carry the LFM start token: %q", qwen)
	}

	generic := FormatPrompt(FamilyUnknown, "sys", "usr")
	if !strings.HasPrefix(generic, "System: sys") {
		t.Errorf("generic prompt = %q, want prefix %q", generic, "System: sys")
	}
}

func TestBudgetForWordCountIsMonotonic(t *testing.T) {
	tests := []struct {
		words int
		want  int
	}{
		{0, 50},
		{50, 50},
		{51, 80},
		{150, 80},
		{400, 120},
		{800, 180},
		{801, 250},
	}
	prev := 0
	for _, tt := range tests {
		got := BudgetForWordCount(tt.words).MaxTokens
		if got != tt.want {
			t.Errorf("BudgetForWordCount(%d).MaxTokens = %d, want %d", tt.words, got, tt.want)
		}
		if got < prev {
			t.Errorf("budget decreased at %d words: %d < %d", tt.words, got, prev)
		}
		prev = got
	}
}
