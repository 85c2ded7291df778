package llm

import "strings"

// Family identifies which chat template a downloaded model expects,
// detected from its filename the way load_model does in
// original_source/src-tauri/src/llm/summarizer.rs.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyLFM25
	FamilyQwen25
)

// DetectFamily mirrors summarizer.rs's substring match on the model's
// filename: "lfm" selects the LFM2.5 template, "qwen" selects Qwen2.5,
// anything else falls back to a generic ChatML shape.
func DetectFamily(filename string) Family {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "lfm"):
		return FamilyLFM25
	case strings.Contains(lower, "qwen"):
		return FamilyQwen25
	default:
		return FamilyUnknown
	}
}

// StopSequences are shared by every family, matching get_stop_sequences.
var StopSequences = []string{"<|im_end|>", "<|endoftext|>", "\n\n\n"}

// FormatPrompt builds the family-specific ChatML variant, mirroring
// format_prompt in summarizer.rs.
func FormatPrompt(family Family, system, user string) string {
	switch family {
	case FamilyLFM25:
		return "<|startoftext|><|im_start|>system\n" + system + "<|im_end|>\n" +
			"<|im_start|>user\n" + user + "<|im_end|>\n<|im_start|>assistant\n"
	case FamilyQwen25:
		return "<|im_start|>system\n" + system + "<|im_end|>\n" +
			"<|im_start|>user\n" + user + "<|im_end|>\n<|im_start|>assistant\n"
	default:
		return "System: " + system + "\n\nUser: " + user + "\n\nAssistant: "
	}
}

// SummaryParams is the (max_tokens) budget picked from email word count,
// the exact table in get_summary_params.
type SummaryParams struct {
	MaxTokens int
}

func BudgetForWordCount(words int) SummaryParams {
	switch {
	case words <= 50:
		return SummaryParams{MaxTokens: 50}
	case words <= 150:
		return SummaryParams{MaxTokens: 80}
	case words <= 400:
		return SummaryParams{MaxTokens: 120}
	case words <= 800:
		return SummaryParams{MaxTokens: 180}
	default:
		return SummaryParams{MaxTokens: 250}
	}
}
