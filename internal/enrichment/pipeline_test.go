package enrichment

import "testing"

func TestComputePriorityScoreAndBucketing(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		body      string
		isStarred bool
		want      string
	}{
		{"plain email is medium", "hello", "just checking in", false, "MEDIUM"},
		{"urgent subject pushes to high", "URGENT: server down", "please look now", false, "HIGH"},
		{"action required pushes to high", "quarterly report", "action required by Friday", false, "HIGH"},
		{"starred plus urgent is high", "asap", "need this now", true, "HIGH"},
		{"starred alone is high", "fyi", "no rush", true, "HIGH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := computePriorityScore(tt.subject, tt.body, tt.isStarred)
			if score < 0 || score > 1 {
				t.Fatalf("score %v out of [0,1] range", score)
			}
			if got := bucketPriority(score); got != tt.want {
				t.Errorf("bucketPriority(%v) = %q, want %q (subject=%q)", score, got, tt.want, tt.subject)
			}
		})
	}
}

func TestBucketPriorityIsTotalAndMonotonic(t *testing.T) {
	boundaries := []float64{0, 0.39, 0.4, 0.69, 0.7, 1}
	prevRank := map[string]int{"LOW": 0, "MEDIUM": 1, "HIGH": 2}
	prev := -1
	for _, score := range boundaries {
		bucket := bucketPriority(score)
		rank, ok := prevRank[bucket]
		if !ok {
			t.Fatalf("bucketPriority(%v) returned unrecognized bucket %q", score, bucket)
		}
		if rank < prev {
			t.Errorf("bucketPriority regressed at score %v: %q", score, bucket)
		}
		prev = rank
	}
}

func TestComputeCategory(t *testing.T) {
	tests := []struct {
		name      string
		subject   string
		body      string
		inReplyTo string
		from      string
		want      string
	}{
		{"meeting invite", "Team sync call", "join the calendar invite", "", "a@b.com", "meetings"},
		{"invoice", "Your invoice", "payment of $50 due", "", "billing@b.com", "financial"},
		{"capitalized invoice subject", "Invoice #42", "Payment due at your earliest convenience", "", "billing@b.com", "financial"},
		{"newsletter", "Weekly digest", "click here to unsubscribe", "", "news@b.com", "newsletters"},
		{"automated sender", "Notice", "system message", "", "noreply@b.com", "notifications"},
		{"reply thread", "Re: project status", "sounds good", "", "a@b.com", "conversation"},
		{"in-reply-to header alone", "project status", "sounds good", "<abc@mail>", "a@b.com", "conversation"},
		{"plain email", "Hi there", "just saying hello", "", "a@b.com", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := computeCategory(tt.subject, tt.body, tt.inReplyTo, tt.from); got != tt.want {
				t.Errorf("computeCategory() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComputeInsightFlags(t *testing.T) {
	deadline, meeting, financial := computeInsightFlags("Reminder", "the deadline is due Friday")
	if !deadline || meeting || financial {
		t.Errorf("deadline body misclassified: deadline=%v meeting=%v financial=%v", deadline, meeting, financial)
	}

	deadline, meeting, financial = computeInsightFlags("Call", "let's set up a meeting")
	if deadline || !meeting || financial {
		t.Errorf("meeting body misclassified: deadline=%v meeting=%v financial=%v", deadline, meeting, financial)
	}

	deadline, meeting, financial = computeInsightFlags("Invoice", "payment of $200 usd attached")
	if deadline || meeting || !financial {
		t.Errorf("financial body misclassified: deadline=%v meeting=%v financial=%v", deadline, meeting, financial)
	}
}
