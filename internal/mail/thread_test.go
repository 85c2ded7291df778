package mail

import "testing"

func TestResolveThreadID(t *testing.T) {
	tests := []struct {
		name           string
		serverThreadID string
		messageID      string
		inReplyTo      string
		references     []string
		want           string
	}{
		{
			name:           "server thread id wins over everything",
			serverThreadID: "srv-1",
			messageID:      "msg-1",
			inReplyTo:      "reply-1",
			references:     []string{"ref-1", "ref-2"},
			want:           "srv-1",
		},
		{
			name:       "falls back to oldest reference",
			messageID:  "msg-1",
			inReplyTo:  "reply-1",
			references: []string{"ref-1", "ref-2"},
			want:       "ref-1",
		},
		{
			name:      "falls back to in-reply-to when no references",
			messageID: "msg-1",
			inReplyTo: "reply-1",
			want:      "reply-1",
		},
		{
			name:      "own message id when nothing else present",
			messageID: "msg-1",
			want:      "msg-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveThreadID(tt.serverThreadID, tt.messageID, tt.inReplyTo, tt.references)
			if got != tt.want {
				t.Errorf("ResolveThreadID() = %q, want %q", got, tt.want)
			}
		})
	}
}
