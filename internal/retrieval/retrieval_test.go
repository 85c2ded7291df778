package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"mailengine/internal/embedder"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/metadatadb"
	"mailengine/internal/vectordb"
)

func newTestLayer(t *testing.T) *Layer {
	t.Helper()
	meta, err := metadatadb.Open(filepath.Join(t.TempDir(), "messages.sqlite"))
	require.NoError(t, err)
	vectors, err := vectordb.Open(filepath.Join(t.TempDir(), "vectors.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	embed := embedder.New("http://unused.invalid", "test-embed")
	runtime := llm.NewRuntime("http://unused.invalid", eventbus.New())
	return New(meta, vectors, embed, runtime)
}

func TestChatOnImportantQueryOnlyUsesHighPriorityMessages(t *testing.T) {
	layer := newTestLayer(t)

	require.NoError(t, layer.meta.UpsertMessage(&metadatadb.Message{
		ID: "a", AccountID: "acct", Folder: "INBOX", UID: 1, Subject: "Server outage", FromEmail: "ops@example.com",
	}))
	require.NoError(t, layer.meta.UpsertInsight(&metadatadb.Insight{MessageID: "a", Priority: "HIGH", PriorityScore: 0.9}))

	require.NoError(t, layer.meta.UpsertMessage(&metadatadb.Message{
		ID: "b", AccountID: "acct", Folder: "INBOX", UID: 2, Subject: "Weekly newsletter", FromEmail: "news@example.com",
	}))
	require.NoError(t, layer.meta.UpsertInsight(&metadatadb.Insight{MessageID: "b", Priority: "LOW", PriorityScore: 0.2}))

	answer, err := layer.Chat(context.Background(), "show me important emails", 10)
	require.NoError(t, err)
	require.True(t, strings.Contains(answer, "Server outage"), "answer should mention the HIGH-priority message: %q", answer)
	require.False(t, strings.Contains(answer, "Weekly newsletter"), "answer should not mention the LOW-priority message: %q", answer)
}

func TestChatOnPlainQueryFallsThroughToSemanticSearch(t *testing.T) {
	layer := newTestLayer(t)
	// No model active and no embedder reachable: a non-intent query should
	// still fail gracefully rather than silently succeeding via the intent shortcut.
	_, err := layer.Chat(context.Background(), "what did alice say about the budget", 5)
	require.Error(t, err)
}
