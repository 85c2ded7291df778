package metadatadb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.sqlite")
	store, err := Open(path)
	require.NoError(t, err)
	return store
}

func TestUpsertMessageIsIdempotentOnCreatedAt(t *testing.T) {
	store := openTestStore(t)

	msg := &Message{ID: "acct:INBOX:1", AccountID: "acct", Folder: "INBOX", UID: 1, Subject: "hello"}
	require.NoError(t, store.UpsertMessage(msg))

	first, err := store.GetMessage("acct:INBOX:1")
	require.NoError(t, err)
	createdAt := first.CreatedAt
	require.False(t, createdAt.IsZero())

	updated := &Message{ID: "acct:INBOX:1", AccountID: "acct", Folder: "INBOX", UID: 1, Subject: "hello, updated", IsRead: true}
	require.NoError(t, store.UpsertMessage(updated))

	second, err := store.GetMessage("acct:INBOX:1")
	require.NoError(t, err)
	require.Equal(t, createdAt, second.CreatedAt)
	require.Equal(t, "hello, updated", second.Subject)
	require.True(t, second.IsRead)
}

func TestGetMessageMissingReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetMessage("nope")
	require.Error(t, err)
}

func TestDeleteMessageCascadesInsight(t *testing.T) {
	store := openTestStore(t)

	msg := &Message{ID: "acct:INBOX:1", AccountID: "acct", Folder: "INBOX", UID: 1, Subject: "hello"}
	require.NoError(t, store.UpsertMessage(msg))
	require.NoError(t, store.UpsertInsight(&Insight{MessageID: "acct:INBOX:1", Summary: "a summary"}))

	require.NoError(t, store.DeleteMessage("acct:INBOX:1"))

	_, err := store.GetMessage("acct:INBOX:1")
	require.Error(t, err)
	_, err = store.GetInsight("acct:INBOX:1")
	require.Error(t, err)
}

func TestDeleteMessageWithoutInsightSucceeds(t *testing.T) {
	store := openTestStore(t)
	msg := &Message{ID: "acct:INBOX:2", AccountID: "acct", Folder: "INBOX", UID: 2, Subject: "no insight yet"}
	require.NoError(t, store.UpsertMessage(msg))

	require.NoError(t, store.DeleteMessage("acct:INBOX:2"))

	_, err := store.GetMessage("acct:INBOX:2")
	require.Error(t, err)
}

func TestSmartInboxOrdersByPriorityThenDate(t *testing.T) {
	store := openTestStore(t)

	low := &Message{ID: "a", AccountID: "acct", Folder: "INBOX", UID: 1, Subject: "low"}
	high := &Message{ID: "b", AccountID: "acct", Folder: "INBOX", UID: 2, Subject: "high"}
	require.NoError(t, store.UpsertMessage(low))
	require.NoError(t, store.UpsertMessage(high))
	require.NoError(t, store.UpsertInsight(&Insight{MessageID: "a", Priority: "LOW", PriorityScore: 0.2}))
	require.NoError(t, store.UpsertInsight(&Insight{MessageID: "b", Priority: "HIGH", PriorityScore: 0.9}))

	items, err := store.SmartInbox(0, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "b", items[0].Message.ID)
	require.Equal(t, "a", items[1].Message.ID)
}

func TestImportantInboxFiltersToHighPriority(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.UpsertMessage(&Message{ID: "a", AccountID: "acct", Folder: "INBOX", UID: 1}))
	require.NoError(t, store.UpsertMessage(&Message{ID: "b", AccountID: "acct", Folder: "INBOX", UID: 2}))
	require.NoError(t, store.UpsertInsight(&Insight{MessageID: "a", Priority: "LOW"}))
	require.NoError(t, store.UpsertInsight(&Insight{MessageID: "b", Priority: "HIGH"}))

	items, err := store.ImportantInbox(0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "b", items[0].Message.ID)
}

func TestIndexingStateSingletonRoundtrips(t *testing.T) {
	store := openTestStore(t)

	st, err := store.GetIndexingState()
	require.NoError(t, err)
	require.False(t, st.IsIndexing)

	require.NoError(t, store.SetIndexingState(&IndexingState{IsIndexing: true, TotalEmails: 10, ProcessedEmails: 3}))

	st, err = store.GetIndexingState()
	require.NoError(t, err)
	require.True(t, st.IsIndexing)
	require.Equal(t, 10, st.TotalEmails)
	require.Equal(t, uint(1), st.ID)
}

func TestStringArrayRoundtripsThroughDriverValue(t *testing.T) {
	store := openTestStore(t)
	msg := &Message{
		ID: "a", AccountID: "acct", Folder: "INBOX", UID: 1,
		ToEmails: StringArray{"x@example.com", "y@example.com"},
		Labels:   StringArray{},
	}
	require.NoError(t, store.UpsertMessage(msg))

	got, err := store.GetMessage("a")
	require.NoError(t, err)
	require.Equal(t, StringArray{"x@example.com", "y@example.com"}, got.ToEmails)
	require.Equal(t, StringArray{}, got.Labels)
}
