// Package retrieval is the read-side layer (C8): smart inbox, category
// filtering, keyword and semantic search, neighbor lookup, and RAG chat.
// The semantic_search/enrich pattern is grounded on
// internal/email/usecase/vector_search.go's SemanticSearch, generalized
// from "fetch each hit id remotely" to a batched lookup in the local
// metadata store since C3 already holds the full corpus.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mailengine/internal/embedder"
	"mailengine/internal/llm"
	"mailengine/internal/metadatadb"
	"mailengine/internal/vectordb"
)

type Layer struct {
	meta    *metadatadb.Store
	vectors *vectordb.Store
	embed   *embedder.Embedder
	runtime *llm.Runtime
}

func New(meta *metadatadb.Store, vectors *vectordb.Store, embed *embedder.Embedder, runtime *llm.Runtime) *Layer {
	return &Layer{meta: meta, vectors: vectors, embed: embed, runtime: runtime}
}

// Result is the enriched shape every retrieval operation returns.
type Result struct {
	Message    metadatadb.Message
	Insight    *metadatadb.Insight
	Similarity float64
}

// SmartInbox joins messages to insights ordered by priority then recency,
// applying the "today"/"important" intent shortcuts before falling
// through to the plain join, per SPEC_FULL.md §4.8.
func (l *Layer) SmartInbox(query string, limit, offset int) ([]Result, error) {
	switch {
	case intentMatches(query, "today"):
		items, err := l.meta.TodayInbox(limit, offset)
		return fromInboxItems(items), err
	case intentMatches(query, "important"):
		items, err := l.meta.ImportantInbox(limit, offset)
		return fromInboxItems(items), err
	default:
		items, err := l.meta.SmartInbox(limit, offset)
		return fromInboxItems(items), err
	}
}

func (l *Layer) ByCategory(category string, limit, offset int) ([]Result, error) {
	items, err := l.meta.ByCategory(category, limit, offset)
	return fromInboxItems(items), err
}

func fromInboxItems(items []metadatadb.InboxItem) []Result {
	out := make([]Result, len(items))
	for i, it := range items {
		out[i] = Result{Message: it.Message, Insight: it.Insight}
	}
	return out
}

// KeywordSearch runs the LIKE-based lookup in C3, then re-sorts the page by
// relevanceScore so a subject-line hit surfaces above an address-only hit
// even when both fall within the same page of results.
func (l *Layer) KeywordSearch(query string, limit, offset int) ([]Result, error) {
	msgs, err := l.meta.KeywordSearch(query, limit, offset)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return relevanceScore(query, msgs[i].Subject, msgs[i].FromName, msgs[i].FromEmail) >
			relevanceScore(query, msgs[j].Subject, msgs[j].FromName, msgs[j].FromEmail)
	})
	return l.enrichMessages(msgs), nil
}

// SemanticSearch encodes the query, ranks against C4, and joins the hits
// back to C3 for display fields.
func (l *Layer) SemanticSearch(ctx context.Context, query string, k int) ([]Result, error) {
	vec, err := l.embed.Encode(ctx, query)
	if err != nil {
		return nil, err
	}
	neighbors, err := l.vectors.TopK(vec, l.embed.ModelID(), k)
	if err != nil {
		return nil, err
	}
	return l.enrichNeighbors(neighbors), nil
}

func (l *Layer) Neighbors(messageID string, k int) ([]Result, error) {
	neighbors, err := l.vectors.Neighbors(messageID, l.embed.ModelID(), k)
	if err != nil {
		return nil, err
	}
	return l.enrichNeighbors(neighbors), nil
}

func (l *Layer) enrichNeighbors(neighbors []vectordb.Neighbor) []Result {
	ids := make([]string, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.MessageID
	}
	msgs, err := l.meta.GetMessages(ids)
	if err != nil {
		return nil
	}
	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		msg, ok := msgs[n.MessageID]
		if !ok {
			continue
		}
		insight, _ := l.meta.GetInsight(n.MessageID)
		results = append(results, Result{Message: msg, Insight: insight, Similarity: n.Similarity})
	}
	return results
}

func (l *Layer) enrichMessages(msgs []metadatadb.Message) []Result {
	results := make([]Result, len(msgs))
	for i, m := range msgs {
		insight, _ := l.meta.GetInsight(m.ID)
		results[i] = Result{Message: m, Insight: insight}
	}
	return results
}

// Chat implements the five-step RAG protocol in SPEC_FULL.md §4.8, applying
// the same "today"/"important" intent shortcuts as SmartInbox before step 1
// so a query like "show me important emails" answers from priority=HIGH
// messages instead of running a literal semantic search over the phrase.
func (l *Layer) Chat(ctx context.Context, query string, k int) (string, error) {
	var hits []Result
	var err error
	switch {
	case intentMatches(query, "today"):
		items, e := l.meta.TodayInbox(k, 0)
		hits, err = fromInboxItems(items), e
	case intentMatches(query, "important"):
		items, e := l.meta.ImportantInbox(k, 0)
		hits, err = fromInboxItems(items), e
	default:
		hits, err = l.SemanticSearch(ctx, query, k)
	}
	if err != nil {
		return "", err
	}

	if !l.runtime.IsReady() {
		return fallbackChatResponse(hits), nil
	}

	var context_ strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&context_, "- %s (from %s): %s\n", h.Message.Subject, h.Message.FromEmail, h.Message.Snippet)
	}
	prompt := l.runtime.FamilyPrompt(
		"You answer questions about the user's email using only the context provided.",
		"Context:\n"+context_.String()+"\nQuestion: "+query,
	)
	answer, err := l.runtime.Generate(ctx, prompt, llm.Params{MaxTokens: 300}, nil)
	if err != nil {
		return fallbackChatResponse(hits), nil
	}
	return strings.TrimSpace(answer), nil
}

func fallbackChatResponse(hits []Result) string {
	if len(hits) == 0 {
		return "I couldn't find any related emails."
	}
	var b strings.Builder
	b.WriteString("Here's what I found related to your question:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (from %s, %s): %s\n", h.Message.Subject, h.Message.FromEmail, h.Message.Date.Format(time.RFC1123), h.Message.Snippet)
	}
	return b.String()
}
