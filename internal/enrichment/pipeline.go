// Package enrichment is the fetch->store->summarize->score->categorize->embed
// pipeline (C7). Each indexing or embedding pass runs as one serialized loop
// over its messages, guarded by an in-memory running flag and a cancel
// channel; there is no worker pool or job queue. The singleton
// running-state rows are grounded on the
// CHECK (id = 1) tables in original_source/src-tauri/src/db/schema.rs.
package enrichment

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/embedder"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/logging"
	"mailengine/internal/mail"
	"mailengine/internal/metadatadb"
	"mailengine/internal/vectordb"
)

// Pipeline owns the metadata store, vector store, runtime, embedder, and
// per-account transports needed to run both protocols.
type Pipeline struct {
	meta     *metadatadb.Store
	vectors  *vectordb.Store
	runtime  *llm.Runtime
	embed    *embedder.Embedder
	bus      *eventbus.Bus
	log      *logging.Logger
	log2     *logging.Logger

	transports func(accountID string) (mail.Transport, error)

	indexMu      sync.Mutex
	indexRunning bool
	indexCancel  chan struct{}

	embedMu      sync.Mutex
	embedRunning bool
}

func New(meta *metadatadb.Store, vectors *vectordb.Store, runtime *llm.Runtime, embed *embedder.Embedder, bus *eventbus.Bus, transports func(accountID string) (mail.Transport, error)) *Pipeline {
	return &Pipeline{
		meta:       meta,
		vectors:    vectors,
		runtime:    runtime,
		embed:      embed,
		bus:        bus,
		log:        logging.New("enrichment.index"),
		log2:       logging.New("enrichment.embed"),
		transports: transports,
	}
}

// StartIndexing runs the fetch->enrich->store protocol against a single
// account+folder for up to max messages, following the seven-step protocol
// in SPEC_FULL.md §4.7.
func (p *Pipeline) StartIndexing(ctx context.Context, accountID, folder string, max int) error {
	p.indexMu.Lock()
	if p.indexRunning {
		p.indexMu.Unlock()
		return apperr.Wrap(apperr.ErrBusy, "indexing already running")
	}
	p.indexRunning = true
	p.indexCancel = make(chan struct{})
	cancel := p.indexCancel
	p.indexMu.Unlock()

	p.bus.Publish(eventbus.TopicIndexingStarted, map[string]any{"account_id": accountID, "folder": folder})
	if err := p.meta.SetIndexingState(&metadatadb.IndexingState{IsIndexing: true, TotalEmails: max}); err != nil {
		p.log.Printf("failed to mark indexing running: %v", err)
	}

	transport, err := p.transports(accountID)
	if err != nil {
		p.finishIndexingError(err)
		return err
	}

	headers, err := transport.FetchHeaders(folder, 0, max)
	if err != nil {
		p.finishIndexingError(err)
		return err
	}

	processed := 0
	total := len(headers)
	for _, h := range headers {
		select {
		case <-cancel:
			p.log.Printf("indexing cancelled after %d/%d", processed, total)
			p.finishIndexingComplete(processed)
			return nil
		default:
		}

		if err := p.enrichOne(ctx, transport, accountID, folder, h); err != nil {
			p.log.Printf("enrich failed for %s: %v", h.MessageID, err)
		}

		processed++
		pct := 0
		if total > 0 {
			pct = processed * 100 / total
		}
		p.bus.Publish(eventbus.TopicIndexingProgress, map[string]any{"processed": processed, "total": total, "percent": pct})
	}

	p.finishIndexingComplete(processed)

	if p.embed.IsReady() {
		go func() {
			if err := p.EmbedAll(context.Background()); err != nil {
				p.log2.Printf("auto-embed after indexing failed: %v", err)
			}
		}()
	}
	return nil
}

func (p *Pipeline) finishIndexingComplete(processed int) {
	p.indexMu.Lock()
	p.indexRunning = false
	p.indexMu.Unlock()
	now := time.Now()
	_ = p.meta.SetIndexingState(&metadatadb.IndexingState{IsIndexing: false, ProcessedEmails: processed, LastIndexedAt: &now})
	p.bus.Publish(eventbus.TopicIndexingComplete, map[string]any{"processed": processed})
}

func (p *Pipeline) finishIndexingError(err error) {
	p.indexMu.Lock()
	p.indexRunning = false
	p.indexMu.Unlock()
	_ = p.meta.SetIndexingState(&metadatadb.IndexingState{IsIndexing: false, ErrorMessage: err.Error()})
	p.bus.Publish(eventbus.TopicIndexingError, map[string]string{"error": err.Error()})
}

// IsIndexing reports whether a pass is currently running, letting the
// command surface answer start_email_indexing without waiting on the full
// run when it can shortcut straight to a Busy response.
func (p *Pipeline) IsIndexing() bool {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	return p.indexRunning
}

// CancelIndexing signals the running pass to stop between messages,
// honoring the cooperative cancel token in SPEC_FULL.md §5.
func (p *Pipeline) CancelIndexing() {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	if p.indexRunning && p.indexCancel != nil {
		close(p.indexCancel)
	}
}

func (p *Pipeline) enrichOne(ctx context.Context, transport mail.Transport, accountID, folder string, h mail.Header) error {
	uid := h.UID
	full, err := transport.FetchFull(folder, uid)
	if err != nil {
		return err
	}

	id := mail.ID(accountID, folder, uid)
	threadID := mail.ResolveThreadID("", h.MessageID, h.InReplyTo, h.References)

	msg := &metadatadb.Message{
		ID: id, AccountID: accountID, Folder: folder, UID: uid,
		ThreadID: threadID, Subject: h.Subject, FromName: h.FromName, FromEmail: h.FromAddress,
		ToEmails: metadatadb.StringArray(h.To), Date: h.Date, Snippet: full.Snippet,
		BodyHTML: full.BodyHTML, BodyPlain: full.BodyPlain, IsRead: full.IsRead, IsStarred: full.IsStarred,
		HasAttachments: h.HasAttachment, Labels: metadatadb.StringArray(full.Labels), MessageIDHeader: h.MessageID,
	}
	if err := p.meta.UpsertMessage(msg); err != nil {
		return err
	}

	bodyText := full.BodyPlain
	if bodyText == "" {
		bodyText = llm.StripHTML(full.BodyHTML)
	}

	score := computePriorityScore(h.Subject, bodyText, full.IsStarred)
	category := computeCategory(h.Subject, bodyText, h.InReplyTo, h.FromAddress)
	deadline, meeting, financial := computeInsightFlags(h.Subject, bodyText)
	summary := p.summarize(ctx, h.Subject, h.FromAddress, bodyText)

	insight := &metadatadb.Insight{
		MessageID: id, Summary: summary, Priority: bucketPriority(score), PriorityScore: score,
		Category: category, Insights: metadatadb.StringArray(llm.SimpleInsights(h.Subject, bodyText)),
		HasDeadline: deadline, HasMeeting: meeting, HasFinancial: financial,
	}
	return p.meta.UpsertInsight(insight)
}

func (p *Pipeline) summarize(ctx context.Context, subject, from, bodyText string) string {
	if !p.runtime.IsReady() {
		return llm.SimpleSummary(subject, from, bodyText)
	}
	words := len(strings.Fields(bodyText))
	budget := llm.BudgetForWordCount(words)
	prompt := p.runtime.FamilyPrompt(
		"You summarize emails in one or two sentences.",
		"Subject: "+subject+"\nFrom: "+from+"\nBody: "+bodyText,
	)
	summary, err := p.runtime.Generate(ctx, prompt, llm.Params{MaxTokens: budget.MaxTokens}, nil)
	if err != nil {
		return llm.SimpleSummary(subject, from, bodyText)
	}
	return strings.TrimSpace(summary)
}

// --- Priority, category, and insight-flag rules, verbatim from SPEC_FULL.md §4.7 ---

var urgencyRE = regexp.MustCompile(`(?i)urgent|asap|critical|emergency`)
var actionRE = regexp.MustCompile(`(?i)please review|need your|action required`)

func computePriorityScore(subject, body string, isStarred bool) float64 {
	combined := subject + " " + body
	score := 0.5
	if urgencyRE.MatchString(combined) {
		score += 0.3
	}
	if actionRE.MatchString(combined) {
		score += 0.2
	}
	if isStarred {
		score += 0.2
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

func bucketPriority(score float64) string {
	switch {
	case score >= 0.7:
		return "HIGH"
	case score >= 0.4:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

var meetingRE = regexp.MustCompile(`(?i)meeting|call|calendar`)
var financialRE = regexp.MustCompile(`(?i)invoice|payment|\$`)
var unsubscribeRE = regexp.MustCompile(`(?i)unsubscribe`)
var automatedSenderRE = regexp.MustCompile(`(?i)noreply|no-reply|notifications@`)

func computeCategory(subject, body, inReplyTo, fromAddress string) string {
	combined := subject + " " + body
	switch {
	case meetingRE.MatchString(combined):
		return "meetings"
	case financialRE.MatchString(combined):
		return "financial"
	case unsubscribeRE.MatchString(body):
		return "newsletters"
	case automatedSenderRE.MatchString(fromAddress):
		return "notifications"
	case strings.HasPrefix(subject, "Re:"), strings.HasPrefix(subject, "Fwd:"), inReplyTo != "":
		return "conversation"
	default:
		return "general"
	}
}

var deadlineRE = regexp.MustCompile(`(?i)deadline|due|by\b`)
var meetingFlagRE = regexp.MustCompile(`(?i)meet|call|schedule`)
var financialFlagRE = regexp.MustCompile(`(?i)invoice|payment|\$|usd`)

func computeInsightFlags(subject, body string) (deadline, meeting, financial bool) {
	combined := subject + " " + body
	deadline = deadlineRE.MatchString(combined)
	meeting = meetingFlagRE.MatchString(combined)
	financial = financialFlagRE.MatchString(combined)
	return
}
