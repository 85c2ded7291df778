package enrichment

import (
	"context"
	"time"

	"mailengine/internal/apperr"
	"mailengine/internal/embedder"
	"mailengine/internal/eventbus"
	"mailengine/internal/llm"
	"mailengine/internal/mail"
	"mailengine/internal/vectordb"
)

// EmbedAll implements the four-step embed_all() protocol from
// SPEC_FULL.md §4.7: diff message ids against the active model's embedded
// ids, then embed each missing one, emitting progress as it goes.
func (p *Pipeline) EmbedAll(ctx context.Context) error {
	p.embedMu.Lock()
	if p.embedRunning {
		p.embedMu.Unlock()
		return apperr.Wrap(apperr.ErrBusy, "embedding already running")
	}
	p.embedRunning = true
	p.embedMu.Unlock()
	defer func() {
		p.embedMu.Lock()
		p.embedRunning = false
		p.embedMu.Unlock()
	}()

	allIDs, err := p.meta.AllMessageIDs()
	if err != nil {
		return err
	}
	embedded, err := p.vectors.EmbeddedIDs(p.embed.ModelID())
	if err != nil {
		return err
	}

	var missing []string
	for _, id := range allIDs {
		if !embedded[id] {
			missing = append(missing, id)
		}
	}

	_ = p.vectors.SetState(&vectordb.EmbeddingState{IsEmbedding: true, Total: len(missing), CurrentModel: p.embed.ModelID()})
	p.bus.Publish(eventbus.TopicEmbeddingStarted, map[string]any{"total": len(missing)})

	done := 0
	for _, id := range missing {
		if err := p.embedOne(ctx, id); err != nil {
			p.log2.Printf("embedding failed for %s: %v", id, err)
			continue
		}
		done++
		p.bus.Publish(eventbus.TopicEmbeddingProgress, map[string]any{"done": done, "total": len(missing), "id": id})
	}

	now := time.Now()
	_ = p.vectors.SetState(&vectordb.EmbeddingState{IsEmbedding: false, Total: len(missing), Embedded: done, CurrentModel: p.embed.ModelID(), LastEmbeddedAt: &now})
	p.bus.Publish(eventbus.TopicEmbeddingComplete, map[string]any{"count": done})
	return nil
}

func (p *Pipeline) embedOne(ctx context.Context, messageID string) error {
	msg, err := p.meta.GetMessage(messageID)
	if err != nil {
		return err
	}
	body := msg.BodyPlain
	if body == "" {
		body = llm.StripHTML(msg.BodyHTML)
	}
	text := embedder.ComposeText(msg.Subject, msg.FromEmail, body)

	vec, err := p.embed.Encode(ctx, text)
	if err != nil {
		return err
	}
	return p.vectors.Upsert(messageID, vec, p.embed.ModelID(), textHash(text))
}

// textHash is a lightweight content fingerprint stored alongside each
// vector, matching vector_db.rs's text_hash column (used there to detect
// whether the source text changed since the vector was computed).
func textHash(text string) string {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(text); i++ {
		h ^= uint64(text[i])
		h *= 1099511628211
	}
	return itoa64(h)
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// OnNewMail reacts to eventbus.TopicMailNew by enqueuing a small bounded
// incremental indexing pass for the affected account+folder, matching the
// "new-mail reaction" rule in SPEC_FULL.md §4.7.
func (p *Pipeline) OnNewMail(bus *eventbus.Bus) {
	const incrementalMax = 50
	ch := bus.Subscribe(eventbus.TopicMailNew)
	go func() {
		for ev := range ch {
			payload, ok := ev.Payload.(mail.NewMailEvent)
			if !ok {
				continue
			}
			accountID, folder := payload.AccountID, payload.Folder
			go func() {
				if err := p.StartIndexing(context.Background(), accountID, folder, incrementalMax); err != nil {
					p.log.Printf("incremental indexing for %s/%s failed: %v", accountID, folder, err)
				}
			}()
		}
	}()
}
