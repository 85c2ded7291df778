package metadatadb

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailengine/internal/apperr"
	"mailengine/pkg/migrate"
)

// Store wraps the process-wide GORM connection. A single mutex serializes
// mutations the way SPEC_FULL.md's "one process-wide connection guarded by
// an exclusive lock" describes; SQLite itself also serializes writers, so
// the two together are belt-and-braces rather than strictly necessary.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open connects to the SQLite file at path and runs AutoMigrate, following
// the migration step in main.go's composition order.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening metadata db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrapping metadata db handle: %w", err)
	}
	// SQLite serializes writers; capping the pool at one connection makes
	// that fact explicit at the Go level instead of relying on file locks.
	sqlDB.SetMaxOpenConns(1)

	// Legacy-database rescues run before AutoMigrate, mirroring
	// create_tables' own ordering in schema.rs: AutoMigrate assumes a
	// well-typed messages table and cannot itself change a column's type or
	// backfill columns a pre-multi-account database never had.
	if err := migrate.Run(sqlDB); err != nil {
		return nil, fmt.Errorf("running legacy migrations: %w", err)
	}

	if err := db.AutoMigrate(&Account{}, &Message{}, &Insight{}, &IndexingState{}); err != nil {
		return nil, fmt.Errorf("migrating metadata db: %w", err)
	}

	if err := db.FirstOrCreate(&IndexingState{}, IndexingState{ID: 1}).Error; err != nil {
		return nil, fmt.Errorf("seeding indexing status: %w", err)
	}

	return &Store{db: db}, nil
}

// --- Accounts ---

func (s *Store) UpsertAccount(a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if err := s.db.Save(a).Error; err != nil {
		return apperr.Wrap(apperr.ErrStorage, "saving account %s", a.ID)
	}
	return nil
}

func (s *Store) GetAccount(id string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a Account
	if err := s.db.First(&a, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Wrap(apperr.ErrNotFound, "account %s", id)
		}
		return nil, apperr.Wrap(apperr.ErrStorage, "fetching account %s", id)
	}
	return &a, nil
}

func (s *Store) ListAccounts() ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []Account
	if err := s.db.Order("created_at asc").Find(&accounts).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "listing accounts")
	}
	return accounts, nil
}

func (s *Store) RemoveAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(&Account{}, "id = ?", id).Error; err != nil {
		return apperr.Wrap(apperr.ErrStorage, "removing account %s", id)
	}
	return nil
}

func (s *Store) TouchLastSynced(accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Model(&Account{}).Where("id = ?", accountID).Update("last_synced_at", at).Error; err != nil {
		return apperr.Wrap(apperr.ErrStorage, "touching last_synced_at for %s", accountID)
	}
	return nil
}

// --- Messages ---

// UpsertMessage is idempotent on m.ID: an existing row keeps its CreatedAt
// but has every mutable field (flags, labels, body) overwritten, following
// the get-or-create idiom in email_summary_repository.go's SaveSummary.
func (s *Store) UpsertMessage(m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing Message
	err := s.db.First(&existing, "id = ?", m.ID).Error
	switch err {
	case gorm.ErrRecordNotFound:
		m.CreatedAt = time.Now()
		m.UpdatedAt = m.CreatedAt
		if err := s.db.Create(m).Error; err != nil {
			return apperr.Wrap(apperr.ErrStorage, "creating message %s", m.ID)
		}
		return nil
	case nil:
		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = time.Now()
		if err := s.db.Save(m).Error; err != nil {
			return apperr.Wrap(apperr.ErrStorage, "updating message %s", m.ID)
		}
		return nil
	default:
		return apperr.Wrap(apperr.ErrStorage, "looking up message %s", m.ID)
	}
}

func (s *Store) GetMessage(id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var m Message
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Wrap(apperr.ErrNotFound, "message %s", id)
		}
		return nil, apperr.Wrap(apperr.ErrStorage, "fetching message %s", id)
	}
	return &m, nil
}

func (s *Store) GetMessages(ids []string) (map[string]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		return map[string]Message{}, nil
	}
	var msgs []Message
	if err := s.db.Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "batch fetching messages")
	}
	out := make(map[string]Message, len(msgs))
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// AllMessageIDs returns every message id, used by C7's embed_all to compute
// the set difference against already-embedded ids.
func (s *Store) AllMessageIDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	if err := s.db.Model(&Message{}).Pluck("id", &ids).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "listing message ids")
	}
	return ids, nil
}

// KeywordSearch is a case-insensitive substring match over subject, sender,
// and body, with limit/offset paging.
func (s *Store) KeywordSearch(query string, limit, offset int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needle := "%" + strings.ToLower(query) + "%"
	var msgs []Message
	q := s.db.Where(
		"LOWER(subject) LIKE ? OR LOWER(from_name) LIKE ? OR LOWER(from_email) LIKE ? OR LOWER(body_plain) LIKE ? OR LOWER(body_html) LIKE ?",
		needle, needle, needle, needle, needle,
	).Order("date desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "keyword search %q", query)
	}
	return msgs, nil
}

// InboxItem is the join shape smart_inbox/by_category return.
type InboxItem struct {
	Message Message
	Insight *Insight
}

// SmartInbox joins messages to insights, ordered by priority then recency.
func (s *Store) SmartInbox(limit, offset int) ([]InboxItem, error) {
	return s.joinedList("", limit, offset)
}

// ByCategory is SmartInbox filtered to a single insights.category value.
func (s *Store) ByCategory(category string, limit, offset int) ([]InboxItem, error) {
	return s.joinedList(category, limit, offset)
}

func (s *Store) joinedList(category string, limit, offset int) ([]InboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type row struct {
		Message
		Insight
	}
	q := s.db.Table("messages").
		Select("messages.*, email_insights.*").
		Joins("LEFT JOIN email_insights ON email_insights.message_id = messages.id").
		Order("email_insights.priority_score DESC, messages.date DESC")
	if category != "" {
		q = q.Where("email_insights.category = ?", category)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "listing inbox")
	}

	items := make([]InboxItem, 0, len(rows))
	for i := range rows {
		item := InboxItem{Message: rows[i].Message}
		if rows[i].Insight.MessageID != "" {
			insight := rows[i].Insight
			item.Insight = &insight
		}
		items = append(items, item)
	}
	return items, nil
}

// TodayInbox applies the "today" intent shortcut: date >= local midnight.
func (s *Store) TodayInbox(limit, offset int) ([]InboxItem, error) {
	s.mu.Lock()
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	s.mu.Unlock()

	items, err := s.joinedList("", 0, 0)
	if err != nil {
		return nil, err
	}
	filtered := items[:0]
	for _, it := range items {
		if !it.Message.Date.Before(midnight) {
			filtered = append(filtered, it)
		}
	}
	return page(filtered, limit, offset), nil
}

// ImportantInbox applies the "important" intent shortcut: priority = HIGH.
func (s *Store) ImportantInbox(limit, offset int) ([]InboxItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []struct {
		Message
		Insight
	}
	q := s.db.Table("messages").
		Select("messages.*, email_insights.*").
		Joins("JOIN email_insights ON email_insights.message_id = messages.id").
		Where("email_insights.priority = ?", "HIGH").
		Order("messages.date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "listing important messages")
	}
	items := make([]InboxItem, 0, len(rows))
	for i := range rows {
		insight := rows[i].Insight
		items = append(items, InboxItem{Message: rows[i].Message, Insight: &insight})
	}
	return items, nil
}

func page(items []InboxItem, limit, offset int) []InboxItem {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- Insights ---

func (s *Store) UpsertInsight(in *Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.IndexedAt.IsZero() {
		in.IndexedAt = time.Now()
	}
	if err := s.db.Save(in).Error; err != nil {
		return apperr.Wrap(apperr.ErrStorage, "saving insight for %s", in.MessageID)
	}
	return nil
}

func (s *Store) GetInsight(messageID string) (*Insight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var in Insight
	if err := s.db.First(&in, "message_id = ?", messageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.Wrap(apperr.ErrNotFound, "insight for %s", messageID)
		}
		return nil, apperr.Wrap(apperr.ErrStorage, "fetching insight for %s", messageID)
	}
	return &in, nil
}

// DeleteMessage removes a message and its insight together so neither ever
// outlives the other, matching the cascade rule tested by SPEC_FULL.md §8.
// Vector deletion is the caller's responsibility since embeddings live in a
// separate store this one never touches.
func (s *Store) DeleteMessage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Insight{}, "message_id = ?", id).Error; err != nil {
			return apperr.Wrap(apperr.ErrStorage, "deleting insight for %s", id)
		}
		if err := tx.Delete(&Message{}, "id = ?", id).Error; err != nil {
			return apperr.Wrap(apperr.ErrStorage, "deleting message %s", id)
		}
		return nil
	})
}

// --- Indexing status singleton ---

func (s *Store) GetIndexingState() (*IndexingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var st IndexingState
	if err := s.db.First(&st, "id = 1").Error; err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, "fetching indexing status")
	}
	return &st, nil
}

// SetIndexingState overwrites the singleton row, always at id=1.
func (s *Store) SetIndexingState(st *IndexingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = 1
	if err := s.db.Save(st).Error; err != nil {
		return apperr.Wrap(apperr.ErrStorage, "updating indexing status")
	}
	return nil
}
