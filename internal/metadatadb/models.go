// Package metadatadb is the relational store (C3): accounts, message
// metadata/bodies, AI insights, and the singleton indexing-progress row.
// Table shapes are pinned to the columns in
// original_source/src-tauri/src/db/schema.rs so the fallback and
// LLM-derived fields line up with the system this was distilled from; the
// storage engine itself follows the teacher's GORM usage
// (internal/email/repository/*_repository.go), retargeted from Postgres to
// an embedded SQLite file so the whole engine runs off a single directory.
package metadatadb

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringArray persists a []string as a JSON text column, copied from the
// custom GORM valuer/scanner in internal/email/domain/kanban_column.go.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	return json.Marshal(a)
}

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = []string{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	if len(bytes) == 0 {
		*a = []string{}
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// Account is one configured mailbox, native-API or IMAP/SMTP.
type Account struct {
	ID           string     `gorm:"primaryKey"`
	Email        string     `gorm:"uniqueIndex;not null"`
	DisplayName  string     `gorm:"not null"`
	Provider     string     `gorm:"not null"` // "gmail" or "imap"
	IMAPHost     string     `gorm:"not null;default:''"`
	IMAPPort     int        `gorm:"not null;default:0"`
	SMTPHost     string     `gorm:"not null;default:''"`
	SMTPPort     int        `gorm:"not null;default:0"`
	AuthType     string     `gorm:"not null"` // "oauth" or "app_password"
	IsActive     bool       `gorm:"not null;default:true"`
	CreatedAt    time.Time  `gorm:"not null"`
	LastSyncedAt *time.Time
}

// Message is one email's metadata and body, keyed by the composite id
// mail.ID(accountID, folder, uid) produces.
type Message struct {
	ID             string `gorm:"primaryKey"`
	AccountID      string `gorm:"not null;index:idx_messages_account;index:idx_messages_account_folder,priority:1;default:'legacy'"`
	Folder         string `gorm:"not null;index:idx_messages_account_folder,priority:2;default:'INBOX'"`
	UID            uint32 `gorm:"not null;default:0"`
	ThreadID       string `gorm:"not null;index:idx_messages_thread"`
	Subject        string `gorm:"not null"`
	FromName       string `gorm:"not null"`
	FromEmail      string `gorm:"not null"`
	ToEmails       StringArray `gorm:"type:text;not null"`
	Date           time.Time `gorm:"not null;index:idx_messages_date"`
	Snippet        string    `gorm:"not null"`
	BodyHTML       string
	BodyPlain      string
	IsRead         bool `gorm:"not null;default:false"`
	IsStarred      bool `gorm:"not null;default:false"`
	HasAttachments bool `gorm:"not null;default:false"`
	Labels         StringArray `gorm:"type:text"`
	MessageIDHeader string     `gorm:"not null;default:''"`
	CreatedAt      time.Time  `gorm:"not null"`
	UpdatedAt      time.Time  `gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// Insight is the AI-derived enrichment row for a message, one-to-one on
// message id, matching email_insights in schema.rs.
type Insight struct {
	MessageID     string  `gorm:"primaryKey"`
	Summary       string
	Priority      string  `gorm:"not null;default:'MEDIUM';index:idx_insights_priority"`
	PriorityScore float64 `gorm:"not null;default:0.5;index:idx_insights_priority_score"`
	Category      string  `gorm:"index:idx_insights_category"`
	Insights      StringArray `gorm:"type:text"`
	ActionItems   StringArray `gorm:"type:text"`
	HasDeadline   bool    `gorm:"not null;default:false"`
	HasMeeting    bool    `gorm:"not null;default:false"`
	HasFinancial  bool    `gorm:"not null;default:false"`
	Sentiment     string
	IndexedAt     time.Time `gorm:"not null"`
}

func (Insight) TableName() string { return "email_insights" }

// IndexingState is the singleton progress row for start_indexing, enforced
// at the application layer (GORM has no CHECK(id=1) equivalent portable
// across dialects); Get always targets id=1.
type IndexingState struct {
	ID              uint `gorm:"primaryKey"`
	IsIndexing      bool `gorm:"not null;default:false"`
	TotalEmails     int  `gorm:"not null;default:0"`
	ProcessedEmails int  `gorm:"not null;default:0"`
	LastIndexedAt   *time.Time
	ErrorMessage    string
}

func (IndexingState) TableName() string { return "indexing_status" }
