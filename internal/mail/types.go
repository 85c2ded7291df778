// Package mail is the provider-agnostic mail gateway (C2): a capability set
// implemented once against a native HTTPS API and once against IMAP/SMTP,
// mirroring the EmailProvider trait in
// original_source/src-tauri/src/email/provider.rs.
package mail

import "time"

// Flag mirrors the small enum in provider.rs, expressed as IMAP flag strings
// directly since Go has no need for the intermediate enum indirection.
type Flag string

const (
	FlagSeen     Flag = "\\Seen"
	FlagFlagged  Flag = "\\Flagged"
	FlagDeleted  Flag = "\\Deleted"
	FlagAnswered Flag = "\\Answered"
	FlagDraft    Flag = "\\Draft"
)

// Header is the lightweight listing shape returned by fetch_headers.
type Header struct {
	AccountID     string
	Folder        string
	UID           uint32
	MessageID     string
	InReplyTo     string
	References    []string
	Subject       string
	FromName      string
	FromAddress   string
	To            []string
	Date          time.Time
	HasAttachment bool
}

// FullMessage is the shape returned by fetch_full: everything in Header plus body.
type FullMessage struct {
	Header
	Snippet   string
	BodyHTML  string
	BodyPlain string
	IsRead    bool
	IsStarred bool
	Labels    []string
}

// ID constructs the disambiguating composite id required by SPEC_FULL.md §3
// and §4.2: {account_id}:{folder}:{uid}. Deterministic and stable across fetches.
func ID(accountID, folder string, uid uint32) string {
	return accountID + ":" + folder + ":" + itoa(uid)
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// OutgoingMessage is what send() accepts.
type OutgoingMessage struct {
	From      string
	To        []string
	Cc        []string
	Bcc       []string
	Subject   string
	BodyHTML  string
	BodyPlain string
}

// Folder describes a server-side mailbox.
type Folder struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// Transport is the capability set every provider implementation satisfies,
// matching the operation names in SPEC_FULL.md §4.2 (list_folders,
// fetch_headers, fetch_full, set_flags, move, send) and grounded on
// EmailProvider in original_source/src-tauri/src/email/provider.rs.
type Transport interface {
	ListFolders() ([]Folder, error)
	FetchHeaders(folder string, sinceUID uint32, max int) ([]Header, error)
	FetchFull(folder string, uid uint32) (*FullMessage, error)
	SetFlags(folder string, uid uint32, add, remove []Flag) error
	Move(folder string, uid uint32, toFolder string) error
	Send(msg OutgoingMessage) error
}

// IdleCapable is implemented by transports that support a push-notification
// loop (IMAP IDLE). The native API transport does not implement this; its
// account instead relies on periodic polling, out of scope for this engine.
type IdleCapable interface {
	// IdleWait blocks until new mail is observed, the timeout elapses, or an
	// error occurs. Returns (true, nil) on new mail, (false, nil) on timeout.
	IdleWait(folder string, timeout time.Duration) (bool, error)
	Reconnect() error
	Close() error
}
