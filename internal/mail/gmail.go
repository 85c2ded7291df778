package mail

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"mailengine/internal/apperr"
)

// GmailOAuthConfig carries the client credentials shared by every Gmail
// account, grounded on pkg/gmail/service.go's Service{clientID, clientSecret}.
type GmailOAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// notifyTokenSource wraps an oauth2.TokenSource to detect silent refreshes,
// copied verbatim in spirit from notifyTokenSource in pkg/gmail/service.go.
type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	onUpdate func(access string, expiry time.Time)
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.onUpdate != nil && (s.current == nil || s.current.AccessToken != t.AccessToken) {
		s.current = t
		s.onUpdate(t.AccessToken, t.Expiry)
	}
	return t, nil
}

// GmailTransport implements Transport against the native Gmail HTTPS API. It
// does not implement IdleCapable: push notifications would require a Pub/Sub
// webhook (out of scope), so this account type relies on periodic re-sync
// rather than IDLE.
type GmailTransport struct {
	AccountID    string
	cfg          GmailOAuthConfig
	accessToken  string
	refreshToken string
	onTokenSaved func(access string, expiry time.Time)

	// idCache remembers the folded uint32 -> native Gmail message id mapping
	// learned during FetchHeaders, since Gmail has no numeric UID of its own
	// and the Transport interface addresses messages by uint32.
	idMu    sync.Mutex
	idCache map[uint32]string
}

func NewGmailTransport(accountID string, cfg GmailOAuthConfig, accessToken, refreshToken string, onTokenSaved func(access string, expiry time.Time)) *GmailTransport {
	return &GmailTransport{
		AccountID:    accountID,
		cfg:          cfg,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		onTokenSaved: onTokenSaved,
	}
}

func (t *GmailTransport) service(ctx context.Context) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  t.accessToken,
		RefreshToken: t.refreshToken,
		TokenType:    "Bearer",
	}
	if t.refreshToken != "" {
		token.Expiry = time.Now()
	}

	oauthCfg := &oauth2.Config{
		ClientID:     t.cfg.ClientID,
		ClientSecret: t.cfg.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      oauthCfg.TokenSource(ctx, token),
		current:  token,
		onUpdate: t.onTokenSaved,
	}

	httpClient := oauth2.NewClient(ctx, wrapped)
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "creating gmail service for %s", t.AccountID)
	}
	return srv, nil
}

// ListFolders maps Gmail labels onto the Folder shape; system labels
// (INBOX, SENT, TRASH, ...) and user labels both count as folders.
func (t *GmailTransport) ListFolders() ([]Folder, error) {
	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := srv.Users.Labels.List("me").Do()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "listing labels for %s", t.AccountID)
	}
	folders := make([]Folder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		if l.Type == "system" || l.Type == "user" {
			folders = append(folders, Folder{Name: l.Name})
		}
	}
	return folders, nil
}

// FetchHeaders lists messages under a label and fetches metadata-only
// headers for each, using bounded concurrency the way GetEmails in
// pkg/gmail/service.go fans out full-message fetches.
func (t *GmailTransport) FetchHeaders(folder string, sinceUID uint32, max int) ([]Header, error) {
	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return nil, err
	}

	if max <= 0 {
		max = 50
	}
	listQuery := srv.Users.Messages.List("me").MaxResults(int64(max))
	if folder != "" {
		listQuery = listQuery.LabelIds(folder)
	}
	resp, err := listQuery.Do()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "listing messages for %s", t.AccountID)
	}

	type result struct {
		h        Header
		nativeID string
		err      error
	}
	results := make(chan result, len(resp.Messages))
	semaphore := make(chan struct{}, 10)

	for _, m := range resp.Messages {
		go func(id string) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			msg, err := srv.Users.Messages.Get("me", id).Format("metadata").
				MetadataHeaders("From", "To", "Subject", "Date", "Message-Id", "In-Reply-To", "References").Do()
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{h: gmailHeaderToHeader(t.AccountID, folder, msg), nativeID: id}
		}(m.Id)
	}

	var headers []Header
	for range resp.Messages {
		r := <-results
		if r.err == nil {
			t.rememberID(r.h.UID, r.nativeID)
			headers = append(headers, r.h)
		}
	}
	return headers, nil
}

// rememberID records the folded-uid -> native Gmail message id mapping
// learned during a list/fetch call, so later uid-addressed calls (FetchFull,
// SetFlags, Move) can resolve back to the id the API actually needs.
func (t *GmailTransport) rememberID(uid uint32, nativeID string) {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	if t.idCache == nil {
		t.idCache = make(map[uint32]string)
	}
	if nativeID != "" {
		t.idCache[uid] = nativeID
	}
}

func (t *GmailTransport) resolveID(uid uint32) (string, bool) {
	t.idMu.Lock()
	defer t.idMu.Unlock()
	id, ok := t.idCache[uid]
	return id, ok
}

func gmailHeaderToHeader(accountID, folder string, msg *gmail.Message) Header {
	h := Header{
		AccountID: accountID,
		Folder:    folder,
		UID:       gmailUID(msg.Id),
		MessageID: getHeader(msg.Payload.Headers, "Message-Id"),
		InReplyTo: getHeader(msg.Payload.Headers, "In-Reply-To"),
		Subject:   getHeader(msg.Payload.Headers, "Subject"),
	}
	if refs := getHeader(msg.Payload.Headers, "References"); refs != "" {
		h.References = strings.Fields(refs)
	}
	from := getHeader(msg.Payload.Headers, "From")
	h.FromName, h.FromAddress = splitNameAddress(from)
	if to := getHeader(msg.Payload.Headers, "To"); to != "" {
		h.To = strings.Split(to, ",")
	}
	if d := getHeader(msg.Payload.Headers, "Date"); d != "" {
		if parsed, err := time.Parse(time.RFC1123Z, strings.TrimSpace(d)); err == nil {
			h.Date = parsed
		}
	}
	h.HasAttachment = hasAttachment(msg.Payload)
	return h
}

// gmailUID derives a stable numeric UID from Gmail's hex message id, since
// Gmail has no native IMAP-style sequential UID; the composite ID in
// types.go's ID() still keys uniquely off (account, folder, uid) once the
// hex digest is folded into a uint32.
func gmailUID(gmailID string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(gmailID); i++ {
		h ^= uint32(gmailID[i])
		h *= 16777619
	}
	return h
}

func splitNameAddress(header string) (name, address string) {
	if idx := strings.Index(header, "<"); idx > 0 {
		name = strings.TrimSpace(header[:idx])
		address = strings.TrimSuffix(strings.TrimSpace(header[idx+1:]), ">")
		return
	}
	return "", strings.TrimSpace(header)
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func hasAttachment(part *gmail.MessagePart) bool {
	if part == nil {
		return false
	}
	if part.Filename != "" {
		return true
	}
	for _, p := range part.Parts {
		if hasAttachment(p) {
			return true
		}
	}
	return false
}

// FetchFull resolves uid back to the native Gmail id via idCache, populated
// by a prior FetchHeaders call; the composite id in types.go's ID() is
// always derived from a Header returned by this transport, so the cache is
// warm by the time a caller has a uid to fetch.
func (t *GmailTransport) FetchFull(folder string, uid uint32) (*FullMessage, error) {
	gmailID, ok := t.resolveID(uid)
	if !ok {
		return nil, apperr.Wrap(apperr.ErrNotFound, "unknown gmail message for uid %d, re-run FetchHeaders", uid)
	}

	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := srv.Users.Messages.Get("me", gmailID).Format("full").Do()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "fetching message %s", gmailID)
	}

	full := &FullMessage{Header: gmailHeaderToHeader(t.AccountID, folder, msg)}
	body, isHTML := gmailBody(msg.Payload)
	if isHTML {
		full.BodyHTML = body
		full.Snippet = stripHTML(body)
	} else {
		full.BodyPlain = body
		full.Snippet = body
	}
	if len(full.Snippet) > 200 {
		full.Snippet = full.Snippet[:200]
	}
	for _, label := range msg.LabelIds {
		switch label {
		case "UNREAD":
		case "STARRED":
			full.IsStarred = true
		default:
			full.Labels = append(full.Labels, label)
		}
	}
	full.IsRead = !containsLabel(msg.LabelIds, "UNREAD")
	return full, nil
}

func containsLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

func gmailBody(payload *gmail.MessagePart) (body string, isHTML bool) {
	if payload.Body != nil && payload.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(payload.Body.Data)
		if err == nil {
			return string(data), payload.MimeType == "text/html"
		}
	}

	var htmlBody, plainBody string
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Body != nil && part.Body.Data != "" {
				data, err := base64.URLEncoding.DecodeString(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						htmlBody += string(data)
					case "text/plain":
						plainBody += string(data)
					}
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)

	if htmlBody != "" {
		return htmlBody, true
	}
	return plainBody, false
}

var htmlTagRE = regexp.MustCompile(`<[^>]*>`)

func stripHTML(s string) string {
	s = htmlTagRE.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// SetFlags maps IMAP-style flags onto Gmail label add/remove requests,
// resolving uid to a native id via idCache (see FetchFull).
func (t *GmailTransport) SetFlags(folder string, uid uint32, add, remove []Flag) error {
	gmailID, ok := t.resolveID(uid)
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "unknown gmail message for uid %d, re-run FetchHeaders", uid)
	}

	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{}
	// FlagSeen maps to UNREAD inverted: marking seen removes the label.
	for _, f := range add {
		if f == FlagSeen {
			req.RemoveLabelIds = append(req.RemoveLabelIds, "UNREAD")
		} else if label := flagToLabel(f); label != "" {
			req.AddLabelIds = append(req.AddLabelIds, label)
		}
	}
	for _, f := range remove {
		if f == FlagSeen {
			req.AddLabelIds = append(req.AddLabelIds, "UNREAD")
		} else if label := flagToLabel(f); label != "" {
			req.RemoveLabelIds = append(req.RemoveLabelIds, label)
		}
	}
	if _, err := srv.Users.Messages.Modify("me", gmailID, req).Do(); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "modifying labels on %s", gmailID)
	}
	return nil
}

func flagToLabel(f Flag) string {
	switch f {
	case FlagSeen:
		return "UNREAD"
	case FlagFlagged:
		return "STARRED"
	case FlagDeleted:
		return "TRASH"
	}
	return ""
}

// Move moves a message between labels by removing the source label and
// adding the destination label, mirroring ArchiveEmail's label-removal idiom
// in pkg/gmail/service.go.
func (t *GmailTransport) Move(folder string, uid uint32, toFolder string) error {
	gmailID, ok := t.resolveID(uid)
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "unknown gmail message for uid %d, re-run FetchHeaders", uid)
	}

	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return err
	}
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{toFolder}}
	if folder != "" {
		req.RemoveLabelIds = []string{folder}
	}
	if _, err := srv.Users.Messages.Modify("me", gmailID, req).Do(); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "moving %s to %s", gmailID, toFolder)
	}
	return nil
}

// Send builds a single-part MIME message and submits it via messages.send,
// following the manual header-writing shape of SendEmail in
// pkg/gmail/service.go. The body is BodyHTML when set, otherwise BodyPlain;
// the two are not combined into a multipart message.
func (t *GmailTransport) Send(msg OutgoingMessage) error {
	ctx := context.Background()
	srv, err := t.service(ctx)
	if err != nil {
		return err
	}

	var raw strings.Builder
	raw.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	raw.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		raw.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	raw.WriteString(fmt.Sprintf("Subject: =?utf-8?B?%s?=\r\n", base64.StdEncoding.EncodeToString([]byte(msg.Subject))))
	raw.WriteString("MIME-Version: 1.0\r\n")

	if msg.BodyHTML != "" {
		raw.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
		raw.WriteString(msg.BodyHTML)
	} else {
		raw.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		raw.WriteString(msg.BodyPlain)
	}

	gmsg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw.String()))}
	if _, err := srv.Users.Messages.Send("me", gmsg).Do(); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "sending message from %s", t.AccountID)
	}
	return nil
}
