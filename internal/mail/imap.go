package mail

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"

	"mailengine/internal/apperr"
)

// IMAPCredentials carries either a password or an OAuth2 bearer token for
// XOAUTH2, matching ImapCredentials in
// original_source/src-tauri/src/email/imap_client.rs.
type IMAPCredentials struct {
	Username    string
	Password    string
	AccessToken string
}

func (c IMAPCredentials) isOAuth() bool { return c.AccessToken != "" }

// IMAPTransport implements Transport and IdleCapable against a generic IMAP
// + SMTP server, grounded on Nativo-Digital-LLC-lilmail/handlers/imap.go
// (connection/login shape) and
// nam-hle-task-management/internal/source/email/client.go (fetch/flags/move
// shape, MIME body parsing via go-message/mail).
type IMAPTransport struct {
	AccountID string
	IMAPHost  string
	IMAPPort  int
	SMTPHost  string
	SMTPPort  int
	Creds     IMAPCredentials

	c *client.Client
}

func NewIMAPTransport(accountID, imapHost string, imapPort int, smtpHost string, smtpPort int, creds IMAPCredentials) *IMAPTransport {
	return &IMAPTransport{
		AccountID: accountID,
		IMAPHost:  imapHost,
		IMAPPort:  imapPort,
		SMTPHost:  smtpHost,
		SMTPPort:  smtpPort,
		Creds:     creds,
	}
}

func (t *IMAPTransport) Reconnect() error {
	if t.c != nil {
		_ = t.c.Logout()
		t.c = nil
	}

	addr := fmt.Sprintf("%s:%d", t.IMAPHost, t.IMAPPort)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "dialing %s", addr)
	}

	if t.Creds.isOAuth() {
		saslClient := sasl.NewXoauth2Client(t.Creds.Username, t.Creds.AccessToken)
		if err := c.Authenticate(saslClient); err != nil {
			_ = c.Logout()
			return apperr.Wrap(apperr.ErrAuthRequired, "xoauth2 login for %s", t.AccountID)
		}
	} else {
		if err := c.Login(t.Creds.Username, t.Creds.Password); err != nil {
			_ = c.Logout()
			return apperr.Wrap(apperr.ErrAuthRequired, "password login for %s", t.AccountID)
		}
	}

	t.c = c
	return nil
}

func (t *IMAPTransport) Close() error {
	if t.c == nil {
		return nil
	}
	err := t.c.Logout()
	t.c = nil
	return err
}

func (t *IMAPTransport) ensureConnected() error {
	if t.c == nil {
		return t.Reconnect()
	}
	return nil
}

func (t *IMAPTransport) ListFolders() ([]Folder, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() { done <- t.c.List("", "*", mailboxes) }()

	var folders []Folder
	for m := range mailboxes {
		folders = append(folders, Folder{Name: m.Name, Delimiter: m.Delimiter, Attributes: attrsToStrings(m.Attributes)})
	}
	if err := <-done; err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "listing folders for %s", t.AccountID)
	}
	return folders, nil
}

func attrsToStrings(attrs []string) []string {
	out := make([]string, len(attrs))
	copy(out, attrs)
	return out
}

func (t *IMAPTransport) FetchHeaders(folder string, sinceUID uint32, max int) ([]Header, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	mbox, err := t.c.Select(folder, false)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "selecting %s", folder)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	if sinceUID > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(sinceUID+1, 0)
	}
	uids, err := t.c.UidSearch(criteria)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "searching %s", folder)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchFlags, imap.FetchBodyStructure}
	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- t.c.UidFetch(seqset, items, messages) }()

	var headers []Header
	for msg := range messages {
		headers = append(headers, envelopeToHeader(t.AccountID, folder, msg))
	}
	if err := <-done; err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "fetching headers in %s", folder)
	}
	return headers, nil
}

func envelopeToHeader(accountID, folder string, msg *imap.Message) Header {
	h := Header{AccountID: accountID, Folder: folder, UID: msg.Uid}
	if env := msg.Envelope; env != nil {
		h.Subject = env.Subject
		h.MessageID = env.MessageId
		h.InReplyTo = env.InReplyTo
		h.Date = env.Date
		if len(env.From) > 0 {
			h.FromName = env.From[0].PersonalName
			h.FromAddress = env.From[0].Address()
		}
		for _, to := range env.To {
			h.To = append(h.To, to.Address())
		}
	}
	if msg.BodyStructure != nil {
		h.HasAttachment = bodyHasAttachment(msg.BodyStructure)
	}
	return h
}

func bodyHasAttachment(bs *imap.BodyStructure) bool {
	if bs.Disposition == "attachment" {
		return true
	}
	for _, part := range bs.Parts {
		if bodyHasAttachment(part) {
			return true
		}
	}
	return false
}

func (t *IMAPTransport) FetchFull(folder string, uid uint32) (*FullMessage, error) {
	if err := t.ensureConnected(); err != nil {
		return nil, err
	}
	if _, err := t.c.Select(folder, false); err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "selecting %s", folder)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchFlags, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- t.c.UidFetch(seqset, items, messages) }()

	msg := <-messages
	if err := <-done; err != nil {
		return nil, apperr.Wrap(apperr.ErrTransportTransient, "fetching message %d in %s", uid, folder)
	}
	if msg == nil {
		return nil, apperr.Wrap(apperr.ErrNotFound, "message %d not found in %s", uid, folder)
	}

	full := &FullMessage{Header: envelopeToHeader(t.AccountID, folder, msg)}
	for _, flag := range msg.Flags {
		switch flag {
		case imap.SeenFlag:
			full.IsRead = true
		case imap.FlaggedFlag:
			full.IsStarred = true
		}
	}

	lit := msg.GetBody(section)
	if lit == nil {
		return nil, apperr.Wrap(apperr.ErrParse, "no body literal for message %d", uid)
	}
	if err := parseMIMEBody(lit, full); err != nil {
		return nil, apperr.Wrap(apperr.ErrParse, "parsing MIME body for message %d: %v", uid, err)
	}
	return full, nil
}

// parseMIMEBody walks a MIME multipart body, extracting text/plain and
// text/html parts, following the mail.CreateReader iteration idiom from
// nam-hle-task-management/internal/source/email/client.go.
func parseMIMEBody(r io.Reader, out *FullMessage) error {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return err
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(part.Body)
			switch ct {
			case "text/plain":
				out.BodyPlain += string(body)
			case "text/html":
				out.BodyHTML += string(body)
			}
		case *mail.AttachmentHeader:
			out.HasAttachment = true
		}
	}
	if out.Snippet == "" {
		src := out.BodyPlain
		if src == "" {
			src = out.BodyHTML
		}
		if len(src) > 200 {
			src = src[:200]
		}
		out.Snippet = strings.TrimSpace(src)
	}
	return nil
}

func (t *IMAPTransport) SetFlags(folder string, uid uint32, add, remove []Flag) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if _, err := t.c.Select(folder, false); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "selecting %s", folder)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	if len(add) > 0 {
		if err := t.storeFlags(seqset, add, imap.AddFlags); err != nil {
			return err
		}
	}
	if len(remove) > 0 {
		if err := t.storeFlags(seqset, remove, imap.RemoveFlags); err != nil {
			return err
		}
	}
	return nil
}

func (t *IMAPTransport) storeFlags(seqset *imap.SeqSet, flags []Flag, op imap.FlagsOp) error {
	names := make([]any, len(flags))
	for i, f := range flags {
		names[i] = string(f)
	}
	item := imap.FormatFlagsOp(op, true)
	return t.c.UidStore(seqset, item, names, nil)
}

func (t *IMAPTransport) Move(folder string, uid uint32, toFolder string) error {
	if err := t.ensureConnected(); err != nil {
		return err
	}
	if _, err := t.c.Select(folder, false); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "selecting %s", folder)
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	if err := t.c.UidMove(seqset, toFolder); err == nil {
		return nil
	}
	// Server lacks MOVE: fall back to COPY + mark \Deleted, matching the
	// common-folder-name fallback in
	// nam-hle-task-management/internal/source/email/client.go.
	if err := t.c.UidCopy(seqset, toFolder); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "copying message %d to %s", uid, toFolder)
	}
	return t.storeFlags(seqset, []Flag{FlagDeleted}, imap.AddFlags)
}

func (t *IMAPTransport) Send(msg OutgoingMessage) error {
	raw, err := buildRFC822(msg)
	if err != nil {
		return apperr.Wrap(apperr.ErrParse, "building outgoing message")
	}

	addr := fmt.Sprintf("%s:%d", t.SMTPHost, t.SMTPPort)
	var auth smtp.Auth
	if !t.Creds.isOAuth() {
		auth = smtp.PlainAuth("", t.Creds.Username, t.Creds.Password, t.SMTPHost)
	}

	recipients := append(append([]string{}, msg.To...), append(msg.Cc, msg.Bcc...)...)
	if err := smtp.SendMail(addr, auth, msg.From, recipients, raw); err != nil {
		return apperr.Wrap(apperr.ErrTransportTransient, "sending mail via %s", addr)
	}
	return nil
}

// buildRFC822 assembles a multipart/alternative HTML+plain message, the
// counterpart to parseMIMEBody, using go-message/mail's writer side.
func buildRFC822(msg OutgoingMessage) ([]byte, error) {
	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: msg.From}})
	h.SetAddressList("To", toAddressList(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toAddressList(msg.Cc))
	}
	h.SetSubject(mime.QEncoding.Encode("utf-8", msg.Subject))

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	bw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}
	if msg.BodyPlain != "" {
		var ih mail.InlineHeader
		ih.Set("Content-Type", "text/plain; charset=utf-8")
		pw, err := bw.CreatePart(ih)
		if err != nil {
			return nil, err
		}
		_, _ = pw.Write([]byte(msg.BodyPlain))
		_ = pw.Close()
	}
	if msg.BodyHTML != "" {
		var ih mail.InlineHeader
		ih.Set("Content-Type", "text/html; charset=utf-8")
		pw, err := bw.CreatePart(ih)
		if err != nil {
			return nil, err
		}
		_, _ = pw.Write([]byte(msg.BodyHTML))
		_ = pw.Close()
	}
	_ = bw.Close()
	_ = mw.Close()

	return buf.Bytes(), nil
}

func toAddressList(addrs []string) []*mail.Address {
	out := make([]*mail.Address, len(addrs))
	for i, a := range addrs {
		out[i] = &mail.Address{Address: a}
	}
	return out
}

// IdleWait enters IMAP IDLE and blocks until new mail, timeout, or error,
// matching the ClientIdle behavior expected by the IDLE supervisor in idle.go.
func (t *IMAPTransport) IdleWait(folder string, timeout time.Duration) (bool, error) {
	if err := t.ensureConnected(); err != nil {
		return false, err
	}
	if _, err := t.c.Select(folder, false); err != nil {
		return false, apperr.Wrap(apperr.ErrTransportTransient, "selecting %s for idle", folder)
	}

	updates := make(chan client.Update, 8)
	t.c.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- t.c.Idle(stop, &client.IdleOptions{LogoutTimeout: 0}) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case u := <-updates:
			switch u.(type) {
			case *client.MailboxUpdate:
				close(stop)
				<-done
				return true, nil
			}
		case <-timer.C:
			close(stop)
			<-done
			return false, nil
		case err := <-done:
			return false, apperr.Wrap(apperr.ErrTransportTransient, "idle on %s: %v", folder, err)
		}
	}
}
