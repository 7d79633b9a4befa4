// Package gmailx implements the mailbox.Adapter contract over the Gmail
// REST API. Labels play the role of folders, and the native thread ids
// give the reconciliation engine its fast path.
package gmailx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/mailparse"
	"github.com/inboxzen/mailtriage/internal/model"
)

const gmailUser = "me"

// System label ids for the well-known folder kinds.
var kindLabels = map[mailbox.FolderKind]string{
	mailbox.KindInbox:  "INBOX",
	mailbox.KindDrafts: "DRAFT",
	mailbox.KindSent:   "SENT",
}

// Adapter is one authenticated Gmail session. Not safe for concurrent use.
type Adapter struct {
	srv     *gmail.Service
	account string
	log     *slog.Logger

	// labelIDs caches label name (lowercased) to id, filled lazily.
	labelIDs map[string]string

	// conversations maps thread ids seen during fetches to Gmail's own
	// conversation ids, for draft threading and the reconciliation
	// fast path.
	conversations map[string]string
}

var (
	_ mailbox.Adapter       = (*Adapter)(nil)
	_ mailbox.ThreadIndexer = (*Adapter)(nil)
)

// Dial builds a Gmail adapter from a stored OAuth token. The token JSON
// is the serialized oauth2.Token captured at account setup; refresh is
// out of scope, an expired token surfaces as an auth failure. The profile
// probe verifies the token before any real work.
func Dial(ctx context.Context, account string, tokenJSON []byte, log *slog.Logger) (*Adapter, error) {
	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("decoding stored token for %s: %w", account, err)
	}

	srv, err := gmail.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}

	if _, err := srv.Users.GetProfile(gmailUser).Context(ctx).Do(); err != nil {
		return nil, &mailbox.AuthError{Account: account, Err: err}
	}

	return &Adapter{
		srv:           srv,
		account:       account,
		log:           log.With("account", account),
		conversations: make(map[string]string),
	}, nil
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) labels(ctx context.Context) (map[string]string, error) {
	if a.labelIDs != nil {
		return a.labelIDs, nil
	}
	resp, err := a.srv.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	ids := make(map[string]string, len(resp.Labels))
	for _, label := range resp.Labels {
		ids[strings.ToLower(label.Name)] = label.Id
	}
	a.labelIDs = ids
	return ids, nil
}

func (a *Adapter) labelID(ctx context.Context, name string) (string, error) {
	ids, err := a.labels(ctx)
	if err != nil {
		return "", err
	}
	id, ok := ids[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("no label named %s", name)
	}
	return id, nil
}

func (a *Adapter) Folders(ctx context.Context) ([]string, error) {
	resp, err := a.srv.Users.Labels.List(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}
	names := make([]string, 0, len(resp.Labels))
	for _, label := range resp.Labels {
		names = append(names, label.Name)
	}
	return names, nil
}

func (a *Adapter) EnsureFolders(ctx context.Context, names []string) error {
	have, err := a.labels(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := have[strings.ToLower(name)]; ok {
			continue
		}
		created, err := a.srv.Users.Labels.Create(gmailUser, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		if err != nil {
			a.log.Warn("creating label failed", "label", name, "error", err)
			continue
		}
		have[strings.ToLower(name)] = created.Id
	}
	return nil
}

func (a *Adapter) ResolveFolder(_ context.Context, kind mailbox.FolderKind) (string, error) {
	label, ok := kindLabels[kind]
	if !ok {
		return "", fmt.Errorf("unknown folder kind %s", kind)
	}
	return label, nil
}

// SearchHeader translates a header search into the query language.
// Message-ID has a dedicated operator; other headers fall back to a
// full-text search of the value, which is the closest the API offers.
func (a *Adapter) SearchHeader(ctx context.Context, folder, header, value string) ([]string, error) {
	q := searchQuery(folder, header, value)
	resp, err := a.srv.Users.Messages.List(gmailUser).Q(q).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", q, err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// searchQuery builds the q= expression for a header search. The
// rfc822msgid operator takes the bare identifier, without the angle
// brackets headers carry.
func searchQuery(folder, header, value string) string {
	switch strings.ToLower(header) {
	case "message-id":
		return fmt.Sprintf("in:%s rfc822msgid:%s", strings.ToLower(folder), strings.Trim(value, "<>"))
	case "subject":
		return fmt.Sprintf("in:%s subject:%q", strings.ToLower(folder), value)
	default:
		return fmt.Sprintf("in:%s %q", strings.ToLower(folder), value)
	}
}

func (a *Adapter) FetchSince(ctx context.Context, folder string, cutoff time.Time, limit int) ([]model.Message, error) {
	q := fmt.Sprintf("in:%s after:%d", strings.ToLower(folder), cutoff.Unix())
	call := a.srv.Users.Messages.List(gmailUser).Q(q).Context(ctx)
	if limit > 0 {
		call = call.MaxResults(int64(limit))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	// The listing is newest first already.
	var messages []model.Message
	for _, ref := range resp.Messages {
		full, err := a.srv.Users.Messages.Get(gmailUser, ref.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date", "Message-ID").
			Context(ctx).Do()
		if err != nil {
			a.log.Warn("fetching message metadata failed", "id", ref.Id, "error", err)
			continue
		}
		msg, ok := a.messageFromMetadata(full)
		if !ok {
			continue
		}
		a.conversations[msg.ThreadID] = full.ThreadId
		messages = append(messages, msg)
	}
	return messages, nil
}

func (a *Adapter) messageFromMetadata(m *gmail.Message) (model.Message, bool) {
	msg := model.Message{UID: m.Id, Account: a.account}
	for _, h := range m.Payload.Headers {
		switch h.Name {
		case "From":
			msg.Sender, msg.SenderName = splitFrom(h.Value)
		case "Subject":
			msg.Subject = mailparse.DecodeWord(h.Value)
		case "Message-ID", "Message-Id":
			msg.ThreadID = mailparse.ExtractThreadID(h.Value)
		case "Date":
			if t, err := mailparse.ParseDate(h.Value); err == nil {
				msg.Received = t
			}
		}
	}
	if msg.Sender == "" || msg.ThreadID == "" {
		a.log.Debug("dropping message without sender or thread id", "id", m.Id)
		return model.Message{}, false
	}
	return msg, true
}

// splitFrom decomposes a From header value like `"Ana Ruiz" <ana@x.y>`
// into address and display name.
func splitFrom(value string) (addr, name string) {
	value = strings.TrimSpace(mailparse.DecodeWord(value))
	open := strings.LastIndex(value, "<")
	end := strings.LastIndex(value, ">")
	if open >= 0 && end > open {
		addr = value[open+1 : end]
		name = strings.Trim(strings.TrimSpace(value[:open]), `"`)
		return addr, name
	}
	return value, ""
}

func (a *Adapter) FetchBody(ctx context.Context, _ string, id string) ([]byte, error) {
	full, err := a.srv.Users.Messages.Get(gmailUser, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching raw message %s: %w", id, err)
	}
	raw, err := base64.URLEncoding.DecodeString(full.Raw)
	if err != nil {
		return nil, fmt.Errorf("decoding raw message %s: %w", id, err)
	}
	return raw, nil
}

func (a *Adapter) FetchHeaderFields(ctx context.Context, _ string, id string, fields []string) ([]byte, error) {
	full, err := a.srv.Users.Messages.Get(gmailUser, id).
		Format("metadata").
		MetadataHeaders(fields...).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching headers of %s: %w", id, err)
	}

	var b strings.Builder
	for _, h := range full.Payload.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	return []byte(b.String()), nil
}

// Label adds the target label to the message. Gmail has no copies; a
// labeled message simply appears under both the inbox and the label,
// which is exactly the copy-without-delete contract.
func (a *Adapter) Label(ctx context.Context, _, toFolder, id string) error {
	labelID, err := a.labelID(ctx, toFolder)
	if err != nil {
		return err
	}
	_, err = a.srv.Users.Messages.Modify(gmailUser, id, &gmail.ModifyMessageRequest{
		AddLabelIds: []string{labelID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("labeling message %s: %w", id, err)
	}
	return nil
}

func (a *Adapter) Move(ctx context.Context, fromFolder, toFolder, id string) error {
	fromID, err := a.labelID(ctx, fromFolder)
	if err != nil {
		return err
	}
	toID, err := a.labelID(ctx, toFolder)
	if err != nil {
		return err
	}
	_, err = a.srv.Users.Messages.Modify(gmailUser, id, &gmail.ModifyMessageRequest{
		AddLabelIds:    []string{toID},
		RemoveLabelIds: []string{fromID},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("moving message %s: %w", id, err)
	}
	return nil
}

func (a *Adapter) CreateDraft(ctx context.Context, d mailbox.Draft) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.account)
	fmt.Fprintf(&b, "To: %s\r\n", d.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", d.Subject)
	if d.InReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", d.InReplyTo)
		fmt.Fprintf(&b, "References: %s\r\n", d.InReplyTo)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(d.Body)

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(b.String())),
	}
	// Attaching the conversation id keeps the draft inside the thread.
	if convID, ok := a.conversations[d.InReplyTo]; ok {
		message.ThreadId = convID
	}

	_, err := a.srv.Users.Drafts.Create(gmailUser, &gmail.Draft{
		Message: message,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("creating draft: %w", err)
	}
	return nil
}

func (a *Adapter) DeleteFolder(ctx context.Context, name string) error {
	id, err := a.labelID(ctx, name)
	if err != nil {
		return err
	}
	if err := a.srv.Users.Labels.Delete(gmailUser, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("deleting label %s: %w", name, err)
	}
	delete(a.labelIDs, strings.ToLower(name))
	return nil
}

// AnsweredOrDrafted is the reconciliation fast path: instead of scanning
// folders, ask Gmail for each known conversation and report the thread
// ids whose conversation already holds a draft or a sent message.
func (a *Adapter) AnsweredOrDrafted(ctx context.Context, threadIDs []string) (map[string]struct{}, error) {
	resolved := make(map[string]struct{})
	for _, tid := range threadIDs {
		convID, ok := a.conversations[tid]
		if !ok {
			continue
		}
		thread, err := a.srv.Users.Threads.Get(gmailUser, convID).
			Format("minimal").Context(ctx).Do()
		if err != nil {
			a.log.Warn("fetching conversation failed", "thread", tid, "error", err)
			continue
		}
		for _, m := range thread.Messages {
			if hasAnyLabel(m.LabelIds, "DRAFT", "SENT") {
				resolved[tid] = struct{}{}
				break
			}
		}
	}
	return resolved, nil
}

func hasAnyLabel(labelIDs []string, wanted ...string) bool {
	for _, id := range labelIDs {
		for _, w := range wanted {
			if id == w {
				return true
			}
		}
	}
	return false
}
