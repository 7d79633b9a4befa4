package imapx

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/mailparse"
	"github.com/inboxzen/mailtriage/internal/model"
)

// Adapter is one authenticated IMAP session implementing mailbox.Adapter.
// Not safe for concurrent use.
type Adapter struct {
	client  *imapclient.Client
	account string
	log     *slog.Logger

	// selected caches the currently selected folder so consecutive
	// operations on the same folder skip the SELECT round-trip.
	selected string
}

var _ mailbox.Adapter = (*Adapter)(nil)

func (a *Adapter) Close() error {
	return a.client.Logout().Wait()
}

func (a *Adapter) selectFolder(folder string) error {
	if a.selected == folder {
		return nil
	}
	if _, err := a.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	a.selected = folder
	return nil
}

func (a *Adapter) Folders(_ context.Context) ([]string, error) {
	var names []string
	err := withRetry("listing folders", a.log, func() error {
		list, err := a.client.List("", "*", nil).Collect()
		if err != nil {
			return err
		}
		names = names[:0]
		for _, item := range list {
			names = append(names, item.Mailbox)
		}
		return nil
	})
	return names, err
}

func (a *Adapter) EnsureFolders(ctx context.Context, names []string) error {
	existing, err := a.Folders(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = struct{}{}
	}

	for _, name := range names {
		if _, ok := have[strings.ToLower(name)]; ok {
			continue
		}
		if err := a.client.Create(name, nil).Wait(); err != nil {
			// Filing into this folder will fail per message later.
			a.log.Warn("creating folder failed", "folder", name, "error", err)
		}
	}
	return nil
}

func (a *Adapter) ResolveFolder(ctx context.Context, kind mailbox.FolderKind) (string, error) {
	folders, err := a.Folders(ctx)
	if err != nil {
		return "", err
	}
	name, ok := resolveFolderName(folders, kind)
	if !ok {
		return "", fmt.Errorf("no %s folder among %d listed", kind, len(folders))
	}
	return name, nil
}

func (a *Adapter) SearchHeader(_ context.Context, folder, header, value string) ([]string, error) {
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: header, Value: value},
		},
	}

	var ids []string
	err := withRetry("header search", a.log, func() error {
		data, err := a.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, uid := range data.AllUIDs() {
			ids = append(ids, strconv.FormatUint(uint64(uid), 10))
		}
		return nil
	})
	return ids, err
}

func (a *Adapter) FetchSince(_ context.Context, folder string, cutoff time.Time, limit int) ([]model.Message, error) {
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	var uids []imap.UID
	err := withRetry("searching since cutoff", a.log, func() error {
		data, err := a.client.UIDSearch(&imap.SearchCriteria{Since: cutoff}, nil).Wait()
		if err != nil {
			return err
		}
		uids = data.AllUIDs()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	fetchOpts := &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}

	var buffers []*imapclient.FetchMessageBuffer
	err = withRetry("fetching envelopes", a.log, func() error {
		buffers, err = a.client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
		return err
	})
	if err != nil {
		return nil, err
	}

	// Newest first; the orchestrator reverses before processing.
	var messages []model.Message
	for i := len(buffers) - 1; i >= 0; i-- {
		msg, ok := a.messageFromBuffer(buffers[i])
		if !ok {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// messageFromBuffer normalizes one fetched envelope into a Message.
// Messages with no usable sender or no Message-ID are dropped here so the
// pipeline never sees them.
func (a *Adapter) messageFromBuffer(buf *imapclient.FetchMessageBuffer) (model.Message, bool) {
	env := buf.Envelope
	if env == nil {
		return model.Message{}, false
	}
	if len(env.From) == 0 || env.From[0].Mailbox == "" || env.From[0].Host == "" {
		a.log.Debug("dropping message without sender", "uid", buf.UID)
		return model.Message{}, false
	}
	threadID := mailparse.ExtractThreadID("<" + strings.Trim(env.MessageID, "<>") + ">")
	if env.MessageID == "" || threadID == "" {
		a.log.Debug("dropping message without thread id", "uid", buf.UID)
		return model.Message{}, false
	}

	return model.Message{
		UID:        strconv.FormatUint(uint64(buf.UID), 10),
		ThreadID:   threadID,
		Sender:     env.From[0].Addr(),
		SenderName: mailparse.DecodeWord(env.From[0].Name),
		Subject:    mailparse.DecodeWord(env.Subject),
		Received:   env.Date,
		Account:    a.account,
	}, true
}

func (a *Adapter) FetchBody(_ context.Context, folder, id string) ([]byte, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	var raw []byte
	err = withRetry("fetching body", a.log, func() error {
		buffers, err := a.client.Fetch(imap.UIDSetNum(uid), opts).Collect()
		if err != nil {
			return err
		}
		if len(buffers) == 0 {
			return fmt.Errorf("message %s not found in %s", id, folder)
		}
		raw = buffers[0].FindBodySection(section)
		return nil
	})
	return raw, err
}

func (a *Adapter) FetchHeaderFields(_ context.Context, folder, id string, fields []string) ([]byte, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}
	if err := a.selectFolder(folder); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: fields,
		Peek:         true,
	}
	opts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	}

	var raw []byte
	err = withRetry("fetching header fields", a.log, func() error {
		buffers, err := a.client.Fetch(imap.UIDSetNum(uid), opts).Collect()
		if err != nil {
			return err
		}
		if len(buffers) == 0 {
			return fmt.Errorf("message %s not found in %s", id, folder)
		}
		raw = buffers[0].FindBodySection(section)
		return nil
	})
	return raw, err
}

// Label copies the message into toFolder and leaves the original in
// place. On backends that surface one message under several folders a
// copy is how a label is applied; deleting the source would lose the
// message.
func (a *Adapter) Label(_ context.Context, fromFolder, toFolder, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if err := a.selectFolder(fromFolder); err != nil {
		return err
	}
	return withRetry("labeling", a.log, func() error {
		_, err := a.client.Copy(imap.UIDSetNum(uid), toFolder).Wait()
		return err
	})
}

func (a *Adapter) Move(_ context.Context, fromFolder, toFolder, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}
	if err := a.selectFolder(fromFolder); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(uid)
	if _, err := a.client.Copy(uidSet, toFolder).Wait(); err != nil {
		return fmt.Errorf("copying to %s: %w", toFolder, err)
	}

	store := a.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := store.Close(); err != nil {
		return fmt.Errorf("flagging deleted: %w", err)
	}

	if err := a.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", fromFolder, err)
	}
	return nil
}

func (a *Adapter) CreateDraft(ctx context.Context, d mailbox.Draft) error {
	drafts, err := a.ResolveFolder(ctx, mailbox.KindDrafts)
	if err != nil {
		return err
	}

	raw, err := a.renderDraft(d)
	if err != nil {
		return err
	}

	cmd := a.client.Append(drafts, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagDraft},
	})
	if _, err := cmd.Write(raw); err != nil {
		return fmt.Errorf("writing draft: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("closing draft append: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("appending draft: %w", err)
	}
	return nil
}

// renderDraft builds the RFC 5322 message stored as the draft. The draft
// gets a fresh Message-ID; when d.InReplyTo carries a thread id the
// threading headers are set so clients show the draft inside the
// conversation.
func (a *Adapter) renderDraft(d mailbox.Draft) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(d.Subject)
	h.SetAddressList("From", []*mail.Address{{Address: a.account}})
	h.SetAddressList("To", []*mail.Address{{Address: d.To}})
	h.Set("Message-Id", draftMessageID(a.account))
	if d.InReplyTo != "" {
		h.Set("In-Reply-To", d.InReplyTo)
		h.Set("References", d.InReplyTo)
	}

	var buf strings.Builder
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating draft writer: %w", err)
	}
	if _, err := w.Write([]byte(d.Body)); err != nil {
		return nil, fmt.Errorf("writing draft body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing draft: %w", err)
	}
	return []byte(buf.String()), nil
}

func (a *Adapter) DeleteFolder(_ context.Context, name string) error {
	if a.selected == name {
		a.selected = ""
	}
	if err := a.client.Delete(name).Wait(); err != nil {
		return fmt.Errorf("deleting folder %s: %w", name, err)
	}
	return nil
}

func draftMessageID(account string) string {
	domain := "localhost"
	if at := strings.LastIndex(account, "@"); at >= 0 && at < len(account)-1 {
		domain = account[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func parseUID(id string) (imap.UID, error) {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bad message id %q: %w", id, err)
	}
	return imap.UID(n), nil
}
