package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/model"
)

// fakeAdapter serves canned search and header-fetch results and counts
// every call, so tests can assert both outcomes and effort.
type fakeAdapter struct {
	kinds     map[mailbox.FolderKind]string
	searches  map[string][]string // "folder/header/value" -> ids
	headers   map[string]string   // "folder/id" -> raw header block
	searchErr map[string]error
	calls     map[string]int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		kinds: map[mailbox.FolderKind]string{
			mailbox.KindInbox:  "INBOX",
			mailbox.KindDrafts: "Drafts",
			mailbox.KindSent:   "Sent",
		},
		searches:  map[string][]string{},
		headers:   map[string]string{},
		searchErr: map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeAdapter) ResolveFolder(_ context.Context, kind mailbox.FolderKind) (string, error) {
	name, ok := f.kinds[kind]
	if !ok {
		return "", fmt.Errorf("no folder for kind %s", kind)
	}
	return name, nil
}

func (f *fakeAdapter) SearchHeader(_ context.Context, folder, header, value string) ([]string, error) {
	key := folder + "/" + header + "/" + value
	f.calls[key]++
	if err, ok := f.searchErr[key]; ok {
		return nil, err
	}
	return f.searches[key], nil
}

func (f *fakeAdapter) FetchHeaderFields(_ context.Context, folder, id string, _ []string) ([]byte, error) {
	key := folder + "/" + id
	f.calls["fetch:"+key]++
	raw, ok := f.headers[key]
	if !ok {
		return nil, fmt.Errorf("no message %s in %s", id, folder)
	}
	return []byte(raw), nil
}

func (f *fakeAdapter) Folders(context.Context) ([]string, error)           { return nil, nil }
func (f *fakeAdapter) EnsureFolders(context.Context, []string) error       { return nil }
func (f *fakeAdapter) FetchBody(context.Context, string, string) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) FetchSince(context.Context, string, time.Time, int) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeAdapter) Label(context.Context, string, string, string) error { return nil }
func (f *fakeAdapter) Move(context.Context, string, string, string) error  { return nil }
func (f *fakeAdapter) CreateDraft(context.Context, mailbox.Draft) error    { return nil }
func (f *fakeAdapter) DeleteFolder(context.Context, string) error          { return nil }
func (f *fakeAdapter) Close() error                                        { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFindDraftedThread(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["Drafts/References/<t1@x>"] = []string{"301"}

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t1@x>"})

	_, ok := got["<t1@x>"]
	be.True(t, ok)
	be.Equal(t, len(got), 1)

	// First match wins: no In-Reply-To search, no later folders.
	be.Equal(t, fake.calls["Drafts/In-Reply-To/<t1@x>"], 0)
	be.Equal(t, fake.calls["Sent/References/<t1@x>"], 0)
	be.Equal(t, fake.calls["INBOX/Message-ID/<t1@x>"], 0)
}

func TestFindAnsweredViaSentInReplyTo(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["Sent/In-Reply-To/<t2@x>"] = []string{"88"}

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t2@x>"})

	_, ok := got["<t2@x>"]
	be.True(t, ok)

	// Drafts was scanned first and missed, both headers tried there.
	be.Equal(t, fake.calls["Drafts/References/<t2@x>"], 1)
	be.Equal(t, fake.calls["Drafts/In-Reply-To/<t2@x>"], 1)
	// Sent References missed, In-Reply-To hit, inbox never reached.
	be.Equal(t, fake.calls["Sent/References/<t2@x>"], 1)
	be.Equal(t, fake.calls["INBOX/Message-ID/<t2@x>"], 0)
}

func TestInboxReplyHeuristic(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["INBOX/Message-ID/<t3@x>"] = []string{"10"}
	fake.headers["INBOX/10"] = "Date: Mon, 1 Jul 2024 09:00:00 +0000\r\nSubject: Budget plan\r\n\r\n"
	fake.searches["INBOX/Subject/Budget plan"] = []string{"10", "11", "12"}
	// Candidate 11 references the thread and is newer: a reply.
	fake.headers["INBOX/11"] = "Date: Mon, 1 Jul 2024 11:30:00 +0000\r\nSubject: Re: Budget plan\r\nIn-Reply-To: <t3@x>\r\n\r\n"
	// Candidate 12 shares the subject but belongs to another thread.
	fake.headers["INBOX/12"] = "Date: Mon, 1 Jul 2024 12:00:00 +0000\r\nSubject: Budget plan\r\nMessage-ID: <other@x>\r\n\r\n"

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t3@x>"})

	_, ok := got["<t3@x>"]
	be.True(t, ok)
}

func TestInboxReplyMustBeNewer(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["INBOX/Message-ID/<t4@x>"] = []string{"20"}
	fake.headers["INBOX/20"] = "Date: Mon, 1 Jul 2024 09:00:00 +0000\r\nSubject: Standup notes\r\n\r\n"
	fake.searches["INBOX/Subject/Standup notes"] = []string{"20", "21"}
	// References the thread but predates the original: not a reply.
	fake.headers["INBOX/21"] = "Date: Sun, 30 Jun 2024 08:00:00 +0000\r\nSubject: Standup notes\r\nReferences: <t4@x>\r\n\r\n"

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t4@x>"})
	be.Equal(t, len(got), 0)
}

func TestInboxSubjectPrefixStripped(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["INBOX/Message-ID/<t5@x>"] = []string{"30"}
	// The located original is itself a reply; its subject is cleaned
	// before the subject search.
	fake.headers["INBOX/30"] = "Date: Mon, 1 Jul 2024 09:00:00 +0000\r\nSubject: RE: FWD: Offsite\r\n\r\n"
	fake.searches["INBOX/Subject/Offsite"] = []string{"30", "31"}
	fake.headers["INBOX/31"] = "Date: Mon, 1 Jul 2024 10:00:00 +0000\r\nSubject: Re: Offsite\r\nReferences: <t5@x>\r\n\r\n"

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t5@x>"})

	_, ok := got["<t5@x>"]
	be.True(t, ok)
}

func TestSingleThreadFailureDoesNotAbortBatch(t *testing.T) {
	fake := newFakeAdapter()
	fake.searchErr["Drafts/References/<bad@x>"] = errors.New("server hiccup")
	fake.searchErr["Drafts/In-Reply-To/<bad@x>"] = errors.New("server hiccup")
	fake.searchErr["Sent/References/<bad@x>"] = errors.New("server hiccup")
	fake.searchErr["Sent/In-Reply-To/<bad@x>"] = errors.New("server hiccup")
	fake.searchErr["INBOX/Message-ID/<bad@x>"] = errors.New("server hiccup")
	fake.searches["Drafts/References/<good@x>"] = []string{"7"}

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<bad@x>", "<good@x>"})

	// The failing thread counts as unanswered, the healthy one resolves.
	_, ok := got["<good@x>"]
	be.True(t, ok)
	be.Equal(t, len(got), 1)
}

func TestResultIsSubsetAndIdempotent(t *testing.T) {
	fake := newFakeAdapter()
	fake.searches["Drafts/References/<a@x>"] = []string{"1"}
	fake.searches["Sent/In-Reply-To/<b@x>"] = []string{"2"}

	engine := New(fake, discardLogger())
	input := []string{"<a@x>", "<b@x>", "<c@x>"}

	first := engine.FindAnsweredOrDrafted(context.Background(), input)
	second := engine.FindAnsweredOrDrafted(context.Background(), input)

	be.Equal(t, first, second)
	for tid := range first {
		found := false
		for _, in := range input {
			if in == tid {
				found = true
			}
		}
		be.True(t, found)
	}
	be.Equal(t, len(first), 2)
}

// indexedAdapter simulates a backend with native conversation ids.
type indexedAdapter struct {
	fakeAdapter
	answered map[string]struct{}
	indexErr error
	asked    int
}

func (f *indexedAdapter) AnsweredOrDrafted(_ context.Context, _ []string) (map[string]struct{}, error) {
	f.asked++
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	return f.answered, nil
}

func TestConversationIndexFastPath(t *testing.T) {
	fake := &indexedAdapter{
		fakeAdapter: *newFakeAdapter(),
		answered:    map[string]struct{}{"<t1@x>": {}},
	}

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t1@x>", "<t2@x>"})

	_, ok := got["<t1@x>"]
	be.True(t, ok)
	be.Equal(t, len(got), 1)
	be.Equal(t, fake.asked, 1)
	// The folder scan never ran.
	be.Equal(t, len(fake.calls), 0)
}

func TestConversationIndexFailureFallsBack(t *testing.T) {
	fake := &indexedAdapter{
		fakeAdapter: *newFakeAdapter(),
		indexErr:    errors.New("quota exceeded"),
	}
	fake.searches["Drafts/References/<t1@x>"] = []string{"5"}

	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), []string{"<t1@x>"})

	_, ok := got["<t1@x>"]
	be.True(t, ok)
	be.Equal(t, fake.asked, 1)
	be.True(t, fake.calls["Drafts/References/<t1@x>"] > 0)
}

func TestEmptyInput(t *testing.T) {
	fake := newFakeAdapter()
	engine := New(fake, discardLogger())
	got := engine.FindAnsweredOrDrafted(context.Background(), nil)
	be.Equal(t, len(got), 0)
	be.Equal(t, len(fake.calls), 0)
}
