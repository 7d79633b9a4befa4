// Package mailbox defines the backend-neutral contract the triage pipeline
// and the reconciliation engine speak. Concrete backends live in the imapx
// and gmailx subpackages.
package mailbox

import (
	"context"
	"time"

	"github.com/inboxzen/mailtriage/internal/model"
)

// FolderKind names the well-known folders every backend must resolve.
type FolderKind string

const (
	KindInbox  FolderKind = "inbox"
	KindDrafts FolderKind = "drafts"
	KindSent   FolderKind = "sent"
)

// Draft is a reply to be stored in the drafts folder. InReplyTo, when
// non-empty, is the thread id of the message being answered; backends set
// the In-Reply-To and References headers from it so mail clients keep the
// draft attached to the conversation.
type Draft struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string
}

// Adapter is one live, authenticated connection to a mailbox backend.
// Implementations are not safe for concurrent use; each run owns its
// connection exclusively.
type Adapter interface {
	// Folders lists every folder or label visible on the account.
	Folders(ctx context.Context) ([]string, error)

	// EnsureFolders creates any of the named folders that do not exist
	// yet. Creation failures for individual folders are logged and
	// skipped; later filing into a missing folder fails per message.
	EnsureFolders(ctx context.Context, names []string) error

	// ResolveFolder maps a well-known kind to the backend's actual folder
	// name, matching case-insensitively on name segments so that
	// "INBOX.Drafts", "[Gmail]/Sent Mail" and plain "Sent" all resolve.
	ResolveFolder(ctx context.Context, kind FolderKind) (string, error)

	// SearchHeader returns the ids of messages in folder whose named
	// header contains value. No match is an empty slice, not an error.
	SearchHeader(ctx context.Context, folder, header, value string) ([]string, error)

	// FetchSince returns messages received in folder at or after cutoff,
	// newest first, capped at limit. Messages whose envelope cannot be
	// parsed or that carry no thread id are omitted.
	FetchSince(ctx context.Context, folder string, cutoff time.Time, limit int) ([]model.Message, error)

	// FetchBody returns the full raw message for id.
	FetchBody(ctx context.Context, folder, id string) ([]byte, error)

	// FetchHeaderFields returns the raw header block for id restricted to
	// the named fields.
	FetchHeaderFields(ctx context.Context, folder, id string, fields []string) ([]byte, error)

	// Label files a copy of the message into toFolder. The original stays
	// in fromFolder; backends that surface the same message in several
	// places deduplicate on their side.
	Label(ctx context.Context, fromFolder, toFolder, id string) error

	// Move relocates the message out of its current folder into folder.
	Move(ctx context.Context, fromFolder, toFolder, id string) error

	// CreateDraft stores d in the drafts folder.
	CreateDraft(ctx context.Context, d Draft) error

	// DeleteFolder removes an empty folder or label.
	DeleteFolder(ctx context.Context, name string) error

	// Close logs out and releases the connection.
	Close() error
}

// ThreadIndexer is the optional fast path for backends with native
// conversation ids. AnsweredOrDrafted reports which of the given thread
// ids belong to conversations that already hold a draft or a sent reply,
// replacing the folder-by-folder scan.
type ThreadIndexer interface {
	AnsweredOrDrafted(ctx context.Context, threadIDs []string) (map[string]struct{}, error)
}
