package model

import (
	"strings"
	"time"
)

// ProviderKind identifies which mailbox backend an account uses.
type ProviderKind string

const (
	ProviderIMAP  ProviderKind = "imap"
	ProviderGmail ProviderKind = "gmail"
)

// Category is the fixed set of triage labels a message can be filed under.
type Category string

const (
	CategoryToRespond     Category = "To respond"
	CategoryFyi           Category = "Fyi"
	CategoryComment       Category = "Comment"
	CategoryNotification  Category = "Notification"
	CategoryMeetingUpdate Category = "Meeting Update"
	CategoryActioned      Category = "Actioned"
	CategoryMarketing     Category = "Marketing"
)

// Categories lists every triage category in filing order. The slice is also
// the set of folders/labels ensured on the mailbox before a run.
var Categories = []Category{
	CategoryToRespond,
	CategoryFyi,
	CategoryComment,
	CategoryNotification,
	CategoryMeetingUpdate,
	CategoryActioned,
	CategoryMarketing,
}

// ParseCategory maps a label string back to a known Category.
// The comparison is case-insensitive; unknown labels return false.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// Message is one received mail item, normalized across backends.
//
// UID is the backend- and session-scoped identifier used for follow-up
// protocol operations within the same run; it must never be persisted.
// Identity across runs is ThreadID: the normalized Message-ID value,
// always wrapped in angle brackets.
type Message struct {
	UID        string
	ThreadID   string
	Sender     string
	SenderName string
	Subject    string
	Received   time.Time
	Body       string
	Account    string
}

// SelfSent reports whether the message was sent by the owning account
// itself. Such messages are excluded from triage.
func (m Message) SelfSent() bool {
	return strings.EqualFold(strings.TrimSpace(m.Sender), strings.TrimSpace(m.Account))
}

// Account holds the connection record for one mailbox, as stored in the
// accounts table. Credential material is kept encrypted at rest and only
// decoded at connect time.
type Account struct {
	Address      string       `db:"address"`
	Provider     ProviderKind `db:"provider"`
	Disconnected bool         `db:"disconnected"`
	LastError    string       `db:"last_error"`
	Credential   string       `db:"credential"`
	IMAPHost     string       `db:"imap_host"`
	IMAPPort     string       `db:"imap_port"`
	IMAPLogin    string       `db:"imap_login"`
	CreatedAt    time.Time    `db:"created_at"`
}

// ProcessedRecord marks one thread as already triaged for an account.
// (account, thread_id) is unique in the store; inserting a duplicate is a
// no-op, which is what makes re-runs idempotent.
type ProcessedRecord struct {
	Account    string    `db:"account"`
	Sender     string    `db:"sender"`
	ThreadID   string    `db:"thread_id"`
	Classified bool      `db:"classified"`
	CreatedAt  time.Time `db:"created_at"`
}
