package imapx

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/inboxzen/mailtriage/internal/mailbox"
)

func TestResolveFolderName(t *testing.T) {
	tests := []struct {
		name    string
		folders []string
		kind    mailbox.FolderKind
		want    string
	}{
		{
			name:    "plain names",
			folders: []string{"INBOX", "Drafts", "Sent", "Trash"},
			kind:    mailbox.KindSent,
			want:    "Sent",
		},
		{
			name:    "dot hierarchy",
			folders: []string{"INBOX", "INBOX.Drafts", "INBOX.Sent"},
			kind:    mailbox.KindDrafts,
			want:    "INBOX.Drafts",
		},
		{
			name:    "gmail slash hierarchy",
			folders: []string{"INBOX", "[Gmail]/Drafts", "[Gmail]/Sent Mail"},
			kind:    mailbox.KindSent,
			want:    "[Gmail]/Sent Mail",
		},
		{
			name:    "pipe hierarchy",
			folders: []string{"INBOX", "INBOX|Sent Items"},
			kind:    mailbox.KindSent,
			want:    "INBOX|Sent Items",
		},
		{
			name:    "mixed case",
			folders: []string{"inbox", "SENT ITEMS", "drafts"},
			kind:    mailbox.KindSent,
			want:    "SENT ITEMS",
		},
		{
			name:    "inbox exact over nested",
			folders: []string{"INBOX.Sent", "INBOX"},
			kind:    mailbox.KindInbox,
			want:    "INBOX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := resolveFolderName(tt.folders, tt.kind)
			be.True(t, ok)
			be.Equal(t, got, tt.want)
		})
	}
}

func TestResolveFolderNameMissing(t *testing.T) {
	_, ok := resolveFolderName([]string{"INBOX", "Trash"}, mailbox.KindDrafts)
	be.True(t, !ok)
}

func TestDraftMessageID(t *testing.T) {
	id := draftMessageID("me@corp.io")
	be.True(t, len(id) > 2)
	be.Equal(t, id[0], byte('<'))
	be.Equal(t, id[len(id)-1], byte('>'))

	// Two drafts never share a Message-ID.
	be.True(t, id != draftMessageID("me@corp.io"))
}
