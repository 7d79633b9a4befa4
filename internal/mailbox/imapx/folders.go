package imapx

import (
	"strings"

	"github.com/inboxzen/mailtriage/internal/mailbox"
)

// kindKeywords maps each well-known folder kind to the substring that
// identifies it in server folder listings.
var kindKeywords = map[mailbox.FolderKind]string{
	mailbox.KindInbox:  "inbox",
	mailbox.KindDrafts: "draft",
	mailbox.KindSent:   "sent",
}

// hierarchySeparators are the delimiters servers use in nested folder
// names, as in "INBOX.Drafts", "[Gmail]/Sent Mail" or "INBOX|Sent".
var hierarchySeparators = []string{".", "/", "|"}

// resolveFolderName finds the folder matching kind in a server listing.
// Names are split on every known hierarchy separator and each segment is
// matched case-insensitively against the kind's keyword, so provider
// variants like "[Gmail]/Sent Mail" and "INBOX.Sent" both resolve.
func resolveFolderName(folders []string, kind mailbox.FolderKind) (string, bool) {
	keyword, ok := kindKeywords[kind]
	if !ok {
		return "", false
	}

	// Exact top-level name wins before any segment heuristics.
	for _, name := range folders {
		if strings.EqualFold(name, keyword) {
			return name, true
		}
	}

	for _, name := range folders {
		for _, segment := range splitSegments(name) {
			if strings.Contains(strings.ToLower(segment), keyword) {
				return name, true
			}
		}
	}
	return "", false
}

func splitSegments(name string) []string {
	segments := []string{name}
	for _, sep := range hierarchySeparators {
		var next []string
		for _, s := range segments {
			next = append(next, strings.Split(s, sep)...)
		}
		segments = next
	}
	return segments
}
