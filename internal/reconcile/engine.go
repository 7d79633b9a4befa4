// Package reconcile decides which conversation threads already have a
// reply or a draft, so the pipeline never drafts a second answer. Mail
// protocols have no "has a reply" primitive; the engine reconstructs the
// fact from header searches across the drafts, sent and inbox folders.
package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/mailparse"
)

// Engine runs thread reconciliation over one mailbox connection.
type Engine struct {
	adapter mailbox.Adapter
	log     *slog.Logger
}

func New(adapter mailbox.Adapter, log *slog.Logger) *Engine {
	return &Engine{adapter: adapter, log: log}
}

// FindAnsweredOrDrafted returns the subset of threadIDs for which a draft
// or a reply already exists. The result is a subset of the input; an
// unchanged mailbox yields the same answer on every call.
//
// Search or fetch failures on a single thread are logged and that thread
// treated as unanswered; a missed duplicate draft is recoverable, an
// aborted batch is not.
func (e *Engine) FindAnsweredOrDrafted(ctx context.Context, threadIDs []string) map[string]struct{} {
	resolved := make(map[string]struct{})
	if len(threadIDs) == 0 {
		return resolved
	}

	// Backends with native conversation ids answer directly.
	if indexer, ok := e.adapter.(mailbox.ThreadIndexer); ok {
		found, err := indexer.AnsweredOrDrafted(ctx, threadIDs)
		if err == nil {
			return found
		}
		e.log.Warn("conversation index lookup failed, scanning folders", "error", err)
	}

	pending := make([]string, len(threadIDs))
	copy(pending, threadIDs)

	pending = e.scanFolder(ctx, mailbox.KindDrafts, pending, resolved)
	pending = e.scanFolder(ctx, mailbox.KindSent, pending, resolved)
	e.scanInboxForReplies(ctx, pending, resolved)

	return resolved
}

// scanFolder marks threads resolved when the folder holds a message whose
// References or In-Reply-To header names the thread. The References
// search runs first; a hit skips the In-Reply-To search for that thread.
// Returns the threads still unresolved.
func (e *Engine) scanFolder(ctx context.Context, kind mailbox.FolderKind, pending []string, resolved map[string]struct{}) []string {
	if len(pending) == 0 {
		return pending
	}
	folder, err := e.adapter.ResolveFolder(ctx, kind)
	if err != nil {
		e.log.Warn("cannot resolve folder, skipping scan", "kind", kind, "error", err)
		return pending
	}

	var remaining []string
	for _, tid := range pending {
		if e.folderReferencesThread(ctx, folder, tid) {
			resolved[tid] = struct{}{}
			continue
		}
		remaining = append(remaining, tid)
	}
	return remaining
}

func (e *Engine) folderReferencesThread(ctx context.Context, folder, tid string) bool {
	for _, header := range []string{"References", "In-Reply-To"} {
		ids, err := e.adapter.SearchHeader(ctx, folder, header, tid)
		if err != nil {
			e.log.Warn("header search failed",
				"folder", folder, "header", header, "thread", tid, "error", err)
			continue
		}
		if len(ids) > 0 {
			return true
		}
	}
	return false
}

// scanInboxForReplies covers replies that never left a trace in drafts or
// sent (answered from another device, or the reply arrived inbound). For
// each thread it locates the original message, then searches the inbox
// for messages sharing the cleaned subject; a candidate counts as a reply
// when its raw headers mention the thread id and it is strictly newer
// than the original.
func (e *Engine) scanInboxForReplies(ctx context.Context, pending []string, resolved map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	inbox, err := e.adapter.ResolveFolder(ctx, mailbox.KindInbox)
	if err != nil {
		e.log.Warn("cannot resolve inbox, skipping reply scan", "error", err)
		return
	}

	for _, tid := range pending {
		if e.inboxHoldsReply(ctx, inbox, tid) {
			resolved[tid] = struct{}{}
		}
	}
}

func (e *Engine) inboxHoldsReply(ctx context.Context, inbox, tid string) bool {
	originals, err := e.adapter.SearchHeader(ctx, inbox, "Message-ID", tid)
	if err != nil || len(originals) == 0 {
		if err != nil {
			e.log.Warn("locating original failed", "thread", tid, "error", err)
		}
		return false
	}
	originalID := originals[0]

	raw, err := e.adapter.FetchHeaderFields(ctx, inbox, originalID, []string{"Date", "Subject"})
	if err != nil {
		e.log.Warn("fetching original headers failed", "thread", tid, "error", err)
		return false
	}
	original := mailparse.ParseHeaderBlock(raw)
	if !original.DateOK || original.Subject == "" {
		return false
	}

	subject := mailparse.CleanSubject(original.Subject)
	candidates, err := e.adapter.SearchHeader(ctx, inbox, "Subject", subject)
	if err != nil {
		e.log.Warn("subject search failed", "thread", tid, "error", err)
		return false
	}

	for _, candidateID := range candidates {
		if candidateID == originalID {
			continue
		}
		raw, err := e.adapter.FetchHeaderFields(ctx, inbox, candidateID,
			[]string{"Date", "Message-ID", "In-Reply-To", "References"})
		if err != nil {
			e.log.Warn("fetching candidate headers failed",
				"thread", tid, "candidate", candidateID, "error", err)
			continue
		}
		block := mailparse.ParseHeaderBlock(raw)
		if !strings.Contains(block.Raw, tid) {
			continue
		}
		if block.DateOK && block.Date.After(original.Date) {
			return true
		}
	}
	return false
}
