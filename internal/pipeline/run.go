package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/inboxzen/mailtriage/internal/ai"
	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/mailparse"
	"github.com/inboxzen/mailtriage/internal/model"
	"github.com/inboxzen/mailtriage/internal/reconcile"
	"github.com/inboxzen/mailtriage/internal/store"
)

// disconnectFallback replaces backend errors too terse to help the user.
const disconnectFallback = "connection failed, please reconnect the account"

// Runner executes triage runs against the durable store and the model
// gateways.
type Runner struct {
	store   store.Store
	gateway *ai.Gateway
	pool    *Pool
	cfg     model.PipelineConfig
	log     *slog.Logger
	now     func() time.Time
}

// NewRunner wires a runner. now is injectable for tests; pass time.Now
// in production.
func NewRunner(s store.Store, gateway *ai.Gateway, pool *Pool, cfg model.PipelineConfig, log *slog.Logger, now func() time.Time) *Runner {
	if now == nil {
		now = time.Now
	}
	return &Runner{
		store:   s,
		gateway: gateway,
		pool:    pool,
		cfg:     cfg,
		log:     log,
		now:     now,
	}
}

// RunAccount performs one full triage pass over the account's inbox.
//
// A connect failure is not an error of the run: the account is flagged
// disconnected with a readable reason and the run ends. Per-message
// failures skip that message only; it stays unrecorded and is retried on
// the next run.
func (r *Runner) RunAccount(ctx context.Context, account model.Account) error {
	log := r.log.With("account", account.Address)

	adapter, err := r.pool.Get(ctx, account)
	if err != nil {
		reason := disconnectReason(err)
		log.Warn("connect failed, disconnecting account", "reason", reason)
		if err := r.store.MarkDisconnected(ctx, account.Address, reason); err != nil {
			return fmt.Errorf("recording disconnect: %w", err)
		}
		return nil
	}

	inbox, err := adapter.ResolveFolder(ctx, mailbox.KindInbox)
	if err != nil {
		r.pool.Discard(account.Address)
		return fmt.Errorf("resolving inbox: %w", err)
	}

	folderNames := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		folderNames[i] = string(c)
	}
	if err := adapter.EnsureFolders(ctx, folderNames); err != nil {
		r.pool.Discard(account.Address)
		return fmt.Errorf("ensuring category folders: %w", err)
	}

	cutoff := r.now().Add(-time.Duration(r.cfg.LookbackHours) * time.Hour)
	messages, err := adapter.FetchSince(ctx, inbox, cutoff, r.cfg.FetchLimit)
	if err != nil {
		r.pool.Discard(account.Address)
		return fmt.Errorf("fetching recent messages: %w", err)
	}

	// Oldest first, so filing order follows arrival order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	messages, err = r.selectNew(ctx, account.Address, messages)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		log.Info("nothing new to triage")
		return nil
	}

	var triaged []model.Message
	var candidates []model.Message
	for _, msg := range messages {
		category, ok := r.classifyAndFile(ctx, adapter, inbox, &msg, log)
		if !ok {
			continue
		}
		triaged = append(triaged, msg)
		if category == model.CategoryToRespond {
			candidates = append(candidates, msg)
		}
	}

	r.draftReplies(ctx, adapter, account, candidates, log)

	recorded := make(map[string]struct{}, len(triaged))
	for _, msg := range triaged {
		if _, ok := recorded[msg.ThreadID]; ok {
			continue
		}
		recorded[msg.ThreadID] = struct{}{}
		err := r.store.InsertProcessed(ctx, model.ProcessedRecord{
			Account:    account.Address,
			Sender:     msg.Sender,
			ThreadID:   msg.ThreadID,
			Classified: true,
		})
		if err != nil {
			log.Error("recording processed thread failed", "thread", msg.ThreadID, "error", err)
		}
	}

	log.Info("triage run finished",
		"selected", len(messages), "filed", len(triaged), "candidates", len(candidates))
	return nil
}

// selectNew drops self-sent messages and threads already recorded.
func (r *Runner) selectNew(ctx context.Context, account string, messages []model.Message) ([]model.Message, error) {
	var threadIDs []string
	for _, msg := range messages {
		if msg.SelfSent() {
			continue
		}
		threadIDs = append(threadIDs, msg.ThreadID)
	}
	if len(threadIDs) == 0 {
		return nil, nil
	}

	unprocessed, err := r.store.FilterUnprocessed(ctx, account, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("filtering processed threads: %w", err)
	}
	keep := make(map[string]struct{}, len(unprocessed))
	for _, tid := range unprocessed {
		keep[tid] = struct{}{}
	}

	var fresh []model.Message
	for _, msg := range messages {
		if msg.SelfSent() {
			continue
		}
		if _, ok := keep[msg.ThreadID]; ok {
			fresh = append(fresh, msg)
		}
	}
	return fresh, nil
}

// classifyAndFile loads the body, classifies the message and files it
// under the category folder. Both steps must succeed; otherwise the
// message is skipped whole and retried next run.
func (r *Runner) classifyAndFile(ctx context.Context, adapter mailbox.Adapter, inbox string, msg *model.Message, log *slog.Logger) (model.Category, bool) {
	raw, err := adapter.FetchBody(ctx, inbox, msg.UID)
	if err != nil {
		log.Warn("fetching body failed, skipping message", "thread", msg.ThreadID, "error", err)
		return "", false
	}
	msg.Body = mailparse.ExtractBody(raw)

	category, err := r.gateway.Classify(ctx, msg.Subject, truncate(msg.Body, r.cfg.BodyLimit))
	if err != nil {
		log.Warn("classification failed, skipping message", "thread", msg.ThreadID, "error", err)
		return "", false
	}

	if err := adapter.Label(ctx, inbox, string(category), msg.UID); err != nil {
		log.Warn("filing failed, skipping message",
			"thread", msg.ThreadID, "category", category, "error", err)
		return "", false
	}

	log.Info("message filed", "thread", msg.ThreadID, "category", category)
	return category, true
}

// draftReplies reconciles the candidate threads in one batch and creates
// a draft for every thread with no existing draft or reply.
func (r *Runner) draftReplies(ctx context.Context, adapter mailbox.Adapter, account model.Account, candidates []model.Message, log *slog.Logger) {
	if len(candidates) == 0 {
		return
	}

	threadIDs := make([]string, len(candidates))
	for i, msg := range candidates {
		threadIDs[i] = msg.ThreadID
	}

	engine := reconcile.New(adapter, log)
	answered := engine.FindAnsweredOrDrafted(ctx, threadIDs)

	for _, msg := range candidates {
		if _, ok := answered[msg.ThreadID]; ok {
			log.Info("thread already answered or drafted", "thread", msg.ThreadID)
			continue
		}

		reply, err := r.gateway.ComposeReply(ctx, ai.ReplyRequest{
			Receiver:   account.Address,
			SenderName: senderDisplay(msg),
			Subject:    msg.Subject,
			Body:       truncate(msg.Body, r.cfg.BodyLimit),
		})
		if err != nil {
			log.Warn("composing reply failed", "thread", msg.ThreadID, "error", err)
			continue
		}

		draft := mailbox.Draft{
			To:        msg.Sender,
			Subject:   "Re: " + mailparse.CleanSubject(msg.Subject),
			Body:      reply,
			InReplyTo: msg.ThreadID,
		}
		if err := adapter.CreateDraft(ctx, draft); err != nil {
			log.Warn("creating draft failed", "thread", msg.ThreadID, "error", err)
			continue
		}
		log.Info("draft created", "thread", msg.ThreadID, "to", msg.Sender)
	}
}

// Revert undoes the filing for an account: every message in a category
// folder moves back to the inbox and the category folders are removed.
// Partial failures are logged and skipped; rerunning revert finishes the
// job.
func (r *Runner) Revert(ctx context.Context, account model.Account) error {
	log := r.log.With("account", account.Address)

	adapter, err := r.pool.Get(ctx, account)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	inbox, err := adapter.ResolveFolder(ctx, mailbox.KindInbox)
	if err != nil {
		return fmt.Errorf("resolving inbox: %w", err)
	}

	// A cutoff far in the past captures everything ever filed.
	cutoff := r.now().AddDate(-10, 0, 0)

	for _, category := range model.Categories {
		folder := string(category)
		messages, err := adapter.FetchSince(ctx, folder, cutoff, 0)
		if err != nil {
			log.Warn("listing category folder failed", "folder", folder, "error", err)
			continue
		}
		emptied := true
		for _, msg := range messages {
			if err := adapter.Move(ctx, folder, inbox, msg.UID); err != nil {
				log.Warn("moving message back failed",
					"folder", folder, "thread", msg.ThreadID, "error", err)
				emptied = false
			}
		}
		if !emptied {
			continue
		}
		if err := adapter.DeleteFolder(ctx, folder); err != nil {
			log.Warn("removing category folder failed", "folder", folder, "error", err)
		}
	}
	return nil
}

// CheckConnection probes the account's backend and updates the
// disconnected flag accordingly.
func (r *Runner) CheckConnection(ctx context.Context, account model.Account) error {
	if _, err := r.pool.Get(ctx, account); err != nil {
		return r.store.MarkDisconnected(ctx, account.Address, disconnectReason(err))
	}
	return r.store.MarkConnected(ctx, account.Address)
}

func disconnectReason(err error) string {
	var authErr *mailbox.AuthError
	if errors.As(err, &authErr) {
		return authErr.Error()
	}
	if err == nil || len(err.Error()) < 10 {
		return disconnectFallback
	}
	return err.Error()
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func senderDisplay(msg model.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.Sender
}
