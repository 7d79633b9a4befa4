// Package scheduler dispatches periodic triage runs: each tick lists the
// connected accounts and launches one run per account.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/inboxzen/mailtriage/internal/model"
	"github.com/inboxzen/mailtriage/internal/store"
)

// runTimeout is the maximum time allowed for one account's triage run.
const runTimeout = 5 * time.Minute

// AccountRunner executes one triage run. Implemented by pipeline.Runner.
type AccountRunner interface {
	RunAccount(ctx context.Context, account model.Account) error
}

// Scheduler owns the dispatch loop.
type Scheduler struct {
	store    store.Store
	runner   AccountRunner
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func New(s store.Store, runner AccountRunner, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		interval: interval,
		log:      log,
		running:  make(map[string]bool),
	}
}

// Run ticks until ctx is cancelled. The first dispatch happens
// immediately, then every interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch starts one asynchronous run per connected account. An account
// still running from a previous tick is skipped, not queued; the next
// tick picks it up again.
func (s *Scheduler) dispatch(ctx context.Context) {
	accounts, err := s.store.ListConnectedAccounts(ctx)
	if err != nil {
		s.log.Error("listing connected accounts failed", "error", err)
		return
	}
	if len(accounts) == 0 {
		s.log.Debug("no connected accounts")
		return
	}

	for _, account := range accounts {
		if !s.claim(account.Address) {
			s.log.Debug("run still in progress, skipping", "account", account.Address)
			continue
		}
		go func(account model.Account) {
			defer s.release(account.Address)

			runCtx, cancel := context.WithTimeout(ctx, runTimeout)
			defer cancel()

			if err := s.runner.RunAccount(runCtx, account); err != nil {
				s.log.Error("triage run failed", "account", account.Address, "error", err)
			}
		}(account)
	}
}

func (s *Scheduler) claim(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[address] {
		return false
	}
	s.running[address] = true
	return true
}

func (s *Scheduler) release(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, address)
}
