// Package pipeline drives one triage run per account: connect, file,
// reconcile, draft, record. It owns the bounded-lifetime connection pool
// the runs draw from.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/model"
)

// DialFunc opens a fresh authenticated connection for an account.
type DialFunc func(ctx context.Context, account model.Account) (mailbox.Adapter, error)

// Pool hands out mailbox connections keyed by account address and
// recycles them once they exceed maxAge. Mail servers drop idle sessions
// without notice; renewing by age is cheaper than probing a dead one.
type Pool struct {
	dial   DialFunc
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	adapter  mailbox.Adapter
	openedAt time.Time
}

// NewPool creates a pool. now is injectable for tests; pass time.Now in
// production.
func NewPool(dial DialFunc, maxAge time.Duration, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	return &Pool{
		dial:    dial,
		maxAge:  maxAge,
		now:     now,
		entries: make(map[string]*poolEntry),
	}
}

// Get returns a live connection for the account, reusing a cached one
// while it is younger than maxAge and dialing anew otherwise.
func (p *Pool) Get(ctx context.Context, account model.Account) (mailbox.Adapter, error) {
	p.mu.Lock()
	entry, ok := p.entries[account.Address]
	if ok && p.now().Sub(entry.openedAt) < p.maxAge {
		p.mu.Unlock()
		return entry.adapter, nil
	}
	if ok {
		delete(p.entries, account.Address)
	}
	p.mu.Unlock()

	if ok {
		_ = entry.adapter.Close()
	}

	adapter, err := p.dial(ctx, account)
	if err != nil {
		return nil, err
	}

	// A concurrent Get may have stored its own connection while we were
	// dialing. Keep the stored one and close ours, so no adapter leaks
	// and no caller loses the connection it was handed.
	p.mu.Lock()
	prev, raced := p.entries[account.Address]
	if raced && p.now().Sub(prev.openedAt) < p.maxAge {
		p.mu.Unlock()
		_ = adapter.Close()
		return prev.adapter, nil
	}
	p.entries[account.Address] = &poolEntry{adapter: adapter, openedAt: p.now()}
	p.mu.Unlock()
	if raced {
		_ = prev.adapter.Close()
	}
	return adapter, nil
}

// Discard drops the cached connection for an account, closing it. Called
// after a connection-level failure so the next run dials fresh.
func (p *Pool) Discard(address string) {
	p.mu.Lock()
	entry, ok := p.entries[address]
	delete(p.entries, address)
	p.mu.Unlock()

	if ok {
		_ = entry.adapter.Close()
	}
}

// Close releases every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	p.mu.Unlock()

	for _, entry := range entries {
		_ = entry.adapter.Close()
	}
}
