// Package testutil provides shared helpers for package tests.
package testutil

import (
	"testing"

	"github.com/inboxzen/mailtriage/internal/store"
)

// NewTestStore creates an in-memory SQLite store with the full schema
// applied and closes it when the test finishes.
func NewTestStore(t *testing.T) store.Store {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
