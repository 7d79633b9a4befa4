// Package imapx implements the mailbox.Adapter contract over raw IMAP
// using go-imap v2.
package imapx

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/inboxzen/mailtriage/internal/mailbox"
)

// Config holds the connection settings for one IMAP account.
type Config struct {
	Host     string
	Port     string
	Login    string
	Password string
	// Account is the mailbox owner's address, used for error attribution
	// and as the From address on created drafts.
	Account string
}

// Dial connects to the IMAP server over TLS and authenticates. App
// passwords are normalized by stripping spaces, since providers display
// them grouped and users paste them that way.
func Dial(_ context.Context, cfg Config, log *slog.Logger) (*Adapter, error) {
	addr := cfg.Host + ":" + cfg.Port

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	password := strings.ReplaceAll(cfg.Password, " ", "")
	if err := client.Login(cfg.Login, password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &mailbox.AuthError{Account: cfg.Account, Err: err}
	}

	return &Adapter{
		client:  client,
		account: cfg.Account,
		log:     log.With("account", cfg.Account),
	}, nil
}

const (
	retryAttempts = 3
	retryDelay    = 200 * time.Millisecond
)

// withRetry re-issues fn on failure, up to retryAttempts total attempts.
// Transient command errors (dropped connections mid-command, throttling)
// usually clear on the next attempt; persistent ones surface to the caller.
func withRetry(op string, log *slog.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt < retryAttempts {
			log.Warn("imap command failed, retrying",
				"op", op, "attempt", attempt, "error", err)
			time.Sleep(retryDelay)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
