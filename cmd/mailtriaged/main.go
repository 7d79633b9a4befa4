// Command mailtriaged triages mailboxes: it fetches recent mail,
// classifies each message, files it under a category folder, and drafts
// replies for threads that still need one.
//
// Usage:
//
//	mailtriaged [-config path] <command> [args]
//
// Commands:
//
//	add-account     register a mailbox account
//	remove-account  delete an account and its records
//	list-accounts   print all accounts
//	check           probe an account's connection
//	run             triage one account (or all connected) once
//	revert          move filed messages back to the inbox
//	serve           run the periodic scheduler
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/inboxzen/mailtriage/internal/ai"
	"github.com/inboxzen/mailtriage/internal/credential"
	"github.com/inboxzen/mailtriage/internal/mailbox"
	"github.com/inboxzen/mailtriage/internal/mailbox/gmailx"
	"github.com/inboxzen/mailtriage/internal/mailbox/imapx"
	"github.com/inboxzen/mailtriage/internal/model"
	"github.com/inboxzen/mailtriage/internal/pipeline"
	"github.com/inboxzen/mailtriage/internal/scheduler"
	"github.com/inboxzen/mailtriage/internal/store"
)

// connectionMaxAge keeps pooled sessions under typical server idle
// timeouts.
const connectionMaxAge = 25 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mailtriaged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return fmt.Errorf("missing command")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	codec, err := credential.LoadCodec()
	if err != nil {
		return err
	}

	gateway := ai.New(cfg.AI.BaseURL, os.Getenv(cfg.AI.APIKeyEnv), cfg.AI.Model,
		time.Duration(cfg.AI.TimeoutSec)*time.Second)
	pool := pipeline.NewPool(dialFunc(codec, log), connectionMaxAge, time.Now)
	defer pool.Close()
	runner := pipeline.NewRunner(s, gateway, pool, cfg.Pipeline, log, time.Now)

	app := &app{store: s, codec: codec, runner: runner, cfg: cfg, log: log}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	switch command {
	case "add-account":
		return app.addAccount(ctx, args)
	case "remove-account":
		return app.removeAccount(ctx, args)
	case "list-accounts":
		return app.listAccounts(ctx)
	case "check":
		return app.check(ctx, args)
	case "run":
		return app.runOnce(ctx, args)
	case "revert":
		return app.revert(ctx, args)
	case "serve":
		return app.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// dialFunc builds the pool's dialer: it decodes the stored credential and
// opens the backend matching the account's provider.
func dialFunc(codec *credential.Codec, log *slog.Logger) pipeline.DialFunc {
	return func(ctx context.Context, account model.Account) (mailbox.Adapter, error) {
		secret, err := codec.Decode(account.Credential)
		if err != nil {
			return nil, fmt.Errorf("decoding credential for %s: %w", account.Address, err)
		}

		switch account.Provider {
		case model.ProviderGmail:
			return gmailx.Dial(ctx, account.Address, []byte(secret), log)
		case model.ProviderIMAP:
			return imapx.Dial(ctx, imapx.Config{
				Host:     account.IMAPHost,
				Port:     account.IMAPPort,
				Login:    account.IMAPLogin,
				Password: secret,
				Account:  account.Address,
			}, log)
		default:
			return nil, fmt.Errorf("unknown provider %q", account.Provider)
		}
	}
}

type app struct {
	store  store.Store
	codec  *credential.Codec
	runner *pipeline.Runner
	cfg    *model.AppConfig
	log    *slog.Logger
}

func (a *app) addAccount(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-account", flag.ExitOnError)
	address := fs.String("address", "", "mailbox address")
	provider := fs.String("provider", "imap", "provider kind: imap or gmail")
	host := fs.String("host", "", "IMAP server host")
	port := fs.String("port", "993", "IMAP server port")
	login := fs.String("login", "", "IMAP login (defaults to the address)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *address == "" {
		return fmt.Errorf("-address is required")
	}

	kind := model.ProviderKind(*provider)
	switch kind {
	case model.ProviderIMAP:
		if *host == "" {
			return fmt.Errorf("-host is required for imap accounts")
		}
	case model.ProviderGmail:
	default:
		return fmt.Errorf("unknown provider %q", *provider)
	}
	if *login == "" {
		*login = *address
	}

	secret, err := readSecret(kind)
	if err != nil {
		return err
	}
	encoded, err := a.codec.Encode(secret)
	if err != nil {
		return err
	}

	account := model.Account{
		Address:    *address,
		Provider:   kind,
		Credential: encoded,
		IMAPHost:   *host,
		IMAPPort:   *port,
		IMAPLogin:  *login,
	}
	if err := a.store.UpsertAccount(ctx, account); err != nil {
		return err
	}

	// Probe right away so a typo shows up now, not on the next tick.
	if err := a.runner.CheckConnection(ctx, account); err != nil {
		return err
	}
	updated, err := a.store.GetAccount(ctx, *address)
	if err != nil {
		return err
	}
	if updated != nil && updated.Disconnected {
		return fmt.Errorf("account added but unreachable: %s", updated.LastError)
	}

	fmt.Printf("account %s added\n", *address)
	return nil
}

// readSecret reads the credential from stdin: an app password for IMAP,
// an OAuth token JSON blob for Gmail.
func readSecret(kind model.ProviderKind) (string, error) {
	if kind == model.ProviderGmail {
		fmt.Fprint(os.Stderr, "paste OAuth token JSON, end with EOF: ")
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading token: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *app) removeAccount(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: remove-account <address>")
	}
	if err := a.store.DeleteAccount(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("account %s removed\n", args[0])
	return nil
}

func (a *app) listAccounts(ctx context.Context) error {
	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		fmt.Println("no accounts")
		return nil
	}
	for _, account := range accounts {
		status := "connected"
		if account.Disconnected {
			status = "disconnected: " + account.LastError
		}
		fmt.Printf("%s\t%s\t%s\n", account.Address, account.Provider, status)
	}
	return nil
}

func (a *app) check(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: check <address>")
	}
	account, err := a.store.GetAccount(ctx, args[0])
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account %s", args[0])
	}
	if err := a.runner.CheckConnection(ctx, *account); err != nil {
		return err
	}
	updated, err := a.store.GetAccount(ctx, args[0])
	if err != nil {
		return err
	}
	if updated.Disconnected {
		fmt.Printf("%s: disconnected (%s)\n", updated.Address, updated.LastError)
	} else {
		fmt.Printf("%s: connected\n", updated.Address)
	}
	return nil
}

// runOnce triages a single account, or every connected account when no
// address is given.
func (a *app) runOnce(ctx context.Context, args []string) error {
	if len(args) == 1 {
		account, err := a.store.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		if account == nil {
			return fmt.Errorf("no account %s", args[0])
		}
		return a.runner.RunAccount(ctx, *account)
	}

	accounts, err := a.store.ListConnectedAccounts(ctx)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := a.runner.RunAccount(ctx, account); err != nil {
			a.log.Error("triage run failed", "account", account.Address, "error", err)
		}
	}
	return nil
}

func (a *app) revert(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: revert <address>")
	}
	account, err := a.store.GetAccount(ctx, args[0])
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("no account %s", args[0])
	}
	return a.runner.Revert(ctx, *account)
}

func (a *app) serve(ctx context.Context) error {
	interval := time.Duration(a.cfg.Scheduler.IntervalSec) * time.Second
	a.log.Info("scheduler starting", "interval", interval)

	sched := scheduler.New(a.store, a.runner, interval, a.log)
	sched.Run(ctx)

	a.log.Info("scheduler stopped")
	return nil
}
