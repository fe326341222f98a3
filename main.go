// personal-automator — a personal task automation engine: templated
// JavaScript tasks, run on a schedule, with vault-backed credential
// injection and notification side channels.
// Entry point: wires all packages and starts the scheduler. There is no
// HTTP server here — the control plane is a separate collaborator built
// against this package's exported types.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaosslabs/personal-automator/internal/config"
	"github.com/chaosslabs/personal-automator/internal/credential"
	"github.com/chaosslabs/personal-automator/internal/executor"
	"github.com/chaosslabs/personal-automator/internal/notify"
	"github.com/chaosslabs/personal-automator/internal/platform"
	"github.com/chaosslabs/personal-automator/internal/scheduler"
	"github.com/chaosslabs/personal-automator/internal/store"
	"github.com/chaosslabs/personal-automator/internal/telegram"
	"github.com/chaosslabs/personal-automator/internal/vault"
	"github.com/chaosslabs/personal-automator/internal/webhook"
	"github.com/chaosslabs/personal-automator/internal/wshub"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	log.Printf("personal-automator %s starting…", Version)

	// ── 1. Load configuration ────────────────────────────────────────────
	cfg := config.Load()
	log.Printf("Config: dataDir=%s db=%s", cfg.DataDir, cfg.DBPath)

	if err := platform.EnsureDir(cfg.DataDir, 0700); err != nil {
		log.Fatalf("EnsureDir %s: %v", cfg.DataDir, err)
	}

	// ── 2. Open database + migrate ───────────────────────────────────────
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.Fatalf("store.Migrate: %v", err)
	}
	log.Printf("Database ready: %s", cfg.DBPath)

	// Root context — cancelled on shutdown signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 3. Vault ──────────────────────────────────────────────────────────
	vlt := vault.New(cfg.DataDir, cfg.PBKDF2Iterations)
	if err := vlt.Initialize(); err != nil {
		log.Fatalf("vault.Initialize: %v", err)
	}
	if !vlt.Verify() {
		log.Fatalf("vault.Verify: master key failed self-check")
	}

	// ── 4. Credential injector ───────────────────────────────────────────
	injector := credential.New(st, vlt)

	// ── 5. Console-streaming hub ─────────────────────────────────────────
	hub := wshub.NewHub()
	go hub.Run(ctx)

	// ── 6. Telegram + webhook side channels ──────────────────────────────
	bot, err := telegram.New(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		log.Printf("telegram.New: %v (continuing without Telegram)", err)
	}
	webhookDispatcher := webhook.New(cfg.WebhookURL, cfg.WebhookTimeout)
	notifier := notify.New(telegramSender(bot), webhookDispatcher)

	// ── 7. Executor ───────────────────────────────────────────────────────
	ex := executor.New(st, injector, cfg.DataDir, cfg.ExecutionDefaultTimeout, cfg.ExecutionMaxTimeout, cfg.MaxConsoleOutputSize, cfg.AllowedEnvVars)
	ex.SetHub(hub)
	ex.SetNotifier(notifier)

	// ── 8. Scheduler ──────────────────────────────────────────────────────
	sched := scheduler.New(st, ex, cfg.CatchupSweepInterval)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("scheduler.Start: %v", err)
	}
	log.Printf("Scheduler running: %d task(s) registered", sched.JobCount())

	// ── 9. Graceful shutdown on SIGINT/SIGTERM ───────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s — shutting down…", sig)
	cancel()
	sched.Stop()
	vlt.ClearKey()
	log.Printf("personal-automator stopped.")
}

// telegramSender wraps *telegram.Bot to implement notify.Sender. Returns
// nil if bot is nil (Telegram disabled) so notify.Dispatcher skips it.
func telegramSender(bot *telegram.Bot) notify.Sender {
	if bot == nil {
		return nil
	}
	return bot
}
