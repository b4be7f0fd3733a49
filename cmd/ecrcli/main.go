package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"termlink/internal/app"
	"termlink/internal/bus"
	"termlink/internal/config"
	"termlink/internal/events"
	"termlink/internal/journal"
	"termlink/internal/logging"
	"termlink/internal/terminal"
)

const (
	connectWaitTimeout = 30 * time.Second
	maxHexPreviewLen   = 64
)

func main() {
	if err := run(); err != nil {
		slog.Error("run ecrcli", "error", err)
		os.Exit(1)
	}
}

func run() error {
	host := flag.String("host", "", "terminal ip/hostname")
	port := flag.Int("port", 0, "terminal port")
	useTLS := flag.Bool("tls", false, "connect over TLS")
	insecure := flag.Bool("insecure", false, "skip TLS certificate verification")
	amount := flag.Int64("amount", 0, "payment amount in minor units; 0 watches events only")
	currency := flag.String("currency", "EUR", "informational currency code")
	diagnose := flag.Bool("diagnose", false, "run a diagnosis instead of a payment")
	history := flag.Int("history", 0, "print the last N journal entries and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*host) != "" {
		cfg.Connection.Host = strings.TrimSpace(*host)
	}
	if *port > 0 {
		cfg.Connection.Port = *port
	}
	if *useTLS {
		cfg.Connection.TLS.Enabled = true
	}
	if *insecure {
		cfg.Connection.TLS.SkipVerify = true
	}
	if strings.TrimSpace(cfg.Connection.Host) == "" {
		return fmt.Errorf("missing terminal host: set --host or save connection host in config")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting ecrcli", "version", app.BuildVersion(), "target", cfg.Connection.Target())

	db, err := journal.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close journal", "error", closeErr)
		}
	}()
	attemptRepo := journal.NewAttemptRepo(db)

	if *history > 0 {
		attempts, listErr := attemptRepo.ListRecent(ctx, *history)
		if listErr != nil {
			return fmt.Errorf("list journal: %w", listErr)
		}
		for _, attempt := range attempts {
			logger.Info("journal entry",
				"attempt_id", attempt.AttemptID,
				"amount", attempt.Amount,
				"currency", attempt.Currency,
				"success", attempt.Success,
				"message", attempt.Message,
				"rrn", attempt.RRN,
				"settled", attempt.SettledAt.Format(time.RFC3339),
			)
		}
		return nil
	}

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	if cfg.Journal.Enabled {
		writer := journal.NewWriterQueue(logMgr.Logger("journal"), 256)
		writer.Start(ctx)
		journal.StartSync(ctx, b, writer, attemptRepo)
	}

	stream := events.NewStream(logMgr.Logger("events"), b)
	stream.Start(ctx)

	client := terminal.NewClient(logMgr.Logger("terminal"), b)
	defer client.Disconnect()
	if err := client.Connect(ctx, cfg.Connection); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if err := waitForConnected(ctx, logger, stream.Events()); err != nil {
		return err
	}

	switch {
	case *diagnose:
		result, diagErr := client.Diagnose()
		if diagErr != nil {
			return fmt.Errorf("start diagnosis: %w", diagErr)
		}
		outcome := <-result
		logger.Info("diagnosis finished", "success", outcome.Success, "message", outcome.Message)
		return nil

	case *amount > 0:
		return runPayment(ctx, logger, client, stream.Events(), *amount, *currency)

	default:
		logger.Info("watching events until interrupt")
		watch(ctx, logger, b, stream.Events())
		return nil
	}
}

func waitForConnected(ctx context.Context, logger *slog.Logger, evs <-chan events.Event) error {
	timeoutCh := time.After(connectWaitTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return fmt.Errorf("terminal did not connect within %s", connectWaitTimeout)
		case ev, ok := <-evs:
			if !ok {
				return fmt.Errorf("event stream closed while connecting")
			}
			logger.Info("event", "kind", ev.Kind, "message", ev.Message, "error", ev.Err)
			switch ev.Kind {
			case events.KindConnected:
				return nil
			case events.KindError:
				return fmt.Errorf("connect failed: %s", ev.Err)
			}
		}
	}
}

func runPayment(ctx context.Context, logger *slog.Logger, client *terminal.Client, evs <-chan events.Event, amount int64, currency string) error {
	result, err := client.StartPayment(amount, terminal.PaymentOptions{
		Currency: currency,
		OnStatus: func(text string) {
			logger.Info("terminal status", "text", text)
		},
		OnReceiptLine: func(text string) {
			logger.Info("receipt", "line", text)
		},
	})
	if err != nil {
		return fmt.Errorf("start payment: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupt received, sending abort")
			if abortErr := client.AbortPayment(); abortErr != nil {
				logger.Warn("abort failed", "error", abortErr)
			}
			outcome := <-result
			logOutcome(logger, outcome)
			return nil
		case ev, ok := <-evs:
			if !ok {
				return fmt.Errorf("event stream closed mid-payment")
			}
			logger.Info("event", "kind", ev.Kind, "message", ev.Message, "error", ev.Err)
		case outcome := <-result:
			logOutcome(logger, outcome)
			if !outcome.Success {
				return fmt.Errorf("payment declined: %s", outcome.Message)
			}
			return nil
		}
	}
}

func logOutcome(logger *slog.Logger, outcome events.PaymentOutcome) {
	logger.Info("payment settled",
		"attempt_id", outcome.AttemptID,
		"success", outcome.Success,
		"message", outcome.Message,
		"rrn", outcome.RRN,
		"auth_code", outcome.AuthCode,
		"took", outcome.SettledAt.Sub(outcome.StartedAt),
	)
}

func watch(ctx context.Context, logger *slog.Logger, b bus.MessageBus, evs <-chan events.Event) {
	frameSub := b.Subscribe(events.TopicFrameIn, events.TopicFrameOut)
	defer b.Unsubscribe(frameSub)

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-frameSub:
			if frame, ok := raw.(events.RawFrame); ok {
				logger.Info("frame", "len", frame.Len, "hex", previewHex(frame.Hex))
			}
		case ev, ok := <-evs:
			if !ok {
				return
			}
			logger.Info("event",
				"kind", ev.Kind,
				"message", ev.Message,
				"rrn", ev.RRN,
				"auth_code", ev.AuthCode,
				"error", ev.Err,
			)
		}
	}
}

func previewHex(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= maxHexPreviewLen {
		return raw
	}
	return raw[:maxHexPreviewLen] + "..."
}
