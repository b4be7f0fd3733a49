package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"termlink/internal/app"
	"termlink/internal/termsim"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run termsim", "error", err)
		os.Exit(1)
	}
}

func run() error {
	listen := flag.String("listen", ":20007", "listen address")
	certFile := flag.String("tls-cert", "", "TLS certificate file; enables TLS together with --tls-key")
	keyFile := flag.String("tls-key", "", "TLS key file")
	declineSuffix := flag.Int64("decline-suffix", 99, "decline amounts ending in this minor-unit suffix; negative approves all")
	status := flag.String("status", "PROCESSING", "status text sent before completion")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.With("component", "termsim")
	logger.Info("starting termsim", "version", app.BuildVersion(), "listen", *listen)

	var tlsCfg *tls.Config
	if *certFile != "" || *keyFile != "" {
		if *certFile == "" || *keyFile == "" {
			return fmt.Errorf("--tls-cert and --tls-key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsCfg = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	srv, err := termsim.Listen(logger, *listen, tlsCfg, termsim.Options{
		DeclineSuffix: *declineSuffix,
		StatusText:     *status,
	})
	if err != nil {
		return err
	}
	srv.Start(ctx)
	logger.Info("listening", "addr", srv.Addr(), "tls", tlsCfg != nil)

	<-ctx.Done()
	srv.Close()
	logger.Info("stopped")

	return nil
}
