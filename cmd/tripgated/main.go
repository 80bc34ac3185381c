package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/tripgate/internal/broker"
	"github.com/adred-codev/tripgate/internal/config"
	"github.com/adred-codev/tripgate/internal/gateway"
	"github.com/adred-codev/tripgate/internal/logging"
	"github.com/adred-codev/tripgate/internal/metrics"
)

func main() {
	var (
		port  = flag.Int("port", 0, "listen port (overrides TRIPGATE_PORT)")
		nats  = flag.String("nats", "", "NATS broker URL (overrides TRIPGATE_NATS_URL)")
		debug = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tripgated: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *nats != "" {
		cfg.NATSUrl = *nats
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: logging.Format(cfg.LogFormat),
	})

	ch, err := broker.Connect(broker.Options{
		URL:            cfg.NATSUrl,
		RequestSubject: cfg.RequestSubject,
		ReplySubject:   cfg.ReplySubject,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to broker")
	}

	gw, err := gateway.New(cfg, logger, ch)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not start gateway")
	}

	// Metrics and health live on a separate admin listener so the plan
	// port stays a pure single-line protocol.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metrics.Handler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	admin := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		gw.Shutdown()
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("gateway terminated")
			defer os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(ctx)
}
