package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/shineum/mailr/internal/capture"
	"github.com/shineum/mailr/internal/dispatch"
	"github.com/shineum/mailr/internal/dispatcher"
	"github.com/shineum/mailr/internal/feature"
	"github.com/shineum/mailr/internal/logging"
	"github.com/shineum/mailr/internal/metrics"
	"github.com/shineum/mailr/internal/server"
	mailrtls "github.com/shineum/mailr/internal/tls"
	"github.com/shineum/mailr/internal/workqueue"
)

var errDispatcherExited = errors.New("dispatcher exited unexpectedly")

func serve(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	transport, defaultFrom, err := selectTransport(ctx, cfg, log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	queue := workqueue.New()
	m.WatchQueue(reg, queue.Len)

	gate := feature.NewGate(map[string]bool{feature.SendEmail: cfg.Features.SendEmail})

	orch := dispatch.New(queue, transport, dispatch.Config{
		DefaultFrom: defaultFrom,
		Gate:        gate,
		Logger:      log,
		Metrics:     m,
	})

	disp := dispatcher.New(queue, dispatcher.Config{
		Workers: cfg.Dispatcher.Workers,
		Logger:  log,
		Metrics: m,
	})

	handler, err := server.NewRouter(server.Deps{
		Dispatcher: orch,
		Capture: capture.Options{
			SendOnFault: cfg.Dispatch.SendOnFault,
			Logger:      log,
			Metrics:     m,
		},
		Transport:       orch.TransportName(),
		QueueDepth:      queue.Len,
		DispatcherState: func() string { return disp.State().String() },
		Metrics:         m.Handler(),
		Logger:          log,
	})
	if err != nil {
		return err
	}

	srvCfg := server.ServerConfig{
		ListenAddr:      cfg.HTTP.Listen,
		Handler:         handler,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.Dispatcher.ShutdownTimeout,
		Logger:          log,
	}
	tlsMode := "disabled"
	if cfg.TLS.Enabled {
		srvCfg.TLSConfig, err = mailrtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, mailrtls.ListenHost(cfg.HTTP.Listen))
		if err != nil {
			return fmt.Errorf("failed to setup TLS: %w", err)
		}
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" {
			tlsMode = "file"
		}
	}

	// The dispatcher outlives the signal context so the send in flight when
	// the HTTP server stops gets shutdown_timeout to finish. Queued sends are
	// dropped.
	if err := disp.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	log.Info("starting mailr",
		"listen", cfg.HTTP.Listen,
		"transport", transport.Name(),
		"workers", cfg.Dispatcher.Workers,
		"send_email", cfg.Features.SendEmail,
		"send_on_fault", cfg.Dispatch.SendOnFault,
		"tls_mode", tlsMode,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(srvCfg).ListenAndServe(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-disp.Done():
			return errDispatcherExited
		}
	})
	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownTimeout)
	defer cancel()
	if err := disp.Stop(stopCtx); err != nil {
		log.Warn("dispatcher did not stop cleanly", "error", err, "pending", queue.Len())
	}
	if pending := queue.Len(); pending > 0 {
		log.Warn("queued emails dropped at shutdown", "pending", pending)
	}

	if runErr != nil {
		log.Error("server error", "error", runErr)
		return runErr
	}
	log.Info("mailr stopped")
	return nil
}
