package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"Assembler-Trainman/internal/config"
	"Assembler-Trainman/internal/core/channel"
	"Assembler-Trainman/internal/core/network"
	"Assembler-Trainman/internal/hostapi"
	"Assembler-Trainman/internal/logging"
	"Assembler-Trainman/internal/observability"
	"Assembler-Trainman/internal/trainman"
)

func main() {
	cfgPath := flag.String("config", "", "path to a TOML config file")
	mode := flag.String("mode", "", "override mode: host or client")
	address := flag.String("address", "", "override the address this endpoint listens on")
	httpAddr := flag.String("http", "", "override the admin http listen address (host mode)")
	debug := flag.Bool("debug", false, "emit handshake and dispatch traces")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			logging.New(cfg.Log).Fatal("load config", zap.Error(err))
		}
		cfg = loaded
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}
	if *address != "" {
		cfg.Address = *address
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}

	logger := logging.New(cfg.Log)
	defer func() { _ = logger.Sync() }()
	if err := config.Validate(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ps, closePS, err := openTransport(ctx, cfg.Transport, logger)
	if err != nil {
		logger.Fatal("open transport", zap.Error(err))
	}
	ch, err := channel.New(ps, cfg.Address, channel.Options{Logger: logger})
	if err != nil {
		_ = closePS()
		logger.Fatal("open channel", zap.Error(err))
	}

	// With the hook on, traces reach the log through it alone.
	endpointLog := logger.Named(cfg.Mode)
	if cfg.Debug {
		endpointLog = endpointLog.WithOptions(zap.IncreaseLevel(zap.InfoLevel))
	}
	tcfg := trainman.Config{
		HandshakeInterval: cfg.HandshakeInterval,
		DebugEnabled:      cfg.Debug,
		Debug:             logging.DebugSink(logger.Named("trace")),
		Logger:            endpointLog,
		Metrics:           observability.NewMetrics(prometheus.DefaultRegisterer),
	}

	switch cfg.Mode {
	case config.ModeHost:
		err = runHost(ctx, cfg, ps, ch, tcfg, logger)
	case config.ModeClient:
		err = runClient(ctx, ch, tcfg, logger)
	}
	err = multierr.Combine(err, ch.Close(), closePS())
	if err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
}

func openTransport(ctx context.Context, tc config.TransportConfig, logger *zap.Logger) (network.PubSub, func() error, error) {
	if tc.Kind == config.TransportMemory {
		ps := network.NewMemoryPubSub()
		return ps, ps.Close, nil
	}
	ps, err := network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
		ListenAddrs:     tc.Listen,
		Bootstrap:       tc.Bootstrap,
		Rendezvous:      tc.Rendezvous,
		EnableMDNS:      tc.MDNS,
		IdentityKeyFile: tc.IdentityKeyFile,
		Logger:          logger.Named("libp2p"),
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("libp2p ready",
		zap.String("peer_id", ps.PeerID()),
		zap.Strings("listen", ps.ListenAddrs()))
	return ps, ps.Close, nil
}

func runHost(ctx context.Context, cfg config.Config, ps network.PubSub, ch channel.Channel, tcfg trainman.Config, logger *zap.Logger) error {
	h, err := trainman.NewHost(ch, tcfg, cfg.Clients...)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	api := hostapi.NewServer(h)
	if t, ok := ps.(hostapi.Transport); ok {
		api.WithTransport(t)
	}
	api.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("trainman host listening",
			zap.String("address", cfg.Address),
			zap.String("http", cfg.HTTPAddr),
			zap.Int("clients", len(cfg.Clients)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return multierr.Combine(err, srv.Shutdown(shutdownCtx), h.Close())
}

// runClient answers every "ping" from the host with a "pong" carrying the same payload.
func runClient(ctx context.Context, ch channel.Channel, tcfg trainman.Config, logger *zap.Logger) error {
	c, err := trainman.NewClient(ch, tcfg)
	if err != nil {
		return err
	}
	if _, err := c.Subscribe("ping", func(m trainman.Message) {
		var payload any
		if m.HasData() {
			payload = m.Data
		}
		if err := c.Send("pong", payload); err != nil {
			logger.Warn("pong failed", zap.Error(err))
		}
	}); err != nil {
		_ = c.Close()
		return err
	}
	logger.Info("trainman client waiting for host", zap.String("address", ch.Handle()))
	<-ctx.Done()
	return c.Close()
}
