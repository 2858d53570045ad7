package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pricescout/api"
	"pricescout/browser"
	"pricescout/config"
	"pricescout/coordinator"
	"pricescout/forwarder"
	"pricescout/store"
	"pricescout/worker"
)

func main() {
	configDefault := "pricescout.json"
	if value, ok := config.EnvString("PRICESCOUT_CONFIG"); ok {
		configDefault = value
	}

	configPath := flag.String("config", configDefault, "Path to the JSON config file")
	listenAddr := flag.String("listen", "", "Control API listen address (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	windowed := flag.Bool("windowed", false, "Run the browser with a visible window")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *windowed {
		cfg.Windowed = true
	}
	if *verbose {
		cfg.Verbose = true
		level.Set(slog.LevelDebug)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	br, err := browser.New(!cfg.Windowed, cfg.UserAgent, cfg.SettleDelay.Std())
	if err != nil {
		slog.Error("starting browser", slog.Any("error", err))
		os.Exit(1)
	}
	defer br.Close()

	fwd := forwarder.New(cfg.CollectorURL, 30*time.Second)
	coord := coordinator.New(coordinator.Options{
		Config: cfg,
		Store:  st,
		OpenPage: func(ctx context.Context, rawURL string) (worker.Page, error) {
			return br.OpenTab(ctx, rawURL)
		},
		Forwarder: fwd,
	})

	interrupted, err := coord.Recover(ctx)
	if err != nil {
		slog.Error("recovering sessions", slog.Any("error", err))
		os.Exit(1)
	}
	for _, sess := range interrupted {
		slog.Info("session awaiting resume-or-discard",
			slog.String("key", sess.Key()),
			slog.Int("page", sess.CurrentPage),
			slog.Int("products", sess.ProductsCount),
		)
	}

	srv, err := api.NewServer(cfg, st, coord)
	if err != nil {
		slog.Error("building api server", slog.Any("error", err))
		os.Exit(1)
	}
	coord.SetNotifier(srv)
	srv.SetForwarder(fwd)

	apiServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("control api listening", slog.String("addr", cfg.ListenAddr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(coord.Metrics().Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	<-ctx.Done()
	slog.Info("shutdown signal received, pausing running session")
	if key, ok := coord.Running(); ok {
		pauseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := coord.Pause(pauseCtx, key); err != nil {
			slog.Error("pause on shutdown", slog.String("key", key), slog.Any("error", err))
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown failed", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
	fmt.Println("pricescoutd stopped")
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
