// Command docscand is the docscan web service daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/docpipe/docscan/analyze"
	"github.com/docpipe/docscan/audit"
	"github.com/docpipe/docscan/config"
	"github.com/docpipe/docscan/logging"
	"github.com/docpipe/docscan/ocr"
	_ "github.com/docpipe/docscan/ocr/tesseract" // registers the default OCR engine
	"github.com/docpipe/docscan/render"
	"github.com/docpipe/docscan/server"
	"github.com/docpipe/docscan/signature"
	"github.com/docpipe/docscan/store"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "probe the local /health endpoint and exit")
	flag.Parse()

	if *healthcheck {
		os.Exit(probeHealth())
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// probeHealth is the container HEALTHCHECK entry point.
func probeHealth() int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://127.0.0.1:" + port + "/health")
	if err != nil {
		return 1
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.TessdataPrefix != "" {
		if err := os.Setenv("TESSDATA_PREFIX", cfg.TessdataPrefix); err != nil {
			return fmt.Errorf("set TESSDATA_PREFIX: %w", err)
		}
	}

	renderer := &render.Renderer{Bin: cfg.RenderBin, Timeout: cfg.RenderTimeout}
	if !renderer.Available() {
		log.Warnw("page renderer not found, OCR fallback and wet-ink scan disabled",
			"bin", cfg.RenderBin)
	}

	analyzer := &analyze.Analyzer{
		Renderer:       renderer,
		Log:            log,
		OCREnabled:     cfg.OCREnabled,
		Languages:      cfg.OCRLanguageList(),
		ThresholdChars: cfg.OCRThresholdChars,
		DPI:            cfg.OCRDPI,
		OCRTimeout:     cfg.OCRTimeout,
		Workers:        cfg.Workers,
	}

	if cfg.WetScanEnabled {
		analyzer.Wet = &signature.WetScanner{
			Renderer: renderer,
			DPI:      cfg.OCRDPI,
			MaxPages: cfg.WetMaxPages,
		}
	}

	var reports server.ReportReader
	var reportStore *store.Store
	if cfg.CachePath != "" {
		reportStore, err = store.Open(cfg.CachePath)
		if err != nil {
			return err
		}
		analyzer.Store = reportStore
		reports = reportStore
	} else {
		log.Infow("report cache disabled (CACHE_PATH is empty)")
	}

	var sink audit.Sink = audit.Nop{}
	if cfg.AuditDSN != "" {
		ch, err := audit.Open(cfg.AuditDSN, audit.Config{
			Table:     cfg.AuditTable,
			Interval:  cfg.AuditInterval,
			BatchSize: cfg.AuditBatch,
			QueueSize: cfg.AuditQueue,
		}, log)
		if err != nil {
			log.Warnw("audit sink unavailable, continuing without it", "error", err)
		} else {
			if err := ch.EnsureSchema(); err != nil {
				log.Warnw("audit schema check failed", "error", err)
			}
			ch.Start()
			sink = ch
			analyzer.Audit = sink
		}
	}

	jobs := analyze.NewManager(analyzer, cfg.Workers, cfg.JobQueue, cfg.JobTTL, log)

	srv := server.New(server.Config{
		MaxUploadBytes: cfg.MaxUploadBytes,
		ThresholdChars: cfg.OCRThresholdChars,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AuthSecret:     cfg.AuthSecret,
	}, analyzer, jobs, reports, log)

	httpServer := &http.Server{
		Handler:      srv.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	ln = netutil.LimitListener(ln, cfg.MaxConns)

	pruneDone := startPruner(reportStore, cfg.CacheTTL, log)

	log.Infow("docscan listening",
		"addr", cfg.Addr(),
		"ocr_engine", ocr.DefaultEngine().Name(),
		"ocr_enabled", cfg.OCREnabled,
		"renderer_available", renderer.Available(),
		"cache", cfg.CachePath != "",
		"audit", cfg.AuditDSN != "",
	)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Serve(ln) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("server shutdown incomplete", "error", err)
	}
	jobs.Close()
	if err := sink.Close(); err != nil {
		log.Warnw("audit sink close failed", "error", err)
	}
	pruneDone()
	if reportStore != nil {
		if err := reportStore.Close(); err != nil {
			log.Warnw("report cache close failed", "error", err)
		}
	}
	return nil
}

// startPruner sweeps stale cache entries hourly. The returned func stops it.
func startPruner(st *store.Store, ttl time.Duration, log *zap.SugaredLogger) func() {
	if st == nil || ttl <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := st.Prune(ttl); err != nil {
					log.Warnw("cache prune failed", "error", err)
				} else if n > 0 {
					log.Infow("pruned stale reports", "count", n)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
