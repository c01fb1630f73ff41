package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"kptv-player/work/cache"
	"kptv-player/work/catalog"
	"kptv-player/work/client"
	"kptv-player/work/config"
	"kptv-player/work/database"
	"kptv-player/work/handlers"
	"kptv-player/work/logger"
	"kptv-player/work/resolver"
	"kptv-player/work/session"
	"kptv-player/work/sink"
	"kptv-player/work/types"
)

var (
	Version = "v0.1.0" // default version
)

const failureRetention = 30 * 24 * time.Hour

// our main app worker
func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the JSON settings file")
	writeExample := flag.Bool("example-config", false, "write an example settings file to -config and exit")
	flag.Parse()

	if *writeExample {
		if err := config.CreateExampleConfig(*configPath); err != nil {
			logger.Error("{main - main} Failed to write example config: %v", err)
			os.Exit(1)
		}
		logger.Info("{main - main} Example config written to %s", *configPath)
		return
	}

	// load our config
	cfg := config.LoadConfigFrom(*configPath)
	logger.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// worker pool for catalog imports, probes get their own
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} Failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	httpClient := client.NewHeaderSettingClient(cfg.UserAgent, cfg.ProbeTimeout)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("{main - main} Failed to open failure journal: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	// catalog
	items := types.NewCatalog()
	importer := catalog.NewImporter(cfg, items, httpClient, workerPool, cache.NewCache(cfg.CacheDuration))
	if _, err := importer.Import(ctx); err != nil {
		logger.Error("{main - main} Initial catalog import failed: %v", err)
	}
	go importer.StartRefresh(ctx)
	defer importer.Stop()

	// playback session
	probe, err := sink.NewProbeSink(httpClient, sink.ProbeOptions{
		Timeout:       cfg.ProbeTimeout,
		RatePerSecond: cfg.ProbeRate,
		Workers:       cfg.WorkerThreads,
		ObfuscateURLs: cfg.ObfuscateUrls,
	})
	if err != nil {
		logger.Error("{main - main} Failed to create probe sink: %v", err)
		os.Exit(1)
	}
	defer probe.Close()
	res := resolver.New(cfg.UserAgent)
	controller := session.New(probe, session.Options{
		ServerInfo:        types.ServerInfo{ProxyEnabled: cfg.ProxyEnabled, ProxyBaseURL: cfg.ProxyBaseURL},
		RemoteControlOnly: cfg.RemoteControlOnly,
		LoadTimeout:       cfg.LoadTimeout,
		ObfuscateURLs:     cfg.ObfuscateUrls,
		Resolver:          res,
		Recorder:          db,
		Logger:            logger.New(cfg.LogLevel),
	})
	defer controller.Dispose()

	go pruneFailures(ctx, db)
	go reloadOnHangup(ctx, importer)

	api := handlers.New(cfg, items, controller, res, db, importer)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// show info
	logger.Info("{main - main} Starting KPTV Player %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - main}   - Proxy Enabled: %v (%s)", cfg.ProxyEnabled, cfg.ProxyBaseURL)
	logger.Info("{main - main}   - Remote Control Only: %v", cfg.RemoteControlOnly)
	logger.Info("{main - main}   - Load Timeout: %s", cfg.LoadTimeout)
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Sources: %d (%d items)", len(cfg.Sources), items.Len())
	logger.Info("{main - main}   - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("{main - main}   - Source Refresh Rate: %s", cfg.ImportRefreshInterval)
	logger.Info("{main - main}   - API Auth: %v", cfg.APIUser != "")
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{main - main} Server failed: %v", err)
		}
	case <-ctx.Done():
		logger.Info("{main - main} Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("{main - main} Graceful shutdown incomplete: %v", err)
	}
}

// pruneFailures trims old journal rows once a day and compacts the file
// when anything was removed
func pruneFailures(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if n, err := db.PruneFailures(ctx, failureRetention); err != nil {
			logger.Warn("{main - pruneFailures} %v", err)
		} else if n > 0 {
			logger.Info("{main - pruneFailures} Pruned %d old failure records", n)
			if err := db.Vacuum(ctx); err != nil {
				logger.Warn("{main - pruneFailures} Vacuum failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reloadOnHangup re-imports the catalog on SIGHUP
func reloadOnHangup(ctx context.Context, importer *catalog.Importer) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("{main - reloadOnHangup} Catalog reload requested")
			if n, err := importer.Refresh(ctx); err != nil {
				logger.Error("{main - reloadOnHangup} Catalog reload failed: %v", err)
			} else {
				logger.Info("{main - reloadOnHangup} Catalog reloaded: %d items", n)
			}
		}
	}
}
