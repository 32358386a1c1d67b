// Cookie Monster ingests file-metadata updates from an external source,
// enriches them against a pipeline of hot-reloadable rules and loaders,
// and delivers notifications to registered receivers.
//
// Startup sequence:
//  1. Initialise the structured logger.
//  2. Load configuration (JSON file or defaults).
//  3. Connect the persistent store and buffered Cookie Jar (+ optional
//     rate-limit decorator, then the too-big-to-fail decorator).
//  4. Build the measurement recorder and wrap the jar in the timing
//     decorator.
//  5. Load the rule/enrichment/receiver registries and start their
//     directory watchers.
//  6. Start the processor pool (workers + dispatcher).
//  7. Start the retrieval manager.
//  8. Start the periodic queue-depth and worker-count samplers.
//  9. Start the admin HTTP API.
//  10. Block until SIGINT/SIGTERM, then perform a staged shutdown.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wtsi-hgi/cookiemonster/internal/api"
	"github.com/wtsi-hgi/cookiemonster/internal/config"
	"github.com/wtsi-hgi/cookiemonster/internal/cookiejar"
	"github.com/wtsi-hgi/cookiemonster/internal/logging"
	"github.com/wtsi-hgi/cookiemonster/internal/model"
	"github.com/wtsi-hgi/cookiemonster/internal/monitor"
	"github.com/wtsi-hgi/cookiemonster/internal/pool"
	"github.com/wtsi-hgi/cookiemonster/internal/registry"
	"github.com/wtsi-hgi/cookiemonster/internal/retrieval"
	"github.com/wtsi-hgi/cookiemonster/internal/store"
)

func main() {
	configFile := flag.String("config", "", "Path to JSON config file (optional; uses defaults if omitted)")
	inMemory := flag.Bool("in-memory", false, "Use an in-process store instead of connecting to CouchDB")
	flag.Parse()

	log := logging.New(logging.LevelInfo)
	log.Info("cookie monster starting up")

	// ── Configuration ──────────────────────────────────────────────────────
	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadConfig(*configFile)
		if err != nil {
			log.Errorf("failed to load config from %q: %v", *configFile, err)
			os.Exit(1)
		}
		log.Infof("configuration loaded from %q", *configFile)
	} else {
		cfg = config.DefaultConfig()
		log.Info("using default configuration")
	}

	ctx := context.Background()

	// ── Persistent store ───────────────────────────────────────────────────
	var backing store.Store
	if *inMemory {
		backing = store.NewMemoryStore()
		log.Info("using in-memory store")
	} else {
		couch, err := store.NewCouchStore(ctx, cfg.StoreURL, cfg.DatabaseName)
		if err != nil {
			log.Errorf("failed to connect to store at %q: %v", cfg.StoreURL, err)
			os.Exit(1)
		}
		backing = couch
		log.Infof("connected to store %q database %q", cfg.StoreURL, cfg.DatabaseName)
	}
	if err := ensureUpdateViews(ctx, backing); err != nil {
		log.Errorf("failed to register retrieval views: %v", err)
		os.Exit(1)
	}

	cookieBuffer := store.NewBufferedStore(backing, cfg.BufferMaxSize, cfg.BufferLatency())
	defer cookieBuffer.Stop()
	logBuffer := store.NewBufferedStore(backing, cfg.BufferMaxSize, cfg.BufferLatency())
	defer logBuffer.Stop()

	// ── Cookie Jar (+ decorators) ──────────────────────────────────────────
	jar, err := cookiejar.New(ctx, cookieBuffer)
	if err != nil {
		log.Errorf("failed to build cookie jar: %v", err)
		os.Exit(1)
	}
	defer jar.Close()

	var cookies cookiejar.CookieJar = jar
	if cfg.RateLimitPerSec > 0 {
		cookies = cookiejar.NewRateLimited(cookies, cfg.RateLimitPerSec)
		log.Infof("rate-limiting cookie jar to %.1f ops/sec", cfg.RateLimitPerSec)
	}
	cookies = cookiejar.NewTooBigToFail(cookies)

	// ── Monitor ────────────────────────────────────────────────────────────
	var sink monitor.Sink
	switch cfg.LoggingSink {
	case "prometheus":
		sink = monitor.NewPrometheusSink(prometheus.NewRegistry())
	default:
		sink = monitor.NewStdoutSink(zerolog.New(os.Stdout).With().Timestamp().Logger())
	}
	recorder := monitor.NewRecorder(sink, monitor.DefaultMaxBufferSize, monitor.DefaultBufferLatency)
	defer recorder.Stop()
	cookies = cookiejar.NewTimed(cookies, recorder)

	counters := monitor.NewPipelineCounters()

	// ── Registries + directory watchers ───────────────────────────────────
	rules := registry.New[registry.RuleEntry]()
	enrichments := registry.New[registry.EnrichmentLoaderEntry]()
	receivers := registry.New[registry.NotificationReceiverEntry]()

	ruleWatcher := registry.NewRuleWatcher(cfg.RulesDir, ".js", rules, log)
	enrichmentWatcher := registry.NewEnrichmentLoaderWatcher(cfg.EnrichmentsDir, ".js", enrichments, log)
	receiverWatcher := registry.NewNotificationReceiverWatcher(cfg.ReceiversDir, ".js", receivers, log)

	for name, w := range map[string]interface {
		Start(context.Context) error
		Stop()
	}{"rules": ruleWatcher, "enrichments": enrichmentWatcher, "receivers": receiverWatcher} {
		if err := w.Start(ctx); err != nil {
			log.Errorf("failed to start %s watcher: %v", name, err)
			os.Exit(1)
		}
		defer w.Stop()
	}
	log.Infof("watching %s, %s, %s", cfg.RulesDir, cfg.EnrichmentsDir, cfg.ReceiversDir)

	pluginCtx := func() model.Context {
		return model.Context{CookieJar: cookies}
	}

	// ── Processor pool ─────────────────────────────────────────────────────
	processor := pool.NewProcessor(cookies, pool.Registries{
		Rules:       rules,
		Enrichments: enrichments,
		Receivers:   receivers,
	}, cfg.RetryDelay(), pluginCtx)

	workers := pool.NewWorkerPool(cfg.Workers)
	workers.Start()
	defer workers.Stop()

	dispatcher := pool.NewDispatcher(cookies, workers, func(c *model.Cookie) {
		counters.IncrementProcessed()
		processor.Process(c)
	}, pool.DefaultFallbackPeriod)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()
	log.Infof("processor pool started with %d workers", cfg.Workers)

	// ── Retrieval manager ──────────────────────────────────────────────────
	source := newCouchUpdateSource(backing)
	retrievalLog := retrieval.NewLog(logBuffer)
	retrievalLog.SetLogger(log.Errorf)

	manager := retrieval.NewManager(source, cfg.RetrievalPeriod(), cfg.RetrievalStartFrom, retrievalLog, log)
	manager.SetListener(func(updates []model.Update) {
		for _, u := range updates {
			if err := cookies.EnrichCookie(u.Target, model.Enrichment{
				Source:    "retrieval",
				Timestamp: u.Timestamp,
				Metadata:  u.Metadata,
			}); err != nil {
				log.Errorf("failed to enrich %q: %v", u.Target, err)
			}
		}
	})
	manager.Start(ctx)
	defer manager.Stop()
	log.Infof("retrieval manager started, period=%s", cfg.RetrievalPeriod())

	// ── Periodic samplers ──────────────────────────────────────────────────
	queueMonitor := monitor.NewQueueDepthMonitor(cookies.QueueLength, recorder, monitor.DefaultSamplePeriod)
	queueMonitor.Start()
	defer queueMonitor.Stop()

	workerMonitor := monitor.NewWorkerCountMonitor(workers.Size, recorder, monitor.DefaultSamplePeriod)
	workerMonitor.Start()
	defer workerMonitor.Stop()

	// ── Admin HTTP API ─────────────────────────────────────────────────────
	adminServer := api.New(cookies, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      adminServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Infof("admin API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin API server error: %v", err)
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Println()
	log.Infof("received signal %s; shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("admin API shutdown error: %v", err)
	}

	processed, completed, failed := counters.Snapshot()
	log.Infof("final counters – processed: %d | completed: %d | failed: %d", processed, completed, failed)
	log.Info("cookie monster shut down cleanly")
}
