// Command crawld wires together the crawl pipeline core (C1-C6) and
// its ambient operational surface: config loading, logging setup, the
// crawler registry, queue, registry, producer, pipeline, persistence
// adapter, and a minimal /healthz + /stats HTTP endpoint. It is the
// one piece of SPEC_FULL.md's C7 that is genuinely ambient — the
// dashboard, migrations, and browser driver remain out of scope
// (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caiatech/crawlcore/internal/config"
	"github.com/caiatech/crawlcore/internal/crawler"
	"github.com/caiatech/crawlcore/internal/crawler/htmlcrawler"
	"github.com/caiatech/crawlcore/internal/events"
	"github.com/caiatech/crawlcore/internal/opsapi"
	"github.com/caiatech/crawlcore/internal/persistence"
	"github.com/caiatech/crawlcore/internal/persistence/memory"
	"github.com/caiatech/crawlcore/internal/persistence/postgres"
	"github.com/caiatech/crawlcore/internal/pipeline"
	"github.com/caiatech/crawlcore/internal/producer"
	"github.com/caiatech/crawlcore/internal/queue"
	"github.com/caiatech/crawlcore/internal/registry"
	"github.com/caiatech/crawlcore/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	opsAddr := flag.String("ops-addr", ":8080", "address for the /healthz and /stats HTTP surface")
	seedURL := flag.String("seed", "", "seed URL for the built-in reference crawler")
	crawlerID := flag.String("crawler-id", "default", "crawler_id bound to the seed URL")
	allowedDomain := flag.String("allowed-domain", "", "domain allow-list entry for the reference crawler (empty allows all)")
	flag.Parse()

	cfg, err := config.Load(*configPath, runtime.NumCPU())
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.SetupLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "setting up logging: %v\n", err)
		os.Exit(1)
	}
	log := logging.GetLogger("main")
	log.Info().Int("worker_count", cfg.WorkerCount).Msg("crawld starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence adapter")
	}
	defer closeStore()

	q := queue.New(cfg.RetryCeiling)
	reg := registry.New(cfg.CrawledTTL, cfg.SweepInterval)
	defer reg.Stop()

	bus := events.NewBus(256, 4)
	defer bus.Close()

	crawlers := crawler.NewRegistry()
	if *seedURL != "" {
		var allowed []string
		if *allowedDomain != "" {
			allowed = []string{*allowedDomain}
		}
		ref := htmlcrawler.New(htmlcrawler.Config{
			CrawlerID:          *crawlerID,
			SeedURLs:           []string{*seedURL},
			AllowedDomains:     allowed,
			PolitenessInterval: cfg.PolitenessInterval,
		}, noopFetcher{}, q, reg, store)
		crawlers.Register(*crawlerID, ref)
		if err := ref.Init(ctx); err != nil {
			log.Error().Err(err).Msg("crawler init failed")
		}
	}

	prod := producer.New(q, cfg.WorkerCount*cfg.MaxDemand, cfg.ProducerPollInterval)
	pipe := pipeline.New(pipeline.Config{
		WorkerCount: cfg.WorkerCount,
		Crawlers:    crawlers,
		Queue:       q,
		Registry:    reg,
		Bus:         bus,
	})

	go prod.Run(ctx)
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		pipe.Run(ctx, prod.Items())
	}()

	api := opsapi.New(q, reg, store)
	server := &http.Server{Addr: *opsAddr, Handler: api.Router()}
	go func() {
		log.Info().Str("addr", *opsAddr).Msg("ops http surface listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops http surface failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	<-pipelineDone
	log.Info().Msg("crawld shut down cleanly")
}

func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		return memory.New(), func() {}, nil
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// noopFetcher is a placeholder Fetcher used when crawld is run
// without a real browser automation driver wired in; it always fails
// with a network_error so the pipeline's retry/failure paths are
// still exercised end-to-end. Production deployments inject a real
// Fetcher (the browser driver is an external collaborator, spec.md
// §1) instead of this one.
type noopFetcher struct{}

func (noopFetcher) Fetch(ctx context.Context, url string) (*htmlcrawler.FetchResult, error) {
	return nil, fmt.Errorf("no fetcher configured: %s", url)
}
