// ABOUTME: Entry point for addressd with load and serve subcommands
// ABOUTME: Wires config, logging, metrics, the index and the HTTP servers

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nainya/addressd/internal/config"
	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/internal/metrics"
	"github.com/nainya/addressd/internal/server"
	"github.com/nainya/addressd/pkg/breaker"
	"github.com/nainya/addressd/pkg/cache"
	"github.com/nainya/addressd/pkg/index"
	"github.com/nainya/addressd/pkg/ingest"
	"github.com/nainya/addressd/pkg/resource"
	"github.com/nainya/addressd/pkg/search"
)

const shutdownGrace = 15 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "load":
		err = runLoad(ctx, cfg, log, os.Args[2:])
	case "serve":
		err = runServe(ctx, cfg, log, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: addressd <load|serve> [flags]")
}

// runLoad performs one ingestion run and exits.
func runLoad(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	states := fs.String("states", strings.Join(cfg.CoveredStates, ","), "comma-separated state abbreviations; empty loads all")
	clear := fs.Bool("clear-index", false, "delete and rebuild the index before loading")
	geo := fs.Bool("enable-geo", cfg.EnableGeo, "attach geocodes to documents")
	// Accepted for interface compatibility; bleve batches are visible as
	// soon as they return, so there is nothing to refresh.
	fs.Bool("refresh", false, "force index visibility after each batch (no-op)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	monitor := newMonitor(cfg)
	if monitor != nil {
		monitor.StartMonitoring()
		defer monitor.StopMonitoring()
	}

	store := index.NewBleveStore(cfg.IndexPath, cfg.IndexName, log)
	defer store.Close()

	bulk := index.NewBulkIndexer(store, monitor, m, log, index.BulkConfig{
		BackoffIncrement: cfg.BulkBackoffIncrement,
		BackoffMax:       cfg.BulkBackoffMax,
		MaxRetries:       cfg.BulkMaxRetries,
		AttemptTimeout:   cfg.BulkTimeout,
	})

	orch := ingest.NewOrchestrator(ingest.Config{
		PackageURL:         cfg.PackageURL,
		CacheDir:           cfg.CacheDir,
		ChunkBytes:         int64(cfg.ChunkSize),
		EnableGeo:          *geo,
		States:             parseStates(*states),
		BulkInitialBackoff: cfg.BulkBackoffInitial,
	}, store, bulk, monitor, m, log)

	return orch.Run(ctx, *clear)
}

// runServe opens the index and serves the API and observability
// endpoints until a signal arrives.
func runServe(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 8080, "API port")
	obsPort := fs.Int("obs-port", 9090, "observability port (metrics, health, pprof)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store := index.NewBleveStore(cfg.IndexPath, cfg.IndexName, log)
	defer store.Close()
	if err := store.EnsureIndex(ctx); err != nil {
		return err
	}

	var results *cache.Cache[*search.Result]
	if cfg.CacheEnabled {
		results = cache.New[*search.Result](cache.Config{
			MaxEntries: cfg.CacheMaxEntries,
			TTL:        cfg.CacheTTL,
		})
		results.StartSweeper()
		defer results.StopSweeper()
	}

	brk := breaker.New("index", breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	}, log)
	brk.OnStateChange(func(name string, from, to breaker.State) {
		m.BreakerState.Set(float64(to))
	})

	svc := search.NewService(store, results, brk, m, log, search.Config{
		PageSize:      cfg.DefaultPageSize,
		MaxPageSize:   cfg.MaxPageSize,
		MaxPageNumber: cfg.MaxPageNumber,
	})

	api := server.New(server.Config{Port: *port, PageSize: cfg.DefaultPageSize}, svc, store, m, log)
	obs := server.NewObservabilityServer(*obsPort, reg, store, log)

	stopUptime := make(chan struct{})
	m.StartUptimeUpdater(stopUptime)
	defer close(stopUptime)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(api.Start)
	g.Go(obs.Start)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := api.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("api shutdown")
		}
		return obs.Shutdown(sctx)
	})
	return g.Wait()
}

// newMonitor returns nil when dynamic resource management is disabled;
// the index and ingest packages treat a nil monitor as "no pressure".
func newMonitor(cfg *config.Config) *resource.Monitor {
	if !cfg.DynamicResources {
		return nil
	}
	return resource.NewMonitor(resource.Config{TargetUtilization: cfg.TargetUtilization})
}

func parseStates(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return ingest.AllStates()
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
