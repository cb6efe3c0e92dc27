// ABOUTME: Ingestion orchestrator: manifest, download, extract, then
// ABOUTME: per-state streaming from raw files into the index

// Package ingest drives a full dataset load: it resolves the current
// archive, downloads and extracts it, loads the shared reference tables,
// and streams each state's address rows through the mapper into the
// index in memory-bounded chunks.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/internal/metrics"
	"github.com/nainya/addressd/pkg/archive"
	"github.com/nainya/addressd/pkg/download"
	"github.com/nainya/addressd/pkg/gnaf"
	"github.com/nainya/addressd/pkg/index"
	"github.com/nainya/addressd/pkg/resource"
)

// stateNames maps the distribution's state abbreviations to full names.
var stateNames = map[string]string{
	"NSW": "New South Wales",
	"VIC": "Victoria",
	"QLD": "Queensland",
	"SA":  "South Australia",
	"WA":  "Western Australia",
	"TAS": "Tasmania",
	"NT":  "Northern Territory",
	"ACT": "Australian Capital Territory",
	"OT":  "Other Territories",
}

// AllStates returns every state abbreviation the distribution ships, in
// load order.
func AllStates() []string {
	return []string{"NSW", "VIC", "QLD", "SA", "WA", "TAS", "NT", "ACT", "OT"}
}

// Config tunes one ingestion run.
type Config struct {
	PackageURL string
	CacheDir   string
	// ChunkBytes sizes detail/geocode read chunks; 0 derives it from the
	// resource monitor per chunk.
	ChunkBytes int64
	EnableGeo  bool
	// States is the allowlist of state abbreviations to load.
	States []string
	// BulkInitialBackoff seeds the bulk writer's retry delay.
	BulkInitialBackoff time.Duration
	// PressureWait bounds the between-chunk wait for memory relief.
	// Default 30s.
	PressureWait time.Duration
}

// Orchestrator runs the load pipeline. Monitor and metrics may be nil.
type Orchestrator struct {
	cfg       Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	monitor   *resource.Monitor
	manifests *ManifestClient
	downloads *download.Engine
	extractor *archive.Extractor
	store     index.Store
	bulk      *index.BulkIndexer
}

func NewOrchestrator(cfg Config, store index.Store, bulk *index.BulkIndexer, monitor *resource.Monitor, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if cfg.PressureWait <= 0 {
		cfg.PressureWait = 30 * time.Second
	}
	if cfg.BulkInitialBackoff <= 0 {
		cfg.BulkInitialBackoff = time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		log:       log.Component("ingest"),
		metrics:   m,
		monitor:   monitor,
		manifests: NewManifestClient(nil, cfg.CacheDir, log),
		downloads: download.NewEngine(&http.Client{}, log),
		extractor: archive.NewExtractor(log),
		store:     store,
		bulk:      bulk,
	}
}

// Run executes a full load. With clear set, the index is deleted and
// rebuilt from scratch; otherwise documents upsert over the existing
// index. Any error is terminal for the run.
func (o *Orchestrator) Run(ctx context.Context, clear bool) error {
	started := time.Now()

	if clear {
		if err := o.store.DeleteIndex(ctx); err != nil {
			return err
		}
	}
	if err := o.store.EnsureIndex(ctx); err != nil {
		return err
	}

	m, err := o.manifests.Resolve(ctx, o.cfg.PackageURL)
	if err != nil {
		return err
	}

	archivePath, err := o.fetchArchive(ctx, m)
	if err != nil {
		return err
	}

	dataDir, err := o.extractor.Extract(archivePath)
	if err != nil {
		return err
	}

	standardDir, authorityDir, err := locateDataDirs(dataDir)
	if err != nil {
		return err
	}

	jctx := gnaf.NewJoinContext()
	if err := o.loadAuthorityCodes(authorityDir, jctx); err != nil {
		return err
	}
	if err := o.indexSynonyms(ctx, jctx); err != nil {
		return err
	}

	for _, abbr := range o.cfg.States {
		if err := o.loadState(ctx, jctx, standardDir, abbr); err != nil {
			return fmt.Errorf("ingest: state %s: %w", abbr, err)
		}
	}

	if count, cerr := o.store.DocCount(ctx); cerr == nil {
		o.log.Info().
			Uint64("documents", count).
			Dur("elapsed", time.Since(started)).
			Msg("ingestion complete")
	}
	return nil
}

// fetchArchive downloads the archive into the cache directory, resuming
// or skipping as the download engine sees fit.
func (o *Orchestrator) fetchArchive(ctx context.Context, m *Manifest) (string, error) {
	if err := os.MkdirAll(o.cfg.CacheDir, 0o755); err != nil {
		return "", fmt.Errorf("ingest: creating cache dir: %w", err)
	}
	dest := filepath.Join(o.cfg.CacheDir, archiveFilename(m))

	var lastBytes int64
	opts := &download.Options{
		OnProgress: func(p download.Progress) {
			if o.metrics != nil && p.Bytes > lastBytes {
				o.metrics.DownloadBytesTotal.Add(float64(p.Bytes - lastBytes))
				lastBytes = p.Bytes
			}
			o.log.Info().
				Int64("bytes", p.Bytes).
				Int64("total", p.Total).
				Float64("percent", p.Percent).
				Msg("downloading archive")
		},
	}
	if err := o.downloads.Download(ctx, m.URL, dest, m.Size, opts); err != nil {
		return "", err
	}
	return dest, nil
}

// archiveFilename derives a stable local name from the resource URL so a
// new dataset generation never collides with the previous archive.
func archiveFilename(m *Manifest) string {
	if u, err := url.Parse(m.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return "gnaf.zip"
}

// locateDataDirs walks the extracted tree for the Standard and Authority
// Code directories. Both are required.
func locateDataDirs(root string) (standard, authority string, err error) {
	walkErr := filepath.WalkDir(root, func(p string, d os.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if !d.IsDir() {
			return nil
		}
		switch d.Name() {
		case "Standard":
			standard = p
		case "Authority Code":
			authority = p
		}
		return nil
	})
	if walkErr != nil {
		return "", "", fmt.Errorf("ingest: scanning extracted data: %w", walkErr)
	}
	if standard == "" || authority == "" {
		return "", "", fmt.Errorf("ingest: extracted archive at %s has no Standard/Authority Code directories", root)
	}
	return standard, authority, nil
}

// chunkBytes resolves the next chunk size: fixed when configured,
// otherwise derived from current free memory.
func (o *Orchestrator) chunkBytes() int64 {
	if o.cfg.ChunkBytes > 0 {
		return o.cfg.ChunkBytes
	}
	if o.monitor != nil {
		if mb := o.monitor.Snapshot().OptimalChunkSizeMB; mb > 0 {
			return int64(mb) << 20
		}
	}
	return 1 << 20
}

// pausedForPressure blocks between chunks while the system is short on
// memory, bounded so a stuck monitor can never wedge the pipeline.
func (o *Orchestrator) pauseForPressure(ctx context.Context) {
	if o.monitor == nil || !o.monitor.MemoryPressure() {
		return
	}
	if o.metrics != nil {
		o.metrics.MemoryPressureTotal.Inc()
	}
	o.log.Warn().Msg("memory pressure between chunks, pausing")
	o.monitor.WaitForRelief(ctx, o.cfg.PressureWait)
}
