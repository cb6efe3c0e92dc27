// ABOUTME: File loaders for one ingestion run: authority tables, per-state
// ABOUTME: reference joins, geocodes, and chunked address detail streaming

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nainya/addressd/pkg/address"
	"github.com/nainya/addressd/pkg/gnaf"
	"github.com/nainya/addressd/pkg/index"
)

// loadAuthorityCodes loads every authority table under dir. Each file's
// row count must match the newline count exactly: a short read here
// would silently mis-decode every address of the run, so mismatch is
// terminal.
func (o *Orchestrator) loadAuthorityCodes(dir string, jctx *gnaf.JoinContext) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ingest: reading authority dir: %w", err)
	}

	tables := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := gnaf.AuthorityTableKey(e.Name())
		if key == "" {
			continue
		}
		p := filepath.Join(dir, e.Name())

		expected, err := gnaf.CountRows(p)
		if err != nil {
			return fmt.Errorf("ingest: counting %s: %w", e.Name(), err)
		}
		rows, err := gnaf.ReadAuthorityCodes(p)
		if err != nil {
			return fmt.Errorf("ingest: loading %s: %w", e.Name(), err)
		}
		if int64(len(rows)) != expected {
			return fmt.Errorf("ingest: authority table %s loaded %d of %d rows", key, len(rows), expected)
		}
		jctx.LoadAuthorityTable(key, rows)
		tables++
	}

	if tables == 0 {
		return fmt.Errorf("ingest: no authority tables found under %s", dir)
	}
	o.log.Info().Int("tables", tables).Msg("authority tables loaded")
	return nil
}

// indexSynonyms turns the street type authority table into query-time
// equivalences, so "st" in a query reaches addresses indexed as
// "street". Codes identical to their name carry no expansion and are
// skipped.
func (o *Orchestrator) indexSynonyms(ctx context.Context, jctx *gnaf.JoinContext) error {
	table := jctx.AuthorityTable(gnaf.TableStreetType)

	var entries []index.SynonymEntry
	for code, name := range table {
		if name == "" || strings.EqualFold(code, name) {
			continue
		}
		entries = append(entries, index.SynonymEntry{
			ID:    "street-type-" + strings.ToLower(code),
			Terms: []string{code, name},
		})
	}
	if len(entries) == 0 {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	if err := o.store.IndexSynonyms(ctx, entries); err != nil {
		return fmt.Errorf("ingest: indexing street type synonyms: %w", err)
	}
	o.log.Info().Int("entries", len(entries)).Msg("street type synonyms indexed")
	return nil
}

// stateFile returns the path of one per-state data file, or "" when the
// distribution omits it.
func stateFile(dir, abbr, family string) string {
	p := filepath.Join(dir, fmt.Sprintf("%s_%s_psv.psv", abbr, family))
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// loadState ingests one state: reference joins first, then geocodes when
// enabled, then the chunked address detail stream. A state absent from
// the archive is skipped, not fatal, so partial distributions still load.
func (o *Orchestrator) loadState(ctx context.Context, jctx *gnaf.JoinContext, dir, abbr string) error {
	detailPath := stateFile(dir, abbr, "ADDRESS_DETAIL")
	if detailPath == "" {
		o.log.Warn().Str("state", abbr).Msg("state missing from distribution, skipping")
		return nil
	}

	jctx.BeginState(abbr, stateNames[abbr])
	log := o.log.WithFields(map[string]interface{}{"state": abbr})

	if p := stateFile(dir, abbr, "STREET_LOCALITY"); p != "" {
		rows, err := gnaf.ReadStreetLocalities(p)
		if err != nil {
			return err
		}
		jctx.IndexStreetLocalities(rows)
		log.Info().Int("rows", len(rows)).Msg("street localities indexed")
	}
	if p := stateFile(dir, abbr, "LOCALITY"); p != "" {
		rows, err := gnaf.ReadLocalities(p)
		if err != nil {
			return err
		}
		jctx.IndexLocalities(rows)
		log.Info().Int("rows", len(rows)).Msg("localities indexed")
	}

	if o.cfg.EnableGeo {
		if p := stateFile(dir, abbr, "ADDRESS_SITE_GEOCODE"); p != "" {
			if err := o.loadSiteGeocodes(ctx, jctx, p, abbr); err != nil {
				return err
			}
		}
		if p := stateFile(dir, abbr, "ADDRESS_DEFAULT_GEOCODE"); p != "" {
			if err := o.loadDefaultGeocodes(ctx, jctx, p, abbr); err != nil {
				return err
			}
		}
	}

	return o.streamDetails(ctx, jctx, detailPath, abbr)
}

// loadSiteGeocodes streams the site geocode file in chunks, logging
// progress roughly every percent since these files dwarf the reference
// tables.
func (o *Orchestrator) loadSiteGeocodes(ctx context.Context, jctx *gnaf.JoinContext, path, abbr string) error {
	total, err := gnaf.CountRows(path)
	if err != nil {
		return err
	}

	r, err := gnaf.OpenChunkReader(path, o.chunkBytes())
	if err != nil {
		return err
	}
	defer r.Close()

	var read, lastPct int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows, err := r.SiteGeocodes(chunk)
		if err != nil {
			return err
		}
		jctx.IndexSiteGeocodes(rows)

		read += int64(len(rows))
		if total > 0 {
			if pct := read * 100 / total; pct > lastPct {
				lastPct = pct
				o.log.Debug().
					Str("state", abbr).
					Int64("percent", pct).
					Msg("site geocodes")
			}
		}
		o.pauseForPressure(ctx)
	}
	o.log.Info().Str("state", abbr).Int64("rows", read).Msg("site geocodes indexed")
	return nil
}

func (o *Orchestrator) loadDefaultGeocodes(ctx context.Context, jctx *gnaf.JoinContext, path, abbr string) error {
	r, err := gnaf.OpenChunkReader(path, o.chunkBytes())
	if err != nil {
		return err
	}
	defer r.Close()

	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows, err := r.DefaultGeocodes(chunk)
		if err != nil {
			return err
		}
		jctx.IndexDefaultGeocodes(rows)
		read += int64(len(rows))
		o.pauseForPressure(ctx)
	}
	o.log.Info().Str("state", abbr).Int64("rows", read).Msg("default geocodes indexed")
	return nil
}

// streamDetails is the hot loop: map each chunk of detail rows and push
// the batch through the bulk writer, pausing between chunks under memory
// pressure. Retired rows are skipped. A final count drift against the
// file's newline count is logged but never fails the run, since retired
// rows legitimately reduce the indexed total.
func (o *Orchestrator) streamDetails(ctx context.Context, jctx *gnaf.JoinContext, path, abbr string) error {
	total, err := gnaf.CountRows(path)
	if err != nil {
		return err
	}

	r, err := gnaf.OpenChunkReader(path, o.chunkBytes())
	if err != nil {
		return err
	}
	defer r.Close()

	mapper := address.NewMapper(jctx)
	var indexed, retired int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows, err := r.AddressDetails(chunk)
		if err != nil {
			return err
		}

		items := make([]index.BulkItem, 0, len(rows)*2)
		for _, row := range rows {
			if row.DateRetired != "" {
				retired++
				continue
			}
			details, merr := mapper.Map(row, o.cfg.EnableGeo)
			if merr != nil {
				return merr
			}
			items = append(items, index.UpsertItems(details.ToDocument())...)
		}

		if err := o.bulk.SendIndexRequest(ctx, items, o.cfg.BulkInitialBackoff); err != nil {
			return err
		}
		indexed += int64(len(items) / 2)
		if o.metrics != nil {
			o.metrics.RowsMappedTotal.WithLabelValues(abbr).Add(float64(len(rows)))
		}
		o.pauseForPressure(ctx)
	}

	if indexed+retired != total {
		o.log.Error().
			Str("state", abbr).
			Int64("expected", total).
			Int64("indexed", indexed).
			Int64("retired", retired).
			Msg("indexed row count drifted from source file")
	}
	o.log.Info().
		Str("state", abbr).
		Int64("indexed", indexed).
		Int64("retired", retired).
		Msg("address details indexed")
	return nil
}
