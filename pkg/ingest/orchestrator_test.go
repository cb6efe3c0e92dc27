// ABOUTME: Loader tests over fixture files: authority enforcement, state
// ABOUTME: streaming with retired-row skips, and chunk pacing

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/pkg/address"
	"github.com/nainya/addressd/pkg/gnaf"
	"github.com/nainya/addressd/pkg/index"
)

// recordingStore captures bulk batches and synonym entries for assertions.
type recordingStore struct {
	batches  [][]index.BulkItem
	synonyms []index.SynonymEntry
}

func (s *recordingStore) Bulk(ctx context.Context, items []index.BulkItem) (*index.BulkResponse, error) {
	cp := make([]index.BulkItem, len(items))
	copy(cp, items)
	s.batches = append(s.batches, cp)
	return &index.BulkResponse{}, nil
}

func (s *recordingStore) docs() []address.Document {
	var out []address.Document
	for _, b := range s.batches {
		for _, item := range b {
			if item.Doc != nil {
				out = append(out, *item.Doc)
			}
		}
	}
	return out
}

func (s *recordingStore) EnsureIndex(context.Context) error { return nil }
func (s *recordingStore) DeleteIndex(context.Context) error { return nil }
func (s *recordingStore) GetByID(context.Context, string) (*address.Document, error) {
	return nil, index.ErrNotFound
}
func (s *recordingStore) Search(context.Context, index.SearchPlan) (*index.SearchResult, error) {
	return &index.SearchResult{}, nil
}
func (s *recordingStore) IndexSynonyms(ctx context.Context, entries []index.SynonymEntry) error {
	s.synonyms = append(s.synonyms, entries...)
	return nil
}
func (s *recordingStore) DocCount(context.Context) (uint64, error) { return 0, nil }
func (s *recordingStore) Close() error                             { return nil }

func writeFixture(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("fixture %s: %v", name, err)
	}
}

func fixtureState(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "VIC_STREET_LOCALITY_psv.psv",
		"STREET_LOCALITY_PID|STREET_NAME|STREET_TYPE_CODE",
		"SL1|SMITH|ST",
	)
	writeFixture(t, dir, "VIC_LOCALITY_psv.psv",
		"LOCALITY_PID|LOCALITY_NAME",
		"LOC1|FITZROY",
	)
	writeFixture(t, dir, "VIC_ADDRESS_DETAIL_psv.psv",
		"ADDRESS_DETAIL_PID|DATE_RETIRED|NUMBER_FIRST|STREET_LOCALITY_PID|LOCALITY_PID|POSTCODE|CONFIDENCE|ADDRESS_SITE_PID",
		"GAVIC1||10|SL1|LOC1|3065|2|SITE1",
		"GAVIC2|2020-01-01|12|SL1|LOC1|3065|2|SITE2",
		"GAVIC3||14|SL1|LOC1|3065|2|SITE3",
	)
	return dir
}

func fixtureAuthority(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFixture(t, dir, "Authority_Code_STREET_TYPE_AUT_psv.psv",
		"CODE|NAME|DESCRIPTION",
		"ST|STREET|STREET",
		"RD|ROAD|ROAD",
	)
	return dir
}

func newTestOrchestrator(cfg Config, store index.Store) *Orchestrator {
	bulk := index.NewBulkIndexer(store, nil, nil, logger.Nop(), index.BulkConfig{MaxRetries: 1})
	return NewOrchestrator(cfg, store, bulk, nil, nil, logger.Nop())
}

func TestLoadAuthorityCodes(t *testing.T) {
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)
	jctx := gnaf.NewJoinContext()

	if err := o.loadAuthorityCodes(fixtureAuthority(t), jctx); err != nil {
		t.Fatalf("loadAuthorityCodes: %v", err)
	}
	name, ok := jctx.Decode(gnaf.TableStreetType, "ST")
	if !ok || name != "STREET" {
		t.Fatalf("decode ST = %q, %v", name, ok)
	}
}

func TestLoadAuthorityCodesCountMismatchFatal(t *testing.T) {
	dir := t.TempDir()
	// Trailing blank lines inflate the newline count past the parsed rows.
	writeFixture(t, dir, "Authority_Code_STREET_TYPE_AUT_psv.psv",
		"CODE|NAME",
		"ST|STREET",
		"",
	)

	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)
	if err := o.loadAuthorityCodes(dir, gnaf.NewJoinContext()); err == nil {
		t.Fatalf("expected fatal count mismatch")
	}
}

func TestLoadAuthorityCodesEmptyDirFatal(t *testing.T) {
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)
	if err := o.loadAuthorityCodes(t.TempDir(), gnaf.NewJoinContext()); err == nil {
		t.Fatalf("expected failure with no authority tables")
	}
}

func TestIndexSynonymsFromStreetTypes(t *testing.T) {
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)
	jctx := gnaf.NewJoinContext()

	if err := o.loadAuthorityCodes(fixtureAuthority(t), jctx); err != nil {
		t.Fatalf("loadAuthorityCodes: %v", err)
	}
	if err := o.indexSynonyms(context.Background(), jctx); err != nil {
		t.Fatalf("indexSynonyms: %v", err)
	}

	if len(store.synonyms) != 2 {
		t.Fatalf("synonyms = %d, want 2", len(store.synonyms))
	}
	first := store.synonyms[0]
	if first.ID != "street-type-rd" {
		t.Fatalf("first id = %q, want street-type-rd", first.ID)
	}
	if len(first.Terms) != 2 || first.Terms[0] != "RD" || first.Terms[1] != "ROAD" {
		t.Fatalf("terms = %v", first.Terms)
	}
}

func TestIndexSynonymsSkipsEmptyTable(t *testing.T) {
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)

	if err := o.indexSynonyms(context.Background(), gnaf.NewJoinContext()); err != nil {
		t.Fatalf("indexSynonyms: %v", err)
	}
	if len(store.synonyms) != 0 {
		t.Fatalf("store touched with no street type table")
	}
}

func TestLoadStateStreamsAndSkipsRetired(t *testing.T) {
	dir := fixtureState(t)
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"VIC"}}, store)

	jctx := gnaf.NewJoinContext()
	if err := o.loadAuthorityCodes(fixtureAuthority(t), jctx); err != nil {
		t.Fatalf("loadAuthorityCodes: %v", err)
	}
	if err := o.loadState(context.Background(), jctx, dir, "VIC"); err != nil {
		t.Fatalf("loadState: %v", err)
	}

	docs := store.docs()
	if len(docs) != 2 {
		t.Fatalf("indexed %d docs, want 2 (retired row skipped)", len(docs))
	}
	for _, d := range docs {
		if d.PID == "GAVIC2" {
			t.Fatalf("retired row indexed")
		}
		if !strings.Contains(d.SLA, "SMITH STREET, FITZROY VIC 3065") {
			t.Fatalf("sla = %q, joins not applied", d.SLA)
		}
		if d.DocumentHash == "" {
			t.Fatalf("document %s has no hash", d.PID)
		}
	}
}

func TestLoadStateMissingFromDistribution(t *testing.T) {
	store := &recordingStore{}
	o := newTestOrchestrator(Config{States: []string{"QLD"}}, store)

	// No files at all for QLD: skip, don't fail.
	if err := o.loadState(context.Background(), gnaf.NewJoinContext(), t.TempDir(), "QLD"); err != nil {
		t.Fatalf("loadState: %v", err)
	}
	if len(store.batches) != 0 {
		t.Fatalf("store touched for a missing state")
	}
}

func TestStreamDetailsChunkPacing(t *testing.T) {
	dir := fixtureState(t)
	store := &recordingStore{}
	// A one-byte chunk budget forces one row per chunk, so each live row
	// arrives in its own bulk batch.
	o := newTestOrchestrator(Config{States: []string{"VIC"}, ChunkBytes: 1}, store)

	jctx := gnaf.NewJoinContext()
	if err := o.loadAuthorityCodes(fixtureAuthority(t), jctx); err != nil {
		t.Fatalf("loadAuthorityCodes: %v", err)
	}
	if err := o.loadState(context.Background(), jctx, dir, "VIC"); err != nil {
		t.Fatalf("loadState: %v", err)
	}

	if len(store.batches) != 2 {
		t.Fatalf("batches = %d, want 2 single-row batches", len(store.batches))
	}
}

func TestLocateDataDirs(t *testing.T) {
	root := t.TempDir()
	standard := filepath.Join(root, "G-NAF", "G-NAF AUGUST 2026", "Standard")
	authority := filepath.Join(root, "G-NAF", "G-NAF AUGUST 2026", "Authority Code")
	for _, d := range []string{standard, authority} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	s, a, err := locateDataDirs(root)
	if err != nil {
		t.Fatalf("locateDataDirs: %v", err)
	}
	if s != standard || a != authority {
		t.Fatalf("found %q / %q", s, a)
	}

	if _, _, err := locateDataDirs(t.TempDir()); err == nil {
		t.Fatalf("expected failure on an empty tree")
	}
}

func TestArchiveFilename(t *testing.T) {
	cases := map[string]string{
		"https://example.com/data/g-naf_aug26.zip": "g-naf_aug26.zip",
		"https://example.com/":                     "gnaf.zip",
	}
	for in, want := range cases {
		if got := archiveFilename(&Manifest{URL: in}); got != want {
			t.Fatalf("archiveFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
