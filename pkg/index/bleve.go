// ABOUTME: Bleve-backed Store implementation with a lowercase address analyzer
// ABOUTME: Documents carry a stored raw JSON field so reads skip reindexing

package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/pkg/address"
)

const (
	addressAnalyzer = "address"

	// Synonym entries live in their own collection inside the index and
	// expand query terms against the display fields.
	synonymSourceName = "abbreviations"
	synonymCollection = "abbreviations"
)

// indexDoc is the flat shape bleve actually indexes. The full document
// body rides along in raw, stored but not indexed, so reads and the raw
// search window never re-derive it from index terms.
type indexDoc struct {
	PID        string `json:"pid"`
	SLA        string `json:"sla"`
	SSLA       string `json:"ssla,omitempty"`
	Confidence int    `json:"confidence"`
	Raw        string `json:"raw"`
}

// BleveStore implements Store on a local bleve index.
type BleveStore struct {
	path string
	name string
	log  *logger.Logger

	mu  sync.RWMutex
	idx bleve.Index
}

// NewBleveStore creates a store over path/name. The index is not touched
// until EnsureIndex.
func NewBleveStore(path, name string, log *logger.Logger) *BleveStore {
	return &BleveStore{path: path, name: name, log: log.Component("index")}
}

func (s *BleveStore) dir() string {
	return filepath.Join(s.path, s.name)
}

// buildMapping defines the address index. The custom analyzer is a plain
// unicode tokenizer plus lowercasing with no stop-word filter: addresses
// like THE AVENUE or ST KILDA lose their meaning under English stop words.
func buildMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(addressAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicode.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("index: registering analyzer: %w", err)
	}
	err = im.AddSynonymSource(synonymSourceName, map[string]interface{}{
		"collection": synonymCollection,
		"analyzer":   addressAnalyzer,
	})
	if err != nil {
		return nil, fmt.Errorf("index: registering synonym source: %w", err)
	}

	sla := bleve.NewTextFieldMapping()
	sla.Analyzer = addressAnalyzer
	sla.SynonymSource = synonymSourceName
	sla.Store = false
	sla.IncludeTermVectors = false

	ssla := bleve.NewTextFieldMapping()
	ssla.Analyzer = addressAnalyzer
	ssla.SynonymSource = synonymSourceName
	ssla.Store = false
	ssla.IncludeTermVectors = false

	pid := bleve.NewKeywordFieldMapping()
	pid.Store = false
	pid.IncludeInAll = false

	confidence := bleve.NewNumericFieldMapping()
	confidence.Store = false
	confidence.IncludeInAll = false

	raw := bleve.NewTextFieldMapping()
	raw.Index = false
	raw.Store = true
	raw.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("sla", sla)
	doc.AddFieldMappingsAt("ssla", ssla)
	doc.AddFieldMappingsAt("pid", pid)
	doc.AddFieldMappingsAt("confidence", confidence)
	doc.AddFieldMappingsAt("raw", raw)

	im.DefaultMapping = doc
	im.DefaultAnalyzer = addressAnalyzer
	return im, nil
}

func (s *BleveStore) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		return nil
	}

	dir := s.dir()
	idx, err := bleve.Open(dir)
	switch {
	case err == nil:
		s.log.Info().Str("path", dir).Msg("opened existing index")
	case err == bleve.ErrorIndexPathDoesNotExist:
		im, merr := buildMapping()
		if merr != nil {
			return merr
		}
		idx, err = bleve.New(dir, im)
		if err != nil {
			return fmt.Errorf("index: creating %s: %w", dir, err)
		}
		s.log.Info().Str("path", dir).Msg("created index")
	default:
		return fmt.Errorf("index: opening %s: %w", dir, err)
	}

	s.idx = idx
	return nil
}

func (s *BleveStore) DeleteIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx != nil {
		if err := s.idx.Close(); err != nil {
			return fmt.Errorf("index: closing before delete: %w", err)
		}
		s.idx = nil
	}
	if err := os.RemoveAll(s.dir()); err != nil {
		return fmt.Errorf("index: removing %s: %w", s.dir(), err)
	}
	s.log.Info().Str("path", s.dir()).Msg("deleted index")
	return nil
}

func (s *BleveStore) open() (bleve.Index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.idx == nil {
		return nil, ErrNotReady
	}
	return s.idx, nil
}

func (s *BleveStore) Bulk(ctx context.Context, items []BulkItem) (*BulkResponse, error) {
	idx, err := s.open()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	batch := idx.NewBatch()
	for i := 0; i+1 < len(items); i += 2 {
		hdr, src := items[i], items[i+1]
		switch hdr.Action {
		case ActionIndex:
			if src.Doc == nil {
				return nil, fmt.Errorf("index: header %s has no source document", hdr.ID)
			}
			doc, derr := toIndexDoc(src.Doc)
			if derr != nil {
				return nil, derr
			}
			if berr := batch.Index(hdr.ID, doc); berr != nil {
				return nil, fmt.Errorf("index: batching %s: %w", hdr.ID, berr)
			}
		case ActionDelete:
			batch.Delete(hdr.ID)
		default:
			return nil, fmt.Errorf("index: unknown bulk action %q", hdr.Action)
		}
	}

	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("index: applying batch: %w", err)
	}
	return &BulkResponse{Took: time.Since(start)}, nil
}

// IndexSynonyms installs term equivalences in the synonym collection.
// Entries upsert by ID, so re-running an ingest refreshes them in place.
func (s *BleveStore) IndexSynonyms(ctx context.Context, entries []SynonymEntry) error {
	idx, err := s.open()
	if err != nil {
		return err
	}
	syn, ok := idx.(bleve.SynonymIndex)
	if !ok {
		return fmt.Errorf("index: engine build does not support synonyms")
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := e.ID
		if id == "" {
			id = fmt.Sprintf("synonym-%d", i)
		}
		def := &bleve.SynonymDefinition{Synonyms: e.Terms}
		if err := syn.IndexSynonym(id, synonymCollection, def); err != nil {
			return fmt.Errorf("index: indexing synonym %s: %w", id, err)
		}
	}
	return nil
}

func toIndexDoc(doc *address.Document) (*indexDoc, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("index: encoding %s: %w", doc.PID, err)
	}
	return &indexDoc{
		PID:        doc.PID,
		SLA:        doc.SLA,
		SSLA:       doc.SSLA,
		Confidence: doc.Confidence,
		Raw:        string(raw),
	}, nil
}

func (s *BleveStore) GetByID(ctx context.Context, id string) (*address.Document, error) {
	idx, err := s.open()
	if err != nil {
		return nil, err
	}

	q := query.NewDocIDQuery([]string{id})
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{"raw"}
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: fetching %s: %w", id, err)
	}
	if len(res.Hits) == 0 {
		return nil, ErrNotFound
	}
	return decodeRaw(res.Hits[0].Fields)
}

func decodeRaw(fields map[string]interface{}) (*address.Document, error) {
	raw, ok := fields["raw"].(string)
	if !ok {
		return nil, fmt.Errorf("index: stored document body missing")
	}
	var doc address.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("index: decoding stored document: %w", err)
	}
	return &doc, nil
}

// buildQuery shapes one autocomplete query over the display field. Two
// branches are ORed: a fuzzy all-terms match, and a bool-prefix
// conjunction that requires every leading token (with typo tolerance)
// and treats the final token as a prefix, since the user is usually
// mid-word on the last one.
func buildQuery(terms string) query.Query {
	match := bleve.NewMatchQuery(terms)
	match.SetField("sla")
	match.SetFuzziness(1)
	match.SetOperator(query.MatchQueryOperatorAnd)

	tokens := strings.Fields(strings.ToLower(terms))
	if len(tokens) == 0 {
		return match
	}

	boolPrefix := bleve.NewConjunctionQuery()
	for _, tok := range tokens[:len(tokens)-1] {
		mq := bleve.NewMatchQuery(tok)
		mq.SetField("sla")
		mq.SetFuzziness(1)
		boolPrefix.AddQuery(mq)
	}
	last := bleve.NewPrefixQuery(tokens[len(tokens)-1])
	last.SetField("sla")
	boolPrefix.AddQuery(last)

	return bleve.NewDisjunctionQuery(match, boolPrefix)
}

// Search runs one pre-ranked page of the autocomplete query, ordered
// score desc then confidence desc with pid as the stable tiebreak. The
// caller applies its own rescoring over the returned window.
func (s *BleveStore) Search(ctx context.Context, plan SearchPlan) (*SearchResult, error) {
	idx, err := s.open()
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(buildQuery(plan.Terms), plan.Size, plan.From, false)
	req.Fields = []string{"raw"}
	req.SortBy([]string{"-_score", "-confidence", "pid"})

	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("index: search %q: %w", plan.Terms, err)
	}

	out := &SearchResult{
		Total:    res.Total,
		MaxScore: res.MaxScore,
		Took:     res.Took,
		Hits:     make([]Hit, 0, len(res.Hits)),
	}
	for _, h := range res.Hits {
		doc, derr := decodeRaw(h.Fields)
		if derr != nil {
			return nil, derr
		}
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Doc: *doc})
	}
	return out, nil
}

func (s *BleveStore) DocCount(ctx context.Context) (uint64, error) {
	idx, err := s.open()
	if err != nil {
		return 0, err
	}
	return idx.DocCount()
}

func (s *BleveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx == nil {
		return nil
	}
	err := s.idx.Close()
	s.idx = nil
	return err
}
