// ABOUTME: Search service over the address index: normalization, pagination,
// ABOUTME: result cache, circuit breaker, and proximity rescoring

// Package search serves ranked address queries. The index provides a
// pre-ranked candidate window; this package re-scores it by how closely
// each address's length matches the query, caches pages, and sheds load
// through a circuit breaker when the index misbehaves.
package search

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/internal/metrics"
	"github.com/nainya/addressd/pkg/address"
	"github.com/nainya/addressd/pkg/breaker"
	"github.com/nainya/addressd/pkg/cache"
	"github.com/nainya/addressd/pkg/index"
)

// ErrEmptyQuery is returned when the query normalizes to nothing.
var ErrEmptyQuery = errors.New("search: empty query")

// Config tunes ranking and pagination. Zero values take the defaults.
type Config struct {
	// PageSize is the default page size. Default 8.
	PageSize int
	// MaxPageSize caps a requested page size. Default 20.
	MaxPageSize int
	// MaxPageNumber caps how deep pagination may go. Default 1000.
	MaxPageNumber int
	// RescoreDepth caps the candidate window fetched for rescoring.
	// Default 200.
	RescoreDepth int
	// LengthDecay controls how fast excess address length discounts the
	// engine score. Default 0.05.
	LengthDecay float64
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PageSize <= 0 {
		out.PageSize = 8
	}
	if out.MaxPageSize <= 0 {
		out.MaxPageSize = 20
	}
	if out.MaxPageNumber <= 0 {
		out.MaxPageNumber = 1000
	}
	if out.RescoreDepth <= 0 {
		out.RescoreDepth = 200
	}
	if out.LengthDecay <= 0 {
		out.LengthDecay = 0.05
	}
	return out
}

// Hit is one ranked address. Rank is the score normalized to [0,1]
// against the best hit of the query.
type Hit struct {
	Rank  float64
	Score float64
	Doc   address.Document
}

// Result is one page of a query.
type Result struct {
	Query    string
	Page     int
	PageSize int
	Total    uint64
	Hits     []Hit
}

// Service is safe for concurrent use. Cache, breaker, and metrics may be
// nil, disabling the respective concern.
type Service struct {
	store   index.Store
	cache   *cache.Cache[*Result]
	breaker *breaker.Breaker
	metrics *metrics.Metrics
	log     *logger.Logger
	cfg     Config

	statsMu      sync.Mutex
	lastLRUEvict uint64
	lastTTLEvict uint64
}

func NewService(store index.Store, c *cache.Cache[*Result], b *breaker.Breaker, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	return &Service{
		store:   store,
		cache:   c,
		breaker: b,
		metrics: m,
		log:     log.Component("search"),
		cfg:     cfg.withDefaults(),
	}
}

// Normalize lowercases a query and collapses runs of whitespace, so
// equivalent spellings rank and cache identically.
func Normalize(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// Search runs one page of an address query. Page and size are clamped
// into their valid ranges rather than rejected.
func (s *Service) Search(ctx context.Context, query string, page, size int) (*Result, error) {
	q := Normalize(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}

	if page < 1 {
		page = 1
	}
	if page > s.cfg.MaxPageNumber {
		page = s.cfg.MaxPageNumber
	}
	if size < 1 {
		size = s.cfg.PageSize
	}
	if size > s.cfg.MaxPageSize {
		size = s.cfg.MaxPageSize
	}

	key := cache.Key(q, page, size)
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.Inc()
				s.metrics.SearchQueriesTotal.WithLabelValues("cache").Inc()
			}
			s.publishCacheStats()
			return res, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.Inc()
		}
	}

	start := time.Now()
	raw, err := s.query(ctx, q, page, size)
	if err != nil {
		return nil, err
	}

	res := s.rank(q, page, size, raw)
	if s.cache != nil {
		s.cache.Set(key, res)
	}
	s.publishCacheStats()
	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues("index").Inc()
		s.metrics.SearchQueryDuration.Observe(time.Since(start).Seconds())
		s.metrics.SearchResultsTotal.Add(float64(len(res.Hits)))
	}
	s.log.Debug().
		Str("query", q).
		Int("page", page).
		Uint64("total", res.Total).
		Dur("took", time.Since(start)).
		Msg("search")
	return res, nil
}

// publishCacheStats mirrors the cache's counters into the gauges and
// eviction counters. The cache keeps absolute totals, so deltas since
// the last publish are what the counters take.
func (s *Service) publishCacheStats() {
	if s.cache == nil || s.metrics == nil {
		return
	}
	st := s.cache.Stats()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.metrics.CacheEntries.Set(float64(st.Entries))
	if d := st.Evictions - s.lastLRUEvict; d > 0 {
		s.metrics.CacheEvictionsTotal.WithLabelValues("lru").Add(float64(d))
		s.lastLRUEvict = st.Evictions
	}
	if d := st.TTLEvictions - s.lastTTLEvict; d > 0 {
		s.metrics.CacheEvictionsTotal.WithLabelValues("ttl").Add(float64(d))
		s.lastTTLEvict = st.TTLEvictions
	}
}

// query fetches the rescoring window through the breaker. The window
// spans the whole requested page depth, capped at RescoreDepth so deep
// pages stop growing the fetch.
func (s *Service) query(ctx context.Context, q string, page, size int) (*index.SearchResult, error) {
	window := page * size
	if window > s.cfg.RescoreDepth {
		window = s.cfg.RescoreDepth
	}
	plan := index.SearchPlan{Terms: q, From: 0, Size: window}

	if s.breaker == nil {
		return s.store.Search(ctx, plan)
	}

	var raw *index.SearchResult
	err := s.breaker.Execute(func() error {
		var serr error
		raw, serr = s.store.Search(ctx, plan)
		return serr
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// rank rescores the candidate window by length proximity, re-sorts, and
// slices out the requested page with [0,1] normalized ranks.
func (s *Service) rank(q string, page, size int, raw *index.SearchResult) *Result {
	hits := make([]Hit, 0, len(raw.Hits))
	for _, h := range raw.Hits {
		hits = append(hits, Hit{Score: rescore(h.Score, h.Doc.SLA, q, s.cfg.LengthDecay), Doc: h.Doc})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Doc.Confidence != b.Doc.Confidence {
			return a.Doc.Confidence > b.Doc.Confidence
		}
		if a.Doc.SLA != b.Doc.SLA {
			return a.Doc.SLA < b.Doc.SLA
		}
		return a.Doc.PID < b.Doc.PID
	})

	var top float64
	if len(hits) > 0 {
		top = hits[0].Score
	}
	for i := range hits {
		if top > 0 {
			hits[i].Rank = hits[i].Score / top
		}
	}

	from := (page - 1) * size
	if from > len(hits) {
		from = len(hits)
	}
	to := from + size
	if to > len(hits) {
		to = len(hits)
	}

	return &Result{
		Query:    q,
		Page:     page,
		PageSize: size,
		Total:    raw.Total,
		Hits:     hits[from:to],
	}
}

// rescore discounts the engine score by how much longer the address is
// than the query: among equal matches, "10 SMITH ST" should beat
// "10 SMITH STREET EXTENSION" for the query "10 smith".
func rescore(score float64, sla, q string, decay float64) float64 {
	excess := len(sla) - len(q)
	if excess < 0 {
		excess = 0
	}
	return score / (1 + float64(excess)*decay)
}

// Lookup fetches one address by its PID. index.ErrNotFound passes
// through for the caller's status mapping; not-found is a normal outcome
// and never trips the breaker.
func (s *Service) Lookup(ctx context.Context, pid string) (*address.Document, error) {
	id := address.DocumentID(pid)
	if s.breaker == nil {
		return s.store.GetByID(ctx, id)
	}

	if err := s.breaker.CanExecute(); err != nil {
		return nil, err
	}
	doc, err := s.store.GetByID(ctx, id)
	switch {
	case err == nil, errors.Is(err, index.ErrNotFound):
		s.breaker.RecordSuccess()
	default:
		s.breaker.RecordFailure()
	}
	return doc, err
}
