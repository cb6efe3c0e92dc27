// ABOUTME: HTTP API tests over httptest: discovery links, search pages
// ABOUTME: with pagination rels, conditional reads, and the error taxonomy

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/pkg/address"
	"github.com/nainya/addressd/pkg/breaker"
	"github.com/nainya/addressd/pkg/index"
	"github.com/nainya/addressd/pkg/search"
)

// memStore is an in-memory index.Store for handler tests.
type memStore struct {
	docs map[string]address.Document
	err  error
}

func (m *memStore) EnsureIndex(context.Context) error { return nil }
func (m *memStore) DeleteIndex(context.Context) error { return nil }
func (m *memStore) Bulk(context.Context, []index.BulkItem) (*index.BulkResponse, error) {
	return &index.BulkResponse{}, nil
}
func (m *memStore) GetByID(ctx context.Context, id string) (*address.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, index.ErrNotFound
	}
	return &d, nil
}
func (m *memStore) Search(ctx context.Context, plan index.SearchPlan) (*index.SearchResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	res := &index.SearchResult{}
	for id, d := range m.docs {
		if strings.Contains(strings.ToLower(d.SLA), plan.Terms) {
			res.Hits = append(res.Hits, index.Hit{ID: id, Score: 1, Doc: d})
			res.Total++
		}
	}
	return res, nil
}
func (m *memStore) IndexSynonyms(context.Context, []index.SynonymEntry) error { return nil }
func (m *memStore) DocCount(context.Context) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return uint64(len(m.docs)), nil
}
func (m *memStore) Close() error { return nil }

func storeWith(docs ...address.Document) *memStore {
	s := &memStore{docs: map[string]address.Document{}}
	for _, d := range docs {
		s.docs[address.DocumentID(d.PID)] = d
	}
	return s
}

func doc(pid, sla string) address.Document {
	d := address.Details{PID: pid, SLA: sla}
	return d.ToDocument()
}

func newTestServer(store index.Store, b *breaker.Breaker) *Server {
	svc := search.NewService(store, nil, b, nil, logger.Nop(), search.Config{PageSize: 2, MaxPageSize: 20})
	return New(Config{Port: 0, PageSize: 2}, svc, store, nil, logger.Nop())
}

func get(t *testing.T, s *Server, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestRootDiscovery(t *testing.T) {
	s := newTestServer(storeWith(), nil)
	w := get(t, s, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body struct {
		Links map[string]struct {
			Href      string `json:"href"`
			Templated bool   `json:"templated"`
		} `json:"links"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l := body.Links["addresses"]; l.Href != "/addresses{?q,p}" || !l.Templated {
		t.Fatalf("addresses link = %+v", l)
	}
	if l := body.Links["self"]; l.Href != "/" || l.Templated {
		t.Fatalf("self link = %+v", l)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(storeWith(
		doc("GAVIC1", "10 SMITH STREET, FITZROY VIC 3065"),
		doc("GAVIC2", "12 SMITH STREET, FITZROY VIC 3065"),
		doc("GAVIC3", "14 SMITH STREET, FITZROY VIC 3065"),
	), nil)

	w := get(t, s, "/addresses?q=smith", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var body []struct {
		SLA   string  `json:"sla"`
		Rank  float64 `json:"rank"`
		Links map[string]struct {
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("page size = %d, want 2", len(body))
	}
	if body[0].Rank != 1.0 {
		t.Fatalf("top rank = %v", body[0].Rank)
	}
	if !strings.HasPrefix(body[0].Links["self"].Href, "/addresses/GAVIC") {
		t.Fatalf("self link = %q", body[0].Links["self"].Href)
	}
	if got := w.Header().Get("X-Total-Count"); got != "3" {
		t.Fatalf("X-Total-Count = %q", got)
	}

	links := strings.Join(w.Header().Values("Link"), ", ")
	for _, rel := range []string{`rel="self"`, `rel="first"`, `rel="next"`, `rel="last"`} {
		if !strings.Contains(links, rel) {
			t.Fatalf("Link headers missing %s: %s", rel, links)
		}
	}
	if strings.Contains(links, `rel="prev"`) {
		t.Fatalf("page 1 must not have prev: %s", links)
	}
}

func TestSearchSecondPageHasPrev(t *testing.T) {
	s := newTestServer(storeWith(
		doc("GAVIC1", "10 SMITH STREET, FITZROY VIC 3065"),
		doc("GAVIC2", "12 SMITH STREET, FITZROY VIC 3065"),
		doc("GAVIC3", "14 SMITH STREET, FITZROY VIC 3065"),
	), nil)

	w := get(t, s, "/addresses?q=smith&p=2", nil)
	links := strings.Join(w.Header().Values("Link"), ", ")
	if !strings.Contains(links, `rel="prev"`) {
		t.Fatalf("page 2 missing prev: %s", links)
	}
	if strings.Contains(links, `rel="next"`) {
		t.Fatalf("last page must not have next: %s", links)
	}
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	s := newTestServer(storeWith(), nil)
	for _, q := range []string{"", "%20%20"} {
		w := get(t, s, "/addresses?q="+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("q=%q status = %d, want 400", q, w.Code)
		}
		var ed struct {
			Status int    `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &ed); err != nil {
			t.Fatalf("error document malformed: %v", err)
		}
		if ed.Status != http.StatusBadRequest || ed.Error == "" {
			t.Fatalf("error document = %+v", ed)
		}
	}
}

func TestAddressEndpoint(t *testing.T) {
	d := doc("GAVIC1", "10 SMITH STREET, FITZROY VIC 3065")
	s := newTestServer(storeWith(d), nil)

	w := get(t, s, "/addresses/GAVIC1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	etag := w.Header().Get("ETag")
	if etag != `"`+d.DocumentHash+`"` {
		t.Fatalf("etag = %q", etag)
	}

	var got address.Document
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PID != "GAVIC1" || got.SLA != d.SLA {
		t.Fatalf("body = %+v", got)
	}

	// Conditional re-read.
	w = get(t, s, "/addresses/GAVIC1", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("conditional status = %d, want 304", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("304 carried a body")
	}

	// Stale tag still serves the full document.
	w = get(t, s, "/addresses/GAVIC1", map[string]string{"If-None-Match": `"stale"`})
	if w.Code != http.StatusOK {
		t.Fatalf("stale-tag status = %d, want 200", w.Code)
	}
}

func TestAddressNotFound(t *testing.T) {
	s := newTestServer(storeWith(), nil)
	w := get(t, s, "/addresses/NOPE", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSearchOpenCircuit(t *testing.T) {
	store := &memStore{err: errors.New("index down")}
	b := breaker.New("search", breaker.Config{FailureThreshold: 1}, logger.Nop())
	s := newTestServer(store, b)

	// Trip the breaker.
	if w := get(t, s, "/addresses?q=smith", nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("tripping status = %d", w.Code)
	}

	w := get(t, s, "/addresses?q=smith", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("503 missing Retry-After")
	}
}

func TestSearchIndexNotReady(t *testing.T) {
	store := &memStore{err: index.ErrNotReady}
	s := newTestServer(store, nil)
	w := get(t, s, "/addresses?q=smith", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestObservabilityEndpoints(t *testing.T) {
	o := NewObservabilityServer(0, nil, storeWith(), logger.Nop())

	for path, want := range map[string]int{
		"/health":  http.StatusOK,
		"/ready":   http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		o.Handler().ServeHTTP(w, req)
		if w.Code != want {
			t.Fatalf("%s status = %d, want %d", path, w.Code, want)
		}
	}

	// A store that cannot report a doc count is not ready.
	broken := &memStore{err: index.ErrNotReady}
	o = NewObservabilityServer(0, nil, broken, logger.Nop())
	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	o.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", w.Code)
	}
}
