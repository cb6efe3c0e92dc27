// ABOUTME: Engine-agnostic index store contract and bulk request shapes
// ABOUTME: Bulk bodies alternate action headers and document sources

// Package index stores address documents in a full-text index and pushes
// them in through a retrying bulk writer.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/nainya/addressd/pkg/address"
)

// Bulk item actions.
const (
	ActionIndex  = "index"
	ActionDelete = "delete"
)

var (
	// ErrNotFound is returned by GetByID for ids absent from the index.
	ErrNotFound = errors.New("index: document not found")
	// ErrNotReady is returned when the index has not been opened yet.
	ErrNotReady = errors.New("index: not ready")
)

// BulkItem is one line of a bulk request body: an action header or the
// document source that follows it. An upsert contributes two items, so
// the document count of a request is len(items)/2.
type BulkItem struct {
	Action string            // set on header items
	ID     string            // set on header items
	Doc    *address.Document // set on source items
}

// UpsertItems builds the header/source pair that indexes one document.
func UpsertItems(doc address.Document) []BulkItem {
	return []BulkItem{
		{Action: ActionIndex, ID: address.DocumentID(doc.PID)},
		{Doc: &doc},
	}
}

// SynonymEntry declares one equivalence class of terms the engine
// expands at query time, e.g. a street-type abbreviation and its full
// form.
type SynonymEntry struct {
	ID    string
	Terms []string
}

// BulkItemResult reports the outcome of one document in a bulk request.
type BulkItemResult struct {
	ID     string
	Status int
	Error  string
}

// BulkResponse is the per-request outcome of a bulk call. Errors is true
// when at least one item failed; failed items carry a non-empty Error.
type BulkResponse struct {
	Took   time.Duration
	Errors bool
	Items  []BulkItemResult
}

// SearchPlan describes one page of a ranked address search. Terms must
// already be normalized by the caller.
type SearchPlan struct {
	Terms string
	From  int
	Size  int
}

// Hit is one ranked search result.
type Hit struct {
	ID    string
	Score float64
	Doc   address.Document
}

// SearchResult is one page of hits plus the corpus-wide totals the
// caller needs for pagination and rank normalization.
type SearchResult struct {
	Total    uint64
	MaxScore float64
	Took     time.Duration
	Hits     []Hit
}

// Store is the persistence contract for address documents. The concrete
// engine lives behind it so ingestion and search logic never depend on a
// specific index library.
type Store interface {
	// EnsureIndex opens the index, creating it with the address mapping
	// when it does not exist yet.
	EnsureIndex(ctx context.Context) error

	// DeleteIndex closes and removes the index files.
	DeleteIndex(ctx context.Context) error

	// IndexSynonyms installs term equivalences used to expand queries.
	// Safe to call repeatedly; entries upsert by ID.
	IndexSynonyms(ctx context.Context, entries []SynonymEntry) error

	// Bulk applies one batch of alternating header/source items.
	Bulk(ctx context.Context, items []BulkItem) (*BulkResponse, error)

	// GetByID fetches one document by its store key.
	GetByID(ctx context.Context, id string) (*address.Document, error)

	// Search runs one ranked page over the display field.
	Search(ctx context.Context, plan SearchPlan) (*SearchResult, error)

	// DocCount reports the number of live documents.
	DocCount(ctx context.Context) (uint64, error)

	Close() error
}
