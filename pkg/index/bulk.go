// ABOUTME: Retrying bulk writer with linear backoff and memory-pressure gating
// ABOUTME: Whole batches retry; item failures surface as capped diagnostics

package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nainya/addressd/internal/logger"
	"github.com/nainya/addressd/internal/metrics"
	"github.com/nainya/addressd/pkg/resource"
)

// maxItemDiagnostics caps how many failed items one attempt logs.
const maxItemDiagnostics = 5

// IndexingError is the terminal failure of a bulk request after retries
// are exhausted or a non-retryable fault occurs. Attempts counts the
// retries that followed the initial attempt.
type IndexingError struct {
	Attempts      int
	DocumentCount int
	Cause         error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("index: bulk request of %d documents failed after %d attempts: %v",
		e.DocumentCount, e.Attempts, e.Cause)
}

func (e *IndexingError) Unwrap() error { return e.Cause }

// BulkConfig tunes the retry loop.
type BulkConfig struct {
	// BackoffIncrement is added to the delay after every failed attempt.
	BackoffIncrement time.Duration
	// BackoffMax caps the delay between attempts.
	BackoffMax time.Duration
	// MaxRetries bounds retries after the initial attempt; 0 means retry
	// until the context is cancelled.
	MaxRetries int
	// AttemptTimeout bounds one store call; 0 disables it. A timed-out
	// attempt is retried like any other transient failure.
	AttemptTimeout time.Duration
	// PressureWait bounds the pre-attempt wait for memory relief.
	PressureWait time.Duration
}

// BulkIndexer pushes document batches into a Store, retrying transient
// failures and pausing under memory pressure. Monitor and Metrics may be
// nil.
type BulkIndexer struct {
	store   Store
	monitor *resource.Monitor
	metrics *metrics.Metrics
	log     *logger.Logger
	cfg     BulkConfig
}

func NewBulkIndexer(store Store, monitor *resource.Monitor, m *metrics.Metrics, log *logger.Logger, cfg BulkConfig) *BulkIndexer {
	if cfg.PressureWait <= 0 {
		cfg.PressureWait = 30 * time.Second
	}
	return &BulkIndexer{
		store:   store,
		monitor: monitor,
		metrics: m,
		log:     log.Component("bulk"),
		cfg:     cfg,
	}
}

// SendIndexRequest applies one batch. An empty batch is a no-op. Failed
// attempts back off linearly from initialBackoff, growing by the
// configured increment up to the cap; the whole batch is resent on every
// retry since the store applies batches atomically.
func (b *BulkIndexer) SendIndexRequest(ctx context.Context, items []BulkItem, initialBackoff time.Duration) error {
	docCount := len(items) / 2
	if docCount == 0 {
		return nil
	}

	backoff := initialBackoff
	retries := 0
	for {
		if b.monitor != nil && b.monitor.MemoryPressure() {
			b.log.Warn().Int("docs", docCount).Msg("memory pressure before bulk attempt, waiting")
			b.monitor.WaitForRelief(ctx, b.cfg.PressureWait)
		}
		if err := ctx.Err(); err != nil {
			return &IndexingError{Attempts: retries, DocumentCount: docCount, Cause: err}
		}

		resp, err := b.attempt(ctx, items)
		if err == nil && (resp == nil || !resp.Errors) {
			if b.metrics != nil {
				b.metrics.RecordBulkBatch("success", docCount)
			}
			return nil
		}
		if err == nil {
			err = b.itemFailure(resp, docCount)
		}

		if perr := ctx.Err(); perr != nil {
			if b.metrics != nil {
				b.metrics.RecordBulkBatch("error", 0)
			}
			return &IndexingError{Attempts: retries, DocumentCount: docCount, Cause: perr}
		}
		if !retryable(err) {
			if b.metrics != nil {
				b.metrics.RecordBulkBatch("error", 0)
			}
			return &IndexingError{Attempts: retries, DocumentCount: docCount, Cause: err}
		}
		if b.cfg.MaxRetries > 0 && retries >= b.cfg.MaxRetries {
			if b.metrics != nil {
				b.metrics.RecordBulkBatch("error", 0)
			}
			return &IndexingError{Attempts: retries, DocumentCount: docCount, Cause: err}
		}

		retries++
		if b.metrics != nil {
			b.metrics.BulkRetriesTotal.Inc()
		}
		b.log.Warn().
			Err(err).
			Int("retry", retries).
			Dur("backoff", backoff).
			Int("docs", docCount).
			Msg("bulk attempt failed, retrying")

		select {
		case <-ctx.Done():
			return &IndexingError{Attempts: retries, DocumentCount: docCount, Cause: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff += b.cfg.BackoffIncrement
		if backoff > b.cfg.BackoffMax {
			backoff = b.cfg.BackoffMax
		}
	}
}

// itemFailure logs up to maxItemDiagnostics failed items and returns a
// summary error driving the retry of the whole batch.
func (b *BulkIndexer) itemFailure(resp *BulkResponse, docCount int) error {
	failed := 0
	for _, item := range resp.Items {
		if item.Error == "" {
			continue
		}
		failed++
		if failed <= maxItemDiagnostics {
			b.log.Warn().
				Str("id", item.ID).
				Int("status", item.Status).
				Str("error", item.Error).
				Msg("bulk item failed")
		}
	}
	if failed > maxItemDiagnostics {
		b.log.Warn().Int("suppressed", failed-maxItemDiagnostics).Msg("further item failures suppressed")
	}
	return fmt.Errorf("index: %d of %d documents rejected", failed, docCount)
}

// attempt runs one store call under the optional per-attempt timeout.
func (b *BulkIndexer) attempt(ctx context.Context, items []BulkItem) (*BulkResponse, error) {
	if b.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.AttemptTimeout)
		defer cancel()
	}
	return b.store.Bulk(ctx, items)
}

// retryable treats every fault as transient except cancellation; a
// deadline here is the per-attempt timeout, not the run's, so it retries
// like any other transient failure. Parent-context death is caught
// before classification.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}
