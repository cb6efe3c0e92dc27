// ABOUTME: Resumable HTTP download engine with retry, backoff, and guards
// ABOUTME: Validates range handling, byte overflow, and final file size

package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/nainya/addressd/internal/logger"
)

// Allowed overshoot past the expected size before the transfer is treated
// as corrupt: 1% plus fixed slack for trailing metadata.
const (
	overflowFraction = 0.01
	overflowSlack    = 64 << 10
)

// progress callbacks fire at most twice per second.
const progressHz = 2

// Progress reports transfer state to the caller.
type Progress struct {
	Bytes      int64
	Total      int64 // 0 when unknown
	BytesPerSec float64
	ETA        time.Duration
	Percent    float64
	Resumed    bool
}

// Options tunes a download.
type Options struct {
	MaxRetries     int           // retryable-failure budget per download (default 5)
	MaxRestarts    int           // full restart budget for discarded partials (default 3)
	InitialBackoff time.Duration // default 1s
	MaxBackoff     time.Duration // default 30s
	ConnectTimeout time.Duration // default 10s
	IdleTimeout    time.Duration // socket read stall bound, default 30s
	OnProgress     func(Progress)
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 5
	}
	if out.MaxRestarts <= 0 {
		out.MaxRestarts = 3
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = time.Second
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 30 * time.Second
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = 30 * time.Second
	}
	return out
}

// Engine performs downloads. Safe for concurrent use; each Download call is
// independent.
type Engine struct {
	client *http.Client
	log    *logger.Logger
}

// NewEngine creates an engine. client may be nil, in which case one with
// sensible transport defaults is built per call from the options.
func NewEngine(client *http.Client, log *logger.Logger) *Engine {
	return &Engine{
		client: client,
		log:    log.Component("download"),
	}
}

// attempt outcomes. Restart-from-zero is an explicit loop state, not an
// error thrown and caught.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeRestart
	outcomeRetry
	outcomeFatal
)

// Download fetches url into dest. expectedSize of 0 means unknown (disables
// resume, overflow, and final-size checks). On terminal failure the returned
// error is a *Error.
func (e *Engine) Download(ctx context.Context, url, dest string, expectedSize int64, opts *Options) error {
	o := opts.withDefaults()
	client := e.client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: o.ConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: o.ConnectTimeout,
			},
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &Error{Code: CodeNetwork, URL: url, Attempts: 0, cause: err}
	}

	attempts := 0
	restarts := 0
	backoff := o.InitialBackoff

	for {
		attempts++
		res, bytes, err := e.attempt(ctx, client, url, dest, expectedSize, o)

		switch res {
		case outcomeDone:
			return nil

		case outcomeRestart:
			restarts++
			e.log.Warn().
				Str("url", url).
				Int("restarts", restarts).
				Err(err).
				Msg("discarding partial file and restarting")
			if restarts > o.MaxRestarts {
				return &Error{
					Code:     CodeTooManyRestarts,
					URL:      url,
					Attempts: attempts,
					Bytes:    bytes,
					cause:    err,
				}
			}
			continue

		case outcomeRetry:
			if attempts > o.MaxRetries {
				return &Error{
					Code:      codeFor(err),
					URL:       url,
					Attempts:  attempts,
					Retryable: true,
					Bytes:     bytes,
					cause:     err,
				}
			}
			delay := jitter(backoff)
			e.log.Warn().
				Str("url", url).
				Int("attempt", attempts).
				Dur("backoff", delay).
				Err(err).
				Msg("retrying download")
			select {
			case <-ctx.Done():
				return &Error{Code: CodeNetwork, URL: url, Attempts: attempts, Bytes: bytes, cause: ctx.Err()}
			case <-time.After(delay):
			}
			backoff *= 2
			if backoff > o.MaxBackoff {
				backoff = o.MaxBackoff
			}
			continue

		default: // outcomeFatal
			var de *Error
			if errors.As(err, &de) {
				de.Attempts = attempts
				return de
			}
			return &Error{Code: CodeHTTPStatus, URL: url, Attempts: attempts, Bytes: bytes, cause: err}
		}
	}
}

// attempt performs one transfer try and classifies the result.
func (e *Engine) attempt(ctx context.Context, client *http.Client, url, dest string, expectedSize int64, o Options) (outcome, int64, error) {
	var resumeFrom int64
	if fi, err := os.Stat(dest); err == nil {
		switch {
		case expectedSize > 0 && fi.Size() >= expectedSize:
			// A partial at or beyond the expected size is corrupt;
			// never append to it.
			if err := os.Remove(dest); err != nil {
				return outcomeFatal, 0, err
			}
		case fi.Size() > 0:
			resumeFrom = fi.Size()
		}
	}

	// Per-attempt context so the idle watchdog can abort a stalled body
	// read without touching the caller's context.
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return outcomeFatal, 0, err
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := client.Do(req)
	if err != nil {
		if isRetryableNetErr(err) {
			return outcomeRetry, resumeFrom, err
		}
		return outcomeFatal, resumeFrom, err
	}
	defer resp.Body.Close()

	appending := false
	switch {
	case resumeFrom > 0 && resp.StatusCode == http.StatusPartialContent:
		appending = true

	case resumeFrom > 0 && resp.StatusCode == http.StatusOK:
		// Server ignored the range request; the partial is useless.
		if err := os.Remove(dest); err != nil {
			return outcomeFatal, 0, err
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		if resumeFrom > 0 {
			if err := os.Remove(dest); err != nil {
				return outcomeFatal, 0, err
			}
		}
		return outcomeRestart, 0, fmt.Errorf("server rejected range from byte %d", resumeFrom)

	case resp.StatusCode == http.StatusOK:

	case isRetryableStatus(resp.StatusCode):
		return outcomeRetry, resumeFrom, &statusError{code: resp.StatusCode}

	default:
		return outcomeFatal, resumeFrom, &statusError{code: resp.StatusCode}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		resumeFrom = 0
	}
	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return outcomeFatal, resumeFrom, err
	}

	written, err := e.copyBody(cancel, f, resp.Body, url, resumeFrom, expectedSize, appending, o)
	closeErr := f.Close()
	total := resumeFrom + written

	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			// Overflow guard tripped: the file is poisoned.
			_ = os.Remove(dest)
			return outcomeFatal, total, err
		}
		if isRetryableNetErr(err) || errors.Is(err, errIdleTimeout) {
			return outcomeRetry, total, err
		}
		return outcomeFatal, total, err
	}
	if closeErr != nil {
		return outcomeFatal, total, closeErr
	}

	if expectedSize > 0 && total != expectedSize {
		_ = os.Remove(dest)
		return outcomeFatal, total, &Error{
			Code:  CodeSizeMismatch,
			URL:   url,
			Bytes: total,
			cause: fmt.Errorf("got %d bytes, expected %d", total, expectedSize),
		}
	}
	return outcomeDone, total, nil
}

// errIdleTimeout marks a read that stalled past the idle bound.
var errIdleTimeout = errors.New("download: socket idle timeout")

// copyBody streams the response into w with the overflow guard, idle
// watchdog, and throttled progress reporting. abort cancels the attempt's
// request context, unblocking a stalled Read.
func (e *Engine) copyBody(abort context.CancelFunc, w io.Writer, body io.Reader, url string, already, expectedSize int64, resumed bool, o Options) (int64, error) {
	limit := int64(-1)
	if expectedSize > 0 {
		limit = expectedSize + int64(float64(expectedSize)*overflowFraction) + overflowSlack
	}

	limiter := rate.NewLimiter(progressHz, 1)
	start := time.Now()
	var written int64
	buf := make([]byte, 256<<10)

	// Watchdog: if no read completes within the idle timeout, cancel the
	// attempt context so the transport unblocks the stalled Read.
	stalled := make(chan struct{})
	watchdog := time.AfterFunc(o.IdleTimeout, func() {
		close(stalled)
		abort()
	})
	defer watchdog.Stop()

	for {
		n, err := body.Read(buf)
		if n > 0 {
			watchdog.Reset(o.IdleTimeout)
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += n64(n)

			if limit > 0 && already+written > limit {
				return written, &Error{
					Code:  CodeDataOverflow,
					URL:   url,
					Bytes: already + written,
					cause: fmt.Errorf("received %d bytes, limit %d", already+written, limit),
				}
			}

			if o.OnProgress != nil && limiter.Allow() {
				o.OnProgress(makeProgress(already, written, expectedSize, start, resumed))
			}
		}
		if err == io.EOF {
			if o.OnProgress != nil {
				o.OnProgress(makeProgress(already, written, expectedSize, start, resumed))
			}
			return written, nil
		}
		if err != nil {
			select {
			case <-stalled:
				return written, errIdleTimeout
			default:
			}
			return written, err
		}
	}
}

func makeProgress(already, written, expectedSize int64, start time.Time, resumed bool) Progress {
	p := Progress{
		Bytes:   already + written,
		Total:   expectedSize,
		Resumed: resumed,
	}
	elapsed := time.Since(start).Seconds()
	if elapsed > 0 {
		p.BytesPerSec = float64(written) / elapsed
	}
	if expectedSize > 0 {
		p.Percent = 100 * float64(p.Bytes) / float64(expectedSize)
		if p.BytesPerSec > 0 {
			remaining := float64(expectedSize-p.Bytes) / p.BytesPerSec
			if remaining > 0 {
				p.ETA = time.Duration(remaining * float64(time.Second))
			}
		}
	}
	return p
}

func n64(n int) int64 { return int64(n) }

// jitter applies ±25% to d.
func jitter(d time.Duration) time.Duration {
	f := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * f)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableNetErr(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// net/http wraps transport errors in *url.Error; unwrap handled by
	// errors.As above. Connection drops mid-body often surface as plain
	// EOF from the chunked reader.
	return errors.Is(err, io.EOF)
}

// statusError carries an HTTP status through retry classification.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http status %d", e.code)
}

func codeFor(err error) ErrorCode {
	var se *statusError
	if errors.As(err, &se) {
		return CodeHTTPStatus
	}
	return CodeNetwork
}
