// ABOUTME: Dataset manifest resolution against the data.gov.au CKAN API
// ABOUTME: Responses cache on disk with age-tiered stale fallback

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nainya/addressd/internal/logger"
)

const (
	manifestFile = "package-manifest.json"

	// A cached manifest younger than this is used without a fetch; one
	// older than staleLimit is never trusted as a fallback.
	manifestFresh = 24 * time.Hour
	staleLimit    = 30 * 24 * time.Hour
)

// Manifest identifies the current distribution archive.
type Manifest struct {
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	Name      string    `json:"name"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ManifestClient resolves the dataset package document, caching it under
// the ingest cache directory so repeated loads survive registry outages.
type ManifestClient struct {
	client   *http.Client
	cacheDir string
	log      *logger.Logger
	now      func() time.Time
}

func NewManifestClient(client *http.Client, cacheDir string, log *logger.Logger) *ManifestClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ManifestClient{
		client:   client,
		cacheDir: cacheDir,
		log:      log.Component("manifest"),
		now:      time.Now,
	}
}

// Resolve returns the archive manifest for packageURL. A cached copy
// younger than a day is served directly. On fetch failure a copy up to
// thirty days old still serves, with a warning; older than that the
// failure is terminal.
func (c *ManifestClient) Resolve(ctx context.Context, packageURL string) (*Manifest, error) {
	cached, age := c.cached()
	if cached != nil && age < manifestFresh {
		c.log.Debug().Dur("age", age).Msg("using cached manifest")
		return cached, nil
	}

	m, err := c.fetch(ctx, packageURL)
	if err == nil {
		c.store(m)
		return m, nil
	}

	if cached != nil && age < staleLimit {
		c.log.Warn().
			Err(err).
			Dur("age", age).
			Msg("manifest fetch failed, falling back to stale cache")
		return cached, nil
	}
	return nil, fmt.Errorf("ingest: resolving package manifest: %w", err)
}

func (c *ManifestClient) cachePath() string {
	return filepath.Join(c.cacheDir, manifestFile)
}

func (c *ManifestClient) cached() (*Manifest, time.Duration) {
	data, err := os.ReadFile(c.cachePath())
	if err != nil {
		return nil, 0
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil || m.URL == "" {
		return nil, 0
	}
	return &m, c.now().Sub(m.FetchedAt)
}

func (c *ManifestClient) store(m *Manifest) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		c.log.Warn().Err(err).Msg("cannot create manifest cache dir")
		return
	}
	if err := os.WriteFile(c.cachePath(), data, 0o644); err != nil {
		c.log.Warn().Err(err).Msg("cannot cache manifest")
	}
}

// ckanPackage is the slice of the CKAN package_show response we consume.
type ckanPackage struct {
	Success bool `json:"success"`
	Result  struct {
		Resources []struct {
			URL    string `json:"url"`
			Size   int64  `json:"size"`
			Format string `json:"format"`
			Name   string `json:"name"`
		} `json:"resources"`
	} `json:"result"`
}

func (c *ManifestClient) fetch(ctx context.Context, packageURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, packageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package registry returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var pkg ckanPackage
	if err := json.Unmarshal(body, &pkg); err != nil {
		return nil, fmt.Errorf("decoding package document: %w", err)
	}
	if !pkg.Success {
		return nil, fmt.Errorf("package registry reported failure")
	}

	m := selectResource(&pkg)
	if m == nil {
		return nil, fmt.Errorf("no usable archive resource in package document")
	}
	m.FetchedAt = c.now()
	c.log.Info().Str("name", m.Name).Int64("size", m.Size).Msg("resolved archive resource")
	return m, nil
}

// selectResource picks the pipe-separated-value archive: a ZIP resource
// whose name mentions PSV, or failing that the first ZIP at all.
func selectResource(pkg *ckanPackage) *Manifest {
	var firstZip *Manifest
	for _, r := range pkg.Result.Resources {
		if !strings.EqualFold(r.Format, "zip") || r.URL == "" {
			continue
		}
		m := &Manifest{URL: r.URL, Size: r.Size, Name: r.Name}
		if strings.Contains(strings.ToLower(r.Name), "psv") {
			return m
		}
		if firstZip == nil {
			firstZip = m
		}
	}
	return firstZip
}
