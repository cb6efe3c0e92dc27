// ABOUTME: Streaming zip extraction with idempotent resume
// ABOUTME: Skips byte-identical entries and commits via atomic rename

package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/nainya/addressd/internal/logger"
)

// stagingSuffix marks an extraction that has not been committed yet.
const stagingSuffix = ".partial"

// Extractor streams zip archives to disk.
type Extractor struct {
	log *logger.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(log *logger.Logger) *Extractor {
	return &Extractor{log: log.Component("archive")}
}

// Extract unpacks archivePath next to itself and returns the extracted
// directory. A completed prior extraction (final directory present) is
// reused without opening the archive. An interrupted prior run resumes in
// the staging directory, skipping entries whose on-disk size already
// matches. Any entry failure aborts the whole extraction.
func (e *Extractor) Extract(archivePath string) (string, error) {
	finalDir := strings.TrimSuffix(archivePath, filepath.Ext(archivePath))
	if fi, err := os.Stat(finalDir); err == nil && fi.IsDir() {
		e.log.Info().Str("dir", finalDir).Msg("archive already extracted, skipping")
		return finalDir, nil
	}

	stagingDir := finalDir + stagingSuffix

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", archivePath, err)
	}
	defer r.Close()

	var files, skipped int
	for _, entry := range r.File {
		target, err := safeJoin(stagingDir, entry.Name)
		if err != nil {
			return "", err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", fmt.Errorf("archive: mkdir %s: %w", target, err)
			}
			continue
		}

		if fi, err := os.Stat(target); err == nil && fi.Size() == int64(entry.UncompressedSize64) {
			skipped++
			continue
		}

		if err := writeEntry(entry, target); err != nil {
			return "", err
		}
		files++
	}

	if err := os.Rename(stagingDir, finalDir); err != nil {
		return "", fmt.Errorf("archive: commit %s: %w", finalDir, err)
	}

	e.log.Info().
		Str("dir", finalDir).
		Int("extracted", files).
		Int("skipped", skipped).
		Msg("archive extracted")
	return finalDir, nil
}

func writeEntry(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("archive: mkdir for %s: %w", target, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("archive: open entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", target, err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return fmt.Errorf("archive: write %s: %w", entry.Name, err)
	}
	return f.Close()
}

// safeJoin rejects entries that would escape the extraction root.
func safeJoin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive: entry %q escapes extraction root", name)
	}
	return target, nil
}
