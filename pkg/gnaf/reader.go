// ABOUTME: Chunked pull-based reader for pipe-delimited G-NAF files
// ABOUTME: The consumer controls pacing by deciding when to pull the next chunk

package gnaf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds a single record; G-NAF lines are short but the
// scanner needs headroom over bufio's default.
const maxLineBytes = 1 << 20

// ChunkReader reads a delimited file in caller-paced chunks. Nothing is
// read from the file between Next calls, so a slow consumer throttles the
// producer instead of buffering unboundedly. Not safe for concurrent use.
type ChunkReader struct {
	f       *os.File
	scanner *bufio.Scanner
	ix      headerIndex
	header  []string

	chunkBytes int64
	rows       int64
	done       bool
}

// OpenChunkReader opens path and consumes its header row. chunkBytes is the
// approximate raw-byte budget per chunk (minimum one row per chunk).
func OpenChunkReader(path string, chunkBytes int64) (*ChunkReader, error) {
	if chunkBytes <= 0 {
		chunkBytes = 1 << 20
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gnaf: open %s: %w", path, err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	if !scanner.Scan() {
		err := scanner.Err()
		f.Close()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("gnaf: read header of %s: %w", path, err)
	}

	header := splitFields(scanner.Text())
	return &ChunkReader{
		f:          f,
		scanner:    scanner,
		ix:         newHeaderIndex(header),
		header:     header,
		chunkBytes: chunkBytes,
	}, nil
}

// Header returns the file's column names.
func (r *ChunkReader) Header() []string { return r.header }

// Rows returns the number of data rows consumed so far.
func (r *ChunkReader) Rows() int64 { return r.rows }

// Next returns the next chunk of rows, or nil, io.EOF when the file is
// exhausted. Each returned row is the raw field slice; callers convert it
// with the typed accessors below.
func (r *ChunkReader) Next() ([][]string, error) {
	if r.done {
		return nil, io.EOF
	}

	var chunk [][]string
	var consumed int64

	for consumed < r.chunkBytes {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("gnaf: read: %w", err)
			}
			r.done = true
			break
		}
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		consumed += int64(len(line)) + 1
		chunk = append(chunk, splitFields(line))
		r.rows++
	}

	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// Close releases the underlying file.
func (r *ChunkReader) Close() error {
	return r.f.Close()
}

// AddressDetails converts a raw chunk into typed address-detail rows.
func (r *ChunkReader) AddressDetails(chunk [][]string) ([]AddressDetailRow, error) {
	if err := r.ix.require("ADDRESS_DETAIL_PID", "LOCALITY_PID"); err != nil {
		return nil, err
	}
	out := make([]AddressDetailRow, 0, len(chunk))
	for _, f := range chunk {
		out = append(out, addressDetailFromFields(r.ix, f))
	}
	return out, nil
}

// SiteGeocodes converts a raw chunk into typed site-geocode rows.
func (r *ChunkReader) SiteGeocodes(chunk [][]string) ([]SiteGeocodeRow, error) {
	if err := r.ix.require("ADDRESS_SITE_PID", "GEOCODE_TYPE_CODE"); err != nil {
		return nil, err
	}
	out := make([]SiteGeocodeRow, 0, len(chunk))
	for _, f := range chunk {
		out = append(out, siteGeocodeFromFields(r.ix, f))
	}
	return out, nil
}

// DefaultGeocodes converts a raw chunk into typed default-geocode rows.
func (r *ChunkReader) DefaultGeocodes(chunk [][]string) ([]DefaultGeocodeRow, error) {
	if err := r.ix.require("ADDRESS_DETAIL_PID", "GEOCODE_TYPE_CODE"); err != nil {
		return nil, err
	}
	out := make([]DefaultGeocodeRow, 0, len(chunk))
	for _, f := range chunk {
		out = append(out, defaultGeocodeFromFields(r.ix, f))
	}
	return out, nil
}

// ReadStreetLocalities parses a whole STREET_LOCALITY file. Street and
// locality files are indexed in full before detail streaming begins, so
// these two are not chunked.
func ReadStreetLocalities(path string) ([]StreetLocalityRow, error) {
	var out []StreetLocalityRow
	err := readAll(path, []string{"STREET_LOCALITY_PID", "STREET_NAME"}, func(ix headerIndex, f []string) {
		out = append(out, streetLocalityFromFields(ix, f))
	})
	return out, err
}

// ReadLocalities parses a whole LOCALITY file.
func ReadLocalities(path string) ([]LocalityRow, error) {
	var out []LocalityRow
	err := readAll(path, []string{"LOCALITY_PID", "LOCALITY_NAME"}, func(ix headerIndex, f []string) {
		out = append(out, localityFromFields(ix, f))
	})
	return out, err
}

// ReadAuthorityCodes parses a whole Authority Code file.
func ReadAuthorityCodes(path string) ([]AuthorityCodeRow, error) {
	var out []AuthorityCodeRow
	err := readAll(path, []string{"CODE", "NAME"}, func(ix headerIndex, f []string) {
		out = append(out, authorityCodeFromFields(ix, f))
	})
	return out, err
}

func readAll(path string, required []string, visit func(headerIndex, []string)) error {
	r, err := OpenChunkReader(path, 4<<20)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.ix.require(required...); err != nil {
		return fmt.Errorf("%w in %s", err, path)
	}

	for {
		chunk, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, f := range chunk {
			visit(r.ix, f)
		}
	}
}

// CountRows counts data rows (newlines minus the header) in a delimited
// file. Used as the expected-count fallback when the manifest has none.
func CountRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var lines int64
	buf := make([]byte, 256<<10)
	for {
		n, err := f.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] == '\n' {
				lines++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if lines > 0 {
		lines-- // header
	}
	return lines, nil
}

func splitFields(line string) []string {
	return strings.Split(strings.TrimRight(line, "\r"), "|")
}
