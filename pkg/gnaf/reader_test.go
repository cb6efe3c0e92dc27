// ABOUTME: Tests for the chunked G-NAF reader
// ABOUTME: Verifies pull pacing, typed conversion, and row counting

package gnaf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestChunkReaderPullsInChunks(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("ADDRESS_DETAIL_PID|LOCALITY_PID|CONFIDENCE\n")
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "GANSW%06d|loc%d|2\n", i, i)
	}
	path := writeFile(t, "NSW_ADDRESS_DETAIL_psv.psv", sb.String())

	// Tiny byte budget forces many chunks.
	r, err := OpenChunkReader(path, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var total, chunks int
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		rows, err := r.AddressDetails(chunk)
		if err != nil {
			t.Fatalf("convert: %v", err)
		}
		total += len(rows)
		chunks++
	}

	if total != 100 {
		t.Fatalf("rows = %d, want 100", total)
	}
	if chunks < 10 {
		t.Fatalf("chunks = %d, expected many small chunks", chunks)
	}
	if r.Rows() != 100 {
		t.Fatalf("Rows() = %d", r.Rows())
	}
}

func TestChunkReaderTypedAccess(t *testing.T) {
	content := "ADDRESS_DETAIL_PID|BUILDING_NAME|NUMBER_FIRST|STREET_LOCALITY_PID|LOCALITY_PID|POSTCODE|CONFIDENCE|ADDRESS_SITE_PID\n" +
		"GANSW1|TOWER A|10|sl1|loc1|2000|2|site1\n"
	path := writeFile(t, "detail.psv", content)

	r, err := OpenChunkReader(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	chunk, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	rows, err := r.AddressDetails(chunk)
	if err != nil {
		t.Fatal(err)
	}
	row := rows[0]
	if row.AddressDetailPID != "GANSW1" || row.BuildingName != "TOWER A" ||
		row.NumberFirst != "10" || row.Postcode != "2000" {
		t.Fatalf("typed row mismatch: %+v", row)
	}
	// Column absent from this file reads as empty string, never a panic.
	if row.FlatNumber != "" {
		t.Fatalf("absent column = %q, want empty", row.FlatNumber)
	}
}

func TestChunkReaderMissingRequiredColumn(t *testing.T) {
	path := writeFile(t, "bad.psv", "WRONG|COLUMNS\na|b\n")

	r, err := OpenChunkReader(path, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	chunk, _ := r.Next()
	if _, err := r.AddressDetails(chunk); err == nil {
		t.Fatalf("expected missing-column error")
	}
}

func TestReadAuthorityCodes(t *testing.T) {
	path := writeFile(t, "Authority_Code_STREET_TYPE_AUT_psv.psv",
		"CODE|NAME|DESCRIPTION\nST|STREET|Street\nRD|ROAD|Road\n")

	rows, err := ReadAuthorityCodes(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d", len(rows))
	}
	if rows[0].Code != "ST" || rows[0].Name != "STREET" {
		t.Fatalf("row = %+v", rows[0])
	}
}

func TestCountRows(t *testing.T) {
	path := writeFile(t, "c.psv", "H1|H2\na|b\nc|d\ne|f\n")
	n, err := CountRows(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestCRLFHandling(t *testing.T) {
	path := writeFile(t, "crlf.psv", "CODE|NAME\r\nST|STREET\r\n")
	rows, err := ReadAuthorityCodes(path)
	if err != nil {
		t.Fatal(err)
	}
	if rows[0].Name != "STREET" {
		t.Fatalf("CRLF not trimmed: %q", rows[0].Name)
	}
}

func TestAuthorityTableKey(t *testing.T) {
	cases := map[string]string{
		"Authority_Code_STREET_TYPE_AUT_psv.psv":  "STREET_TYPE_AUT",
		"Authority_Code_FLAT_TYPE_AUT_psv.psv":    "FLAT_TYPE_AUT",
		"NSW_ADDRESS_DETAIL_psv.psv":              "",
		"/some/dir/Authority_Code_LEVEL_TYPE_AUT_psv.psv": "LEVEL_TYPE_AUT",
	}
	for in, want := range cases {
		if got := AuthorityTableKey(in); got != want {
			t.Errorf("AuthorityTableKey(%q) = %q, want %q", in, got, want)
		}
	}
}
