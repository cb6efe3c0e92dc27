// ABOUTME: Tests for zip extraction
// ABOUTME: Verifies idempotent skips, atomic commit, and traversal rejection

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
)

func buildArchive(t *testing.T, dir string, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "gnaf.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	path := buildArchive(t, dir, map[string]string{
		"G-NAF/Standard/NSW_ADDRESS_DETAIL_psv.psv": "HEADER|ROW\n",
		"G-NAF/Authority Code/Authority_Code_STREET_TYPE_AUT_psv.psv": "CODE|NAME\n",
	})

	e := NewExtractor(nil)
	out, err := e.Extract(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != filepath.Join(dir, "gnaf") {
		t.Fatalf("extracted dir = %s", out)
	}

	body, err := os.ReadFile(filepath.Join(out, "G-NAF", "Standard", "NSW_ADDRESS_DETAIL_psv.psv"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(body) != "HEADER|ROW\n" {
		t.Fatalf("extracted content = %q", body)
	}

	if _, err := os.Stat(out + stagingSuffix); !os.IsNotExist(err) {
		t.Fatalf("staging dir must be renamed away")
	}
}

func TestExtractSkipsWhenFinalDirExists(t *testing.T) {
	dir := t.TempDir()
	path := buildArchive(t, dir, map[string]string{"a.psv": "data"})

	finalDir := filepath.Join(dir, "gnaf")
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(finalDir, "marker")
	if err := os.WriteFile(marker, []byte("prior run"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor(nil)
	out, err := e.Extract(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != finalDir {
		t.Fatalf("out = %s", out)
	}

	// Prior contents untouched, archive never unpacked over them.
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("prior extraction contents were disturbed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(finalDir, "a.psv")); !os.IsNotExist(err) {
		t.Fatalf("archive was re-extracted despite existing final dir")
	}
}

func TestExtractResumesStagingSkippingMatchingSizes(t *testing.T) {
	dir := t.TempDir()
	path := buildArchive(t, dir, map[string]string{
		"done.psv":  "already-done",
		"todo.psv":  "not-yet",
	})

	// Simulate an interrupted run: staging dir holds one completed entry.
	staging := filepath.Join(dir, "gnaf"+stagingSuffix)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	pre := filepath.Join(staging, "done.psv")
	if err := os.WriteFile(pre, []byte("already-done"), 0o644); err != nil {
		t.Fatal(err)
	}
	preStat, _ := os.Stat(pre)

	e := NewExtractor(nil)
	out, err := e.Extract(path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	// The size-matched entry must not have been rewritten.
	postStat, err := os.Stat(filepath.Join(out, "done.psv"))
	if err != nil {
		t.Fatal(err)
	}
	if !postStat.ModTime().Equal(preStat.ModTime()) {
		t.Fatalf("size-matched entry was rewritten")
	}

	body, _ := os.ReadFile(filepath.Join(out, "todo.psv"))
	if string(body) != "not-yet" {
		t.Fatalf("missing entry not extracted: %q", body)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	if _, err := safeJoin("/tmp/root", "../escape.txt"); err == nil {
		t.Fatalf("traversal entry must be rejected")
	}
	if _, err := safeJoin("/tmp/root", "ok/nested.txt"); err != nil {
		t.Fatalf("legitimate nested entry rejected: %v", err)
	}
}
