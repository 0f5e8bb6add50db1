package repository

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// TestPullMirrorsArchiveFromRemote spins up a local HTTP server serving one
// repository's archives/objects directories verbatim and pulls that archive
// into a second repository that holds only the first one's key file,
// exercising the HTTPTransport end to end.
func TestPullMirrorsArchiveFromRemote(t *testing.T) {
	sourceDir := t.TempDir()
	source, err := Init(sourceDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	archiveID, err := source.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.FileServer(http.Dir(sourceDir)))
	defer srv.Close()

	destDir := t.TempDir()
	// A mirror shares the source's master key: pulled objects stay sealed
	// under it.
	keyRaw, err := os.ReadFile(filepath.Join(sourceDir, keyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destDir, keyFileName), keyRaw, 0o600); err != nil {
		t.Fatal(err)
	}
	dest, err := Open(destDir, "pw")
	if err != nil {
		t.Fatal(err)
	}

	transport := NewHTTPTransport(srv.URL)
	if err := dest.Pull(context.Background(), transport, archiveID); err != nil {
		t.Fatal(err)
	}

	broken, err := dest.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected a clean mirrored repository, got broken segments %v", broken)
	}

	extractDir := t.TempDir()
	if err := dest.Extract(archiveID, extractDir, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(extractDir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
}

// TestResyncRefetchesBrokenSegments reproduces spec's Testable Scenario 4
// end to end: a segment is corrupted locally, Check reports it, Resync
// re-pulls it from a remote mirror, and Check reports clean again.
func TestResyncRefetchesBrokenSegments(t *testing.T) {
	sourceDir := t.TempDir()
	source, err := Init(sourceDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	archiveID, err := source.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.FileServer(http.Dir(sourceDir)))
	defer srv.Close()

	destDir := t.TempDir()
	// A mirror shares the source's master key: pulled objects stay sealed
	// under it.
	keyRaw, err := os.ReadFile(filepath.Join(sourceDir, keyFileName))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(destDir, keyFileName), keyRaw, 0o600); err != nil {
		t.Fatal(err)
	}
	dest, err := Open(destDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	transport := NewHTTPTransport(srv.URL)
	if err := dest.Pull(context.Background(), transport, archiveID); err != nil {
		t.Fatal(err)
	}

	objectsDir := filepath.Join(destDir, "objects")
	var segmentPath string
	err = filepath.WalkDir(objectsDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		segmentPath = path
		return filepath.SkipAll
	})
	if err != nil {
		t.Fatal(err)
	}
	if segmentPath == "" {
		t.Fatal("expected at least one mirrored segment")
	}
	original, err := os.ReadFile(segmentPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(segmentPath, original[:len(original)/2], 0o600); err != nil {
		t.Fatal(err)
	}

	broken, err := dest.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 1 || broken[0] != segmentPath {
		t.Fatalf("expected exactly the truncated segment to be reported broken, got %v", broken)
	}

	if err := dest.Resync(context.Background(), transport, broken); err != nil {
		t.Fatal(err)
	}

	broken, err = dest.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected a clean repository after resync, got %v", broken)
	}
}
