package repository

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello world"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("nested content"), 0o600); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestInitOpenRoundTrip(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "reposecret")
	if err != nil {
		t.Fatal(err)
	}
	id, err := repo.ID()
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected non-empty repo id")
	}

	reopened, err := Open(repoDir, "reposecret")
	if err != nil {
		t.Fatal(err)
	}
	if reopenedID, _ := reopened.ID(); reopenedID != id {
		t.Fatalf("got %q, want %q", reopenedID, id)
	}

	if _, err := Open(repoDir, "wrong"); err == nil {
		t.Fatal("expected error opening with wrong password")
	}
}

func TestCreateArchiveExtractRoundTrip(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)

	archiveID, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := repo.Extract(archiveID, dest, nil); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dest, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "nested content" {
		t.Fatalf("got %q", got)
	}
}

func TestListAndLatestArchive(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)

	first, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	ids, err := repo.ListArchives()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %v", ids)
	}

	latest, err := repo.LatestArchive()
	if err != nil {
		t.Fatal(err)
	}
	if latest != first && latest != second {
		t.Fatalf("unexpected latest archive %q", latest)
	}
}

func TestCheckDetectsMissingChunk(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	archiveID, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}
	broken, err := repo.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected a clean repository, got broken segments %v", broken)
	}

	removed, err := repo.Vacuum()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing to vacuum while archive is live, removed %d", removed)
	}

	m, err := repo.loadManifest(archiveID)
	if err != nil {
		t.Fatal(err)
	}
	missing := repo.objectPath(m.Files[0].ChunkHashes[0])
	if err := os.Remove(missing); err != nil {
		t.Fatal(err)
	}
	broken, err = repo.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 1 || broken[0] != missing {
		t.Fatalf("expected the removed chunk to be reported broken, got %v", broken)
	}
}

// TestCheckResyncScenario reproduces the repository-resynchronisation
// scenario: truncating one archive segment makes Check report its path;
// restoring the segment's original bytes (standing in for a
// mtime-rewind-triggered resync, since this repository has no remote peer
// to re-fetch from) makes Check report a clean repository again.
func TestCheckResyncScenario(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	archiveID, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	broken, err := repo.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected a clean repository before corruption, got %v", broken)
	}

	ids, err := repo.ListArchives()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != archiveID {
		t.Fatalf("unexpected archive list %v", ids)
	}

	objectsDir := filepath.Join(repoDir, "objects")
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
		t.Fatal("expected at least one stored segment")
	}

	original, err := os.ReadFile(segmentPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(segmentPath, original[:len(original)/2], 0o600); err != nil {
		t.Fatal(err)
	}

	broken, err = repo.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 1 || broken[0] != segmentPath {
		t.Fatalf("expected exactly the truncated segment to be reported broken, got %v", broken)
	}

	if err := os.WriteFile(segmentPath, original, 0o600); err != nil {
		t.Fatal(err)
	}

	broken, err = repo.Check()
	if err != nil {
		t.Fatal(err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected a clean repository after resync, got %v", broken)
	}
}

func TestExtractOptionalSubset(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	archiveID, err := repo.CreateArchive(src)
	if err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := repo.Extract(archiveID, dest, []string{"a.txt"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "a.txt")); err != nil {
		t.Fatalf("expected a.txt to be restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "sub", "b.txt")); err == nil {
		t.Fatal("expected sub/b.txt to be excluded by the subset")
	}
}

func TestChangePasswordPreservesData(t *testing.T) {
	repoDir := t.TempDir()
	repo, err := Init(repoDir, "old-pw")
	if err != nil {
		t.Fatal(err)
	}
	src := writeSourceTree(t)
	if _, err := repo.CreateArchive(src); err != nil {
		t.Fatal(err)
	}

	if err := ChangePassword(repoDir, "old-pw", "new-pw"); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(repoDir, "old-pw"); err == nil {
		t.Fatal("expected old password to no longer work")
	}
	reopened, err := Open(repoDir, "new-pw")
	if err != nil {
		t.Fatal(err)
	}
	broken, err := reopened.Check()
	if err != nil {
		t.Fatalf("expected repository readable after password change, got %v", err)
	}
	if len(broken) != 0 {
		t.Fatalf("expected no broken segments after password change, got %v", broken)
	}
}

func TestAcquireLockRefusesDouble(t *testing.T) {
	repoDir := t.TempDir()
	lock, err := AcquireLock(repoDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := AcquireLock(repoDir); err == nil {
		t.Fatal("expected second lock acquisition to fail")
	}
	if err := lock.Release(); err != nil {
		t.Fatal(err)
	}
	lock2, err := AcquireLock(repoDir)
	if err != nil {
		t.Fatal(err)
	}
	lock2.Release()
}
