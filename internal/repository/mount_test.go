package repository

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMountExtractsAndUnmountCleans(t *testing.T) {
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

	mountpoint := filepath.Join(t.TempDir(), "mnt")
	unmount, err := repo.Mount(archiveID, mountpoint)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(mountpoint, "a.txt")); err != nil {
		t.Fatalf("expected extracted file, got %v", err)
	}
	if err := unmount(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(mountpoint); !os.IsNotExist(err) {
		t.Fatal("expected mountpoint to be removed after unmount")
	}
}
