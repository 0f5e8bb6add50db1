package bootproc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEventLogBacklogThenFlush(t *testing.T) {
	root := t.TempDir()
	internalDir := filepath.Join(root, "internal")
	log := OpenEventLog(internalDir)

	if err := log.AddBooted(1000); err != nil {
		t.Fatal(err)
	}
	if err := log.AddInfo(1001, "guest-os", "started"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(log.path); !os.IsNotExist(err) {
		t.Fatal("expected no log file before the internal directory exists")
	}

	if err := os.MkdirAll(internalDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := log.Flush(); err != nil {
		t.Fatal(err)
	}

	events, err := log.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != EventBooted || events[1].Type != EventInfo {
		t.Fatalf("got types %v %v", events[0].Type, events[1].Type)
	}
}

func TestEventLogDirectAppend(t *testing.T) {
	internalDir := t.TempDir()
	log := OpenEventLog(internalDir)

	if err := log.AddException(2000, "updater", "boom"); err != nil {
		t.Fatal(err)
	}
	events, err := log.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventException {
		t.Fatalf("got %v", events)
	}
}

func TestEventLogReadAllMissingFile(t *testing.T) {
	log := OpenEventLog(t.TempDir())
	events, err := log.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if events != nil {
		t.Fatalf("expected nil events, got %v", events)
	}
}
