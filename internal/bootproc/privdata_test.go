package bootproc

import "testing"

func TestExtractPrivDataNoopWhenTarballAbsent(t *testing.T) {
	// /privdata.tar.enc is never present in a test sandbox, so this exercises
	// the early-return path without touching the filesystem root.
	env := Environ{PrivDataDir: t.TempDir()}
	if err := ExtractPrivData(env); err != nil {
		t.Fatal(err)
	}
}

func TestExtractLiveConfigScriptsNoopWhenTarballAbsent(t *testing.T) {
	env := Environ{LiveConfigDir: t.TempDir()}
	if err := ExtractLiveConfigScripts(env); err != nil {
		t.Fatal(err)
	}
}
