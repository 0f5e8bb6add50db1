package installer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/insecakey/inseca/internal/specbuilder"
)

func TestResolveUserDataFileEmptyValue(t *testing.T) {
	path, err := ResolveUserDataFile(nil, "wifi", "cert", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
}

func TestResolveUserDataFileAbsolutePath(t *testing.T) {
	f := filepath.Join(t.TempDir(), "cert.pem")
	if err := os.WriteFile(f, []byte("cert data"), 0o600); err != nil {
		t.Fatal(err)
	}
	path, err := ResolveUserDataFile(nil, "wifi", "cert", f, "")
	if err != nil {
		t.Fatal(err)
	}
	if path != f {
		t.Fatalf("got %q, want %q", path, f)
	}
}

func TestResolveUserDataFileMissingAbsolutePath(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	if _, err := ResolveUserDataFile(nil, "wifi", "cert", missing, ""); err == nil {
		t.Fatal("expected error for missing absolute path")
	}
}

func TestResolveUserDataFileRelativeWithoutRepoConfigured(t *testing.T) {
	if _, err := ResolveUserDataFile(UserDataRepos{}, "wifi", "cert", "cert.pem", ""); err == nil {
		t.Fatal("expected error when no repository is configured for a relative userdata value")
	}
}

func TestInstallUserDataStagesSpecsAndFiles(t *testing.T) {
	certFile := filepath.Join(t.TempDir(), "bundle.pem")
	if err := os.WriteFile(certFile, []byte("certificate bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	componentParamSpecs := map[string]map[string]specbuilder.ParamSpec{
		"wifi": {
			"ssid":   {Type: specbuilder.ParamStr},
			"bundle": {Type: specbuilder.ParamFile},
		},
	}
	pset := NewParamsSet(nil, componentParamSpecs)
	values := map[string]any{
		"_components": map[string]any{
			"wifi": map[string]any{"ssid": "home", "bundle": certFile},
		},
	}
	if err := pset.Validate(values, func(string) bool { return true }, nil); err != nil {
		t.Fatal(err)
	}

	res := NewResourceSet()
	if err := InstallUserData(res, pset, componentParamSpecs); err != nil {
		t.Fatal(err)
	}

	componentFiles := res.entries[PartIDInternal]
	if _, ok := componentFiles["components/wifi/userdata.json"]; !ok {
		t.Fatal("expected userdata.json to be staged")
	}
	if _, ok := componentFiles["components/wifi/userdata-trace.json"]; !ok {
		t.Fatal("expected userdata-trace.json to be staged")
	}

	foundFileResource := false
	for relpath, entry := range componentFiles {
		if strings.HasPrefix(relpath, "components/wifi/") && entry.srcPath == certFile {
			foundFileResource = true
		}
	}
	if !foundFileResource {
		t.Fatal("expected the resolved file parameter to be staged from certFile")
	}
}
