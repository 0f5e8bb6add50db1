package installer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// InstallBuildRepo copies the build repository's on-disk content tree
// (its chunk store and manifests) onto the internal partition, so later
// updates can be synced without network access, mirroring
// Installer._install_build_repo's shutil.copytree.
func InstallBuildRepo(buildRepoPath, internalMountpoint string) error {
	logger.Logger().Info("Copying live Linux repository...")
	targetDir := filepath.Join(internalMountpoint, "build-repo")
	if err := copyTree(buildRepoPath, targetDir); err != nil {
		return err
	}
	if err := os.Chmod(targetDir, 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "chmod "+targetDir, err)
	}
	logger.Logger().Info("Syncing all writes")
	_, err := shell.ExecCmd("sync", false, "", nil)
	return err
}

func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return insecaerr.Wrap(insecaerr.KindFilesystemError, "read link "+path, err)
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			return copyFileContents(path, target)
		}
	})
}
