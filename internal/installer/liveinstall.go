package installer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// liveComponents are the three files copied out of a live Linux ISO onto
// the device, per install_live_linux_files_from_iso.
var liveComponents = []string{"vmlinuz", "initrd.img", "filesystem.squashfs"}

// InstallLiveLinuxFiles copies the kernel, initrd and squashfs from a
// mounted live ISO (sourceDir/live/...) into livePath, clearing any
// previous content first, mirroring install_live_linux_files_from_iso.
func InstallLiveLinuxFiles(livePath, sourceDir string) error {
	if err := os.MkdirAll(livePath, 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create "+livePath, err)
	}
	if err := os.Chmod(livePath, 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "chmod "+livePath, err)
	}

	entries, err := os.ReadDir(livePath)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "read "+livePath, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(livePath, e.Name())); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, "clear "+livePath, err)
		}
	}

	log := logger.Logger()
	for _, name := range liveComponents {
		log.Infof("Copying the %q component to device", name)
		if err := copyFileContents(filepath.Join(sourceDir, "live", name), filepath.Join(livePath, name)); err != nil {
			return err
		}
	}
	return nil
}

// InstallFreshLiveLinux mounts the read-only live ISO, lays out its
// contents into live0 and live1 under the live partition's mountpoint and
// symlinks "live" to live0, mirroring Installer._install_live_linux (the
// first-install path, before any slot has ever been used).
func InstallFreshLiveLinux(liveISOFile, liveMountpoint string, validFromTS int64) error {
	tmpdir, err := os.MkdirTemp("", "inseca-live-iso-")
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create temp mount dir", err)
	}
	defer os.RemoveAll(tmpdir)

	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro,loop %s %s", liveISOFile, tmpdir), true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "mount live iso "+liveISOFile, err)
	}
	defer shell.ExecCmd(fmt.Sprintf("umount %s", tmpdir), true, "", nil)

	if err := InstallLiveLinuxFiles(filepath.Join(liveMountpoint, "live0"), tmpdir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(liveMountpoint, "live1"), 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create live1", err)
	}

	link := filepath.Join(liveMountpoint, "live")
	os.Remove(link)
	if err := os.Symlink("live0", link); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "symlink live -> live0", err)
	}
	if err := os.WriteFile(filepath.Join(link, "valid-from-ts"), []byte(fmt.Sprintf("%d", validFromTS)), 0o644); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "write valid-from-ts", err)
	}
	return nil
}

// UpdateLiveLinux replaces the inactive live slot (live0/live1, whichever
// "live" does not currently point at) with a freshly mounted ISO's
// contents and flips the symlink, mirroring Updater._install_live_linux.
func UpdateLiveLinux(liveISOFile, liveMountpoint string) error {
	link := filepath.Join(liveMountpoint, "live")
	target, err := os.Readlink(link)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "read live symlink", err)
	}
	var newSlot string
	switch {
	case len(target) > 0 && target[len(target)-1] == '0':
		newSlot = "live1"
	case len(target) > 0 && target[len(target)-1] == '1':
		newSlot = "live0"
	default:
		return insecaerr.New(insecaerr.KindMetadataCorrupt, fmt.Sprintf("live symlink points at unexpected target %q", target))
	}

	logger.Logger().Infof("Using live Linux slot %s", newSlot)

	tmpdir, err := os.MkdirTemp("", "inseca-live-iso-")
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create temp mount dir", err)
	}
	defer os.RemoveAll(tmpdir)

	if _, err := shell.ExecCmd(fmt.Sprintf("mount -o ro,loop %s %s", liveISOFile, tmpdir), true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "mount live iso "+liveISOFile, err)
	}
	defer shell.ExecCmd(fmt.Sprintf("umount %s", tmpdir), true, "", nil)

	if err := InstallLiveLinuxFiles(filepath.Join(liveMountpoint, newSlot), tmpdir); err != nil {
		return err
	}
	os.Remove(link)
	return os.Symlink(newSlot, link)
}
