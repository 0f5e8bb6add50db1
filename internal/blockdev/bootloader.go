package blockdev

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
	"github.com/ulikunitz/xz"
)

// InstallGrubEFI extracts a tar.xz archive of signed shim/grub EFI
// binaries into EFI/boot on the mounted EFI partition, per Device.py's
// install_grub_efi.
func InstallGrubEFI(efiMountpoint, bootBinariesArchive string) error {
	target := filepath.Join(efiMountpoint, "EFI", "boot")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	return extractTarXZ(bootBinariesArchive, target)
}

// InstallGrubBIOS installs the legacy-BIOS Grub image into the hybrid MBR
// of devfile, requiring the first partition to be of kind BIOS boot (Grub
// refuses to install otherwise), per Device.py's install_grub_bios.
func InstallGrubBIOS(devfile, efiMountpoint string, firstPartitionKind PartitionKind) error {
	if firstPartitionKind != PartitionBIOS {
		return insecaerr.New(insecaerr.KindInvalidConfig, "the first partition must be of kind BIOS to install grub-bios")
	}
	cmd := fmt.Sprintf("grub-install --root-directory=%s --force --target=i386-pc %s", efiMountpoint, devfile)
	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("install grub-bios on %s", devfile), err)
	}
	return nil
}

// InstallGrubConfiguration extracts grub configuration templates to the
// EFI partition's EFI/debian and boot/grub directories, and writes a
// bootparams.cfg pointing at the live partition's filesystem UUID so Grub
// can locate the live root without depending on partition numbering.
func InstallGrubConfiguration(efiMountpoint, confTarFile, livePartitionUUID string) ([]string, error) {
	dirs := []string{
		filepath.Join(efiMountpoint, "EFI", "debian"),
		filepath.Join(efiMountpoint, "boot", "grub"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		if err := extractTar(confTarFile, dir); err != nil {
			return nil, err
		}
		bootparams := filepath.Join(dir, "bootparams.cfg")
		content := fmt.Sprintf("set bootuuid=%s\n", livePartitionUUID)
		if err := os.WriteFile(bootparams, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", bootparams, err)
		}
	}
	return dirs, nil
}

// PartitionFSUUID reads a partition's filesystem UUID via blkid, needed to
// generate a bootparams.cfg that survives the partition being renumbered.
func PartitionFSUUID(partfile string) (string, error) {
	out, err := shell.ExecCmd(fmt.Sprintf("blkid -s UUID -o value %s", partfile), true, "", nil)
	if err != nil {
		return "", insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("read filesystem uuid of %s", partfile), err)
	}
	return trimNewline(out), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func extractTarXZ(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return fmt.Errorf("xz decompress %s: %w", archivePath, err)
	}
	return untar(xr, destDir)
}

func extractTar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer f.Close()

	return untar(f, destDir)
}

func untar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}
