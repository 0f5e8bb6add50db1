// Package crypttype implements the partition encryption layer contract
// used throughout provisioning and boot, grounded on
// original_source/lib/PartitionEncryption.py, EncLUKS.py and
// EncVeracrypt.py. Both supported engines shell out to their respective
// CLI tools rather than reimplementing cryptography in Go, matching the
// original design and the teacher's shell-exec pattern.
package crypttype

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// Engine is an encryption scheme usable on a partition.
type Engine string

const (
	EngineLUKS      Engine = "luks"
	EngineVeraCrypt Engine = "veracrypt"
)

// Volume is a single encrypted partition, bound to one engine.
type Volume struct {
	engine   Engine
	partfile string
	password string
}

// Open binds to an existing partition, first polling up to 10s (20 checks,
// 500ms apart) for its device node to appear, per Enc.__init__'s poll loop.
func Open(engine Engine, partfile, password string) (*Volume, error) {
	var err error
	for attempt := 0; attempt < 20; attempt++ {
		if _, statErr := os.Stat(partfile); statErr == nil {
			err = nil
			break
		} else {
			err = statErr
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindDeviceUnsupported, fmt.Sprintf("partition %q does not exist", partfile), err)
	}
	switch engine {
	case EngineLUKS, EngineVeraCrypt:
	default:
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("unknown encryption engine %q", engine))
	}
	return &Volume{engine: engine, partfile: partfile, password: password}, nil
}

func (v *Volume) mapperName() string {
	prefix := "secluks-"
	if v.engine == EngineVeraCrypt {
		prefix = "secveracrypt-"
	}
	return prefix + strings.NewReplacer("/", "").Replace(v.partfile)
}

func (v *Volume) mapperPath() string { return "/dev/mapper/" + v.mapperName() }

// IsOpen reports whether the volume's mapper device currently exists.
func (v *Volume) IsOpen() bool {
	_, err := os.Stat(v.mapperPath())
	return err == nil
}

// Create formats the partition with this engine, consuming the volume's
// password; cryptsetup never echoes the passphrase into argv, it is piped
// on stdin.
func (v *Volume) Create() error {
	if v.password == "" {
		return insecaerr.New(insecaerr.KindInvalidParameter, "no password specified for volume creation")
	}
	switch v.engine {
	case EngineLUKS:
		cmd := fmt.Sprintf("cryptsetup luksFormat %s --type luks2 --pbkdf-memory 524288 -d -", v.partfile)
		if _, err := shell.ExecCmdWithInput(v.password, cmd, true, "", nil); err != nil {
			return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("format %q as luks", v.partfile), err)
		}
	case EngineVeraCrypt:
		cmd := fmt.Sprintf("veracrypt --text --create %s --volume-type=normal --encryption=AES --hash=sha512 --filesystem=none --pim=0 --stdin", v.partfile)
		if _, err := shell.ExecCmdWithInput(v.password, cmd, true, "", nil); err != nil {
			return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("format %q as veracrypt", v.partfile), err)
		}
	}
	return nil
}

// Unlock unlocks the volume and returns the mapper device path to mount or
// format, failing if already open.
func (v *Volume) Unlock() (string, error) {
	if v.IsOpen() {
		return "", insecaerr.New(insecaerr.KindEncryptionError, fmt.Sprintf("%q is already unlocked", v.partfile))
	}
	if v.password == "" {
		return "", insecaerr.New(insecaerr.KindInvalidParameter, "no password provided")
	}
	name := v.mapperName()
	switch v.engine {
	case EngineLUKS:
		cmd := fmt.Sprintf("cryptsetup open %s %s -d -", v.partfile, name)
		if _, err := shell.ExecCmdWithInput(v.password, cmd, true, "", nil); err != nil {
			return "", classifyLUKSError(v.partfile, err)
		}
	case EngineVeraCrypt:
		cmd := fmt.Sprintf("veracrypt --text --non-interactive --pim=0 --keyfiles= --protect-hidden=no %s --mount --stdin", v.partfile)
		if _, err := shell.ExecCmdWithInput(v.password, cmd, true, "", nil); err != nil {
			return "", insecaerr.Wrap(insecaerr.KindWrongPassphrase, fmt.Sprintf("unlock %q", v.partfile), err)
		}
	}
	return v.mapperPath(), nil
}

func classifyLUKSError(partfile string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "No key available"), strings.Contains(msg, "wrong"):
		return insecaerr.Wrap(insecaerr.KindWrongPassphrase, fmt.Sprintf("unlock %q", partfile), err)
	case strings.Contains(msg, "out of memory"):
		return insecaerr.Wrap(insecaerr.KindOutOfMemory, fmt.Sprintf("unlock %q", partfile), err)
	default:
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("unlock %q", partfile), err)
	}
}

// Close locks the volume's mapper device again.
func (v *Volume) Close() error {
	if !v.IsOpen() {
		return nil
	}
	var cmd string
	switch v.engine {
	case EngineLUKS:
		cmd = fmt.Sprintf("cryptsetup close %s", v.mapperName())
	case EngineVeraCrypt:
		cmd = fmt.Sprintf("veracrypt --text -d %s", v.partfile)
	}
	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("close %q", v.partfile), err)
	}
	return nil
}

// ExportHeader backs up the volume's header to a temporary file and
// returns its contents, for inclusion in a device's protected metadata.
func (v *Volume) ExportHeader() ([]byte, error) {
	if v.engine != EngineLUKS {
		return nil, insecaerr.New(insecaerr.KindEncryptionError, "header export is only supported for luks volumes")
	}
	tmp, err := os.CreateTemp("", "inseca-luks-header-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	cmd := fmt.Sprintf("cryptsetup luksHeaderBackup %s --header-backup-file %s", v.partfile, path)
	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		return nil, insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("backup luks header of %q", v.partfile), err)
	}
	return os.ReadFile(path)
}

// ImportHeader restores a previously exported header, e.g. to recover a
// volume whose header was corrupted while the password is still known.
func (v *Volume) ImportHeader(header []byte) error {
	if v.engine != EngineLUKS {
		return insecaerr.New(insecaerr.KindEncryptionError, "header import is only supported for luks volumes")
	}
	tmp, err := os.CreateTemp("", "inseca-luks-header-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp header: %w", err)
	}
	tmp.Close()

	cmd := fmt.Sprintf("cryptsetup luksHeaderRestore %s --header-backup-file %s", v.partfile, path)
	if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("restore luks header of %q", v.partfile), err)
	}
	return nil
}

// Erase destroys the volume's key material (fast) then overwrites the
// header region with zeros (slower, but makes even a key-slot scrape
// useless), per EncLUKS.py's erase().
func (v *Volume) Erase() error {
	if v.engine == EngineLUKS {
		cmd := fmt.Sprintf("cryptsetup -q luksErase %s", v.partfile)
		if _, err := shell.ExecCmd(cmd, true, "", nil); err != nil {
			return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("erase luks keyslots of %q", v.partfile), err)
		}
	}
	f, err := os.OpenFile(v.partfile, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s for header wipe: %w", v.partfile, err)
	}
	defer f.Close()
	zeros := make([]byte, 16*1024*1024)
	if _, err := f.WriteAt(zeros, 0); err != nil {
		return fmt.Errorf("wipe header of %s: %w", v.partfile, err)
	}
	return nil
}

// AddPassword adds a new key slot unlockable with newPassword, requiring
// an existing valid password on the Volume.
func (v *Volume) AddPassword(newPassword string) error {
	if v.password == "" {
		return insecaerr.New(insecaerr.KindInvalidParameter, "no existing password provided")
	}
	currentTmp, err := writeTempSecret(v.password)
	if err != nil {
		return err
	}
	defer os.Remove(currentTmp)

	cmd := fmt.Sprintf("cryptsetup luksAddKey %s --key-file=%s", v.partfile, currentTmp)
	if _, err := shell.ExecCmdWithInput(newPassword, cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("add password to %q", v.partfile), err)
	}
	return nil
}

// RemovePassword removes the key slot unlockable with password.
func (v *Volume) RemovePassword(password string) error {
	cmd := fmt.Sprintf("cryptsetup luksRemoveKey %s", v.partfile)
	if _, err := shell.ExecCmdWithInput(password, cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("remove password from %q", v.partfile), err)
	}
	return nil
}

// ChangePassword replaces the Volume's current password's key slot.
func (v *Volume) ChangePassword(newPassword string) error {
	if v.password == "" {
		return insecaerr.New(insecaerr.KindInvalidParameter, "no existing password provided")
	}
	currentTmp, err := writeTempSecret(v.password)
	if err != nil {
		return err
	}
	defer os.Remove(currentTmp)

	cmd := fmt.Sprintf("cryptsetup luksChangeKey %s --key-file=%s", v.partfile, currentTmp)
	if _, err := shell.ExecCmdWithInput(newPassword, cmd, true, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("change password of %q", v.partfile), err)
	}
	v.password = newPassword
	return nil
}

func writeTempSecret(secret string) (string, error) {
	tmp, err := os.CreateTemp("", "inseca-secret-")
	if err != nil {
		return "", fmt.Errorf("create temp secret file: %w", err)
	}
	defer tmp.Close()
	if err := tmp.Chmod(0o600); err != nil {
		return "", fmt.Errorf("chmod temp secret file: %w", err)
	}
	if _, err := tmp.WriteString(secret); err != nil {
		return "", fmt.Errorf("write temp secret file: %w", err)
	}
	return tmp.Name(), nil
}
