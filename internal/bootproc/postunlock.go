package bootproc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// Environ gathers the live-session paths PostUnlock and the component
// configure scripts act on, mirroring Live.py's Environ class -- trimmed
// to the parts exercised by the boot chain (desktop-settings backup/
// restore and home-base attestation are out of scope here, per
// SPEC_FULL.md's supplemented-feature list).
type Environ struct {
	SSHKeysDir      string // persisted across boots, e.g. /internal/ssh-host-keys
	PrivDataDir     string // extraction target for /privdata.tar.enc
	LiveConfigDir   string // extraction target for /live-config.tar.enc
	PrivDataKeyFile string // PEM private key decrypting both tarballs
	LoggedUser      string // OS account whose password chpasswd sets
}

// PostUnlock runs the best-effort steps that follow a successful Unlock:
// setting the logged-in user's OS password, extracting component PRIVDATA
// and live-config scripts, and provisioning a persistent SSH host key.
// Each step's failure is recorded as an exception event rather than
// aborting the remaining steps, mirroring post_start's single enclosing
// try/except around everything past the password change.
func PostUnlock(env Environ, userPassword string, events *EventLog, timestamp int64) error {
	if err := changeUserPassword(env.LoggedUser, userPassword); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "change logged user password", err)
	}

	runStep := func(name string, fn func() error) {
		if err := fn(); err != nil {
			logger.Logger().Errorf("post-unlock step %q failed: %v", name, err)
			if events != nil {
				events.AddException(timestamp, name, err.Error())
			}
		}
	}

	runStep("extract-privdata", func() error { return ExtractPrivData(env) })
	runStep("extract-live-config", func() error { return ExtractLiveConfigScripts(env) })
	runStep("ssh-host-key", func() error { return provisionSSHHostKey(env.SSHKeysDir) })

	return nil
}

func changeUserPassword(user, password string) error {
	if user == "" {
		return insecaerr.New(insecaerr.KindInvalidParameter, "no logged user configured")
	}
	_, err := shell.ExecCmdWithInput(fmt.Sprintf("%s:%s", user, password), "chpasswd", true, "", nil)
	return err
}

// provisionSSHHostKey generates an ed25519 host key on first boot and
// persists it under keysDir so later boots reuse the same identity
// instead of a fresh one being regenerated by the OS every time.
func provisionSSHHostKey(keysDir string) error {
	if keysDir == "" {
		return insecaerr.New(insecaerr.KindInvalidParameter, "no ssh keys directory configured")
	}
	priv := filepath.Join(keysDir, "ssh_host_ed25519_key")
	pub := priv + ".pub"

	if _, err := os.Stat(priv); os.IsNotExist(err) {
		if err := os.MkdirAll(keysDir, 0o700); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, "create ssh keys directory", err)
		}
		if _, err := shell.ExecCmd(fmt.Sprintf("ssh-keygen -q -N '' -t ed25519 -f %s", priv), false, "", nil); err != nil {
			return insecaerr.Wrap(insecaerr.KindEncryptionError, "generate ssh host key", err)
		}
	}

	for _, name := range []string{"ssh_host_ed25519_key", "ssh_host_ed25519_key.pub", "ssh_host_rsa_key", "ssh_host_rsa_key.pub", "ssh_host_ecdsa_key", "ssh_host_ecdsa_key.pub"} {
		os.Remove(filepath.Join("/etc/ssh", name))
	}
	if err := copyFile(priv, "/etc/ssh/ssh_host_ed25519_key", 0o400); err != nil {
		return err
	}
	if err := copyFile(pub, "/etc/ssh/ssh_host_ed25519_key.pub", 0o644); err != nil {
		return err
	}
	_, err := shell.ExecCmd("systemctl restart sshd", true, "", nil)
	return err
}

func copyFile(src, dst string, mode os.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("read %s", src), err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("write %s", dst), err)
	}
	return os.Chmod(dst, mode)
}
