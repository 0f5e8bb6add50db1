package bootproc

import (
	"fmt"
	"os"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/metadata"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// ExtractPrivData decrypts /privdata.tar.enc (if present) under
// env.PrivDataDir, then copies each component's extracted PRIVDATA
// directory into the live filesystem root, mirroring
// Environ.extract_privdata.
func ExtractPrivData(env Environ) error {
	const encFile = "/privdata.tar.enc"
	if _, err := os.Stat(encFile); os.IsNotExist(err) {
		return nil
	}

	if err := os.MkdirAll(env.PrivDataDir, 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create privdata directory", err)
	}
	if err := decryptTarball(encFile, env.PrivDataKeyFile, env.PrivDataDir); err != nil {
		return err
	}

	entries, err := os.ReadDir(env.PrivDataDir)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "list privdata directory", err)
	}
	for _, entry := range entries {
		component := entry.Name()
		if _, err := shell.ExecCmd(fmt.Sprintf("cp -a %s/%s/. /%s", env.PrivDataDir, component, component), true, "", nil); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("copy PRIVDATA for component %q", component), err)
		}
	}
	return nil
}

// ExtractLiveConfigScripts decrypts /live-config.tar.enc (if present) into
// env.LiveConfigDir, overwriting any stale directory left by a previous
// boot, mirroring Environ.extract_live_config_scripts.
func ExtractLiveConfigScripts(env Environ) error {
	const encFile = "/live-config.tar.enc"
	if _, err := os.Stat(encFile); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(env.LiveConfigDir); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "clear stale live-config directory", err)
	}
	if err := os.MkdirAll(env.LiveConfigDir, 0o700); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create live-config directory", err)
	}
	return decryptTarball(encFile, env.PrivDataKeyFile, env.LiveConfigDir)
}

func decryptTarball(encFile, privKeyFile, destDir string) error {
	privKey, err := os.ReadFile(privKeyFile)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindMetadataCorrupt, "read privdata decryption key", err)
	}
	enc, err := os.ReadFile(encFile)
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("read %s", encFile), err)
	}
	plain, err := metadata.DecryptWithPrivateKey(privKey, string(enc))
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindEncryptionError, fmt.Sprintf("decrypt %s", encFile), err)
	}

	tmp, err := os.CreateTemp("", "inseca-tarball-")
	if err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "create temp tarball", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(plain); err != nil {
		tmp.Close()
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "write temp tarball", err)
	}
	tmp.Close()

	if _, err := shell.ExecCmd(fmt.Sprintf("tar xf %s -C %s", tmp.Name(), destDir), false, "", nil); err != nil {
		return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("extract %s", encFile), err)
	}
	return nil
}
