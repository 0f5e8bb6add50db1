package bootproc

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/utils/shell"
)

// ConfigureComponents runs, for every component extracted under
// env.LiveConfigDir, the script named "configure<stage>" if present --
// the two-stage equivalent of configure_components(stage). stage 0 runs
// early (before a network connection is expected), stage 1 runs once the
// desktop session is up.
func ConfigureComponents(env Environ, stage int, privDataDir string) error {
	entries, err := os.ReadDir(env.LiveConfigDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return insecaerr.Wrap(insecaerr.KindFilesystemError, "list live-config directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		component := entry.Name()
		script := filepath.Join(env.LiveConfigDir, component, fmt.Sprintf("configure%d", stage))
		if _, err := os.Stat(script); err != nil {
			continue
		}
		envVal := []string{fmt.Sprintf("PRIVDATA_DIR=/%s/%s", privDataDir, component)}
		if _, err := shell.ExecCmd(script, true, "", envVal); err != nil {
			return insecaerr.Wrap(insecaerr.KindFilesystemError, fmt.Sprintf("configure component %q stage %d", component, stage), err)
		}
	}
	return nil
}
