package display

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/insecakey/inseca/internal/utils/logger"
)

// PrintProvisioningSummary displays the outcome of a successful provisioning
// or update run: the device path and the artifacts (metadata offsets,
// fingerprint, slot) that were written.
func PrintProvisioningSummary(devicePath string, facts map[string]string) {
	log := logger.Logger()

	log.Infof("Finalizing provisioning summary for: %s", devicePath)

	if len(facts) == 0 {
		log.Warn("No provisioning facts to report")
		return
	}

	log.Info("")
	log.Info("╔════════════════════════════════════════════════════════════════════════════╗")
	log.Info("║                    ✓ KEY PROVISIONED SUCCESSFULLY                           ║")
	log.Info("╚════════════════════════════════════════════════════════════════════════════╝")
	log.Info("")
	log.Infof("  Device:   %s", devicePath)
	log.Info("")

	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Infof("    • %-24s %s", k, facts[k])
	}

	log.Info("════════════════════════════════════════════════════════════════════════════")
	log.Info("")
}

// PrintArchiveDirectorySummary logs the regular files directly under
// repoDir, one line each with its on-disk size. Subdirectories are neither
// listed nor descended into, and no box is drawn.
func PrintArchiveDirectorySummary(repoDir string) {
	log := logger.Logger()

	entries, err := os.ReadDir(repoDir)
	if err != nil {
		log.Warnf("Unable to read repository directory %s: %v", repoDir, err)
		return
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		log.Warn("No archive segments found in repository directory")
		return
	}

	log.Info("")
	log.Infof("  Repository: %s", repoDir)
	for _, name := range names {
		fullPath := filepath.Join(repoDir, name)
		info, err := os.Stat(fullPath)
		size := "unknown"
		if err == nil {
			size = humanSize(info.Size())
		}
		log.Infof("    • %s (%s)", name, size)
	}
	log.Info("")
}

func humanSize(n int64) string {
	mb := float64(n) / (1024 * 1024)
	if mb > 1024 {
		return fmt.Sprintf("%.2f GB", mb/1024)
	}
	return fmt.Sprintf("%.2f MB", mb)
}
