// Command insecactl is the admin-side CLI: it drives repository
// maintenance (init/archive/extract/check/vacuum/pull) and reports on a
// configuration root, mirroring the operator-facing tooling described in
// original_source's admin scripts and built in the teacher's
// one-constructor-per-subcommand cobra style (cmd/os-image-composer).
package main

import (
	"fmt"
	"os"

	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

var verbose bool

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "insecactl",
		Short:         "Provision, update and maintain INSECA keys and repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	var fs *pflag.FlagSet = flags
	fs.SortFlags = false
	fs.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		createValidateCommand(),
		createRepoCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "insecactl:", err)
		os.Exit(1)
	}
}
