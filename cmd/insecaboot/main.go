// Command insecaboot is the device-side CLI: it drives the boot-time
// unlock chain and user-slot password changes, mirroring
// BootProcessWKS.start and built in the teacher's cobra command style.
// Post-unlock component configuration is not exposed as a command.
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
		Use:           "insecaboot",
		Short:         "unlock and configure a provisioned INSECA key at boot time",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger.SetLevel(zapcore.DebugLevel)
			}
			return nil
		},
	}

	var fs *pflag.FlagSet = root.PersistentFlags()
	fs.SortFlags = false
	fs.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		createUnlockCommand(),
		createChangePasswordCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "insecaboot:", err)
		os.Exit(1)
	}
}
