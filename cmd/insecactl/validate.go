package main

import (
	"fmt"

	"github.com/insecakey/inseca/internal/configroot"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand.
func createValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate ROOT_DIR",
		Short: "load a configuration root and report every configuration's id and kind",
		Args:  cobra.ExactArgs(1),
		RunE:  executeValidate,
	}
	return cmd
}

func executeValidate(cmd *cobra.Command, args []string) error {
	root, err := configroot.Load(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	kinds := []configroot.Kind{configroot.KindBuild, configroot.KindInstall, configroot.KindFormat, configroot.KindDomain, configroot.KindRepo}
	total := 0
	for _, kind := range kinds {
		ids := root.IDs(kind)
		for _, id := range ids {
			c, err := root.Get(kind, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%-8s %-30s %s\n", kind, id, c.Descr)
			total++
		}
	}
	if err := root.ValidateReferences(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d configurations OK (master=%v)\n", total, root.IsMaster)
	return nil
}
