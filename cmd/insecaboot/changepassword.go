package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insecakey/inseca/internal/bootproc"
	"github.com/spf13/cobra"
)

// createChangePasswordCommand creates the change-password subcommand: it
// replaces one user slot's password in-place in resources/blob0.json,
// mirroring ChangeUserSlotPassword's wrapped-re-encryption of blob0.
func createChangePasswordCommand() *cobra.Command {
	var userUUID string
	cmd := &cobra.Command{
		Use:   "change-password DUMMY_DIR OLD_PASSWORD NEW_PASSWORD",
		Short: "change one user slot's password on a mounted dummy partition",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob0Path := filepath.Join(args[0], "resources", "blob0.json")
			raw, err := os.ReadFile(blob0Path)
			if err != nil {
				return err
			}
			slots, err := bootproc.ParseBlob0File(raw)
			if err != nil {
				return err
			}

			uuid := userUUID
			if uuid == "" {
				blob0, slot, err := bootproc.UnlockBlob0(args[1], slots)
				if err != nil {
					return err
				}
				_ = blob0
				uuid = slot.UUID
			}

			if err := bootproc.ChangeUserSlotPassword(slots, uuid, args[1], args[2]); err != nil {
				return err
			}

			out, err := bootproc.EncodeBlob0File(slots)
			if err != nil {
				return err
			}
			if err := os.WriteFile(blob0Path, out, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password changed for user %q\n", uuid)
			return nil
		},
	}
	cmd.Flags().StringVar(&userUUID, "user", "", "user slot UUID to change (default: whichever slot old-password unlocks)")
	return cmd
}
