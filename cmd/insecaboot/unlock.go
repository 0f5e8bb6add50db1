package main

import (
	"fmt"

	"github.com/insecakey/inseca/internal/bootproc"
	"github.com/insecakey/inseca/internal/fingerprint"
	"github.com/spf13/cobra"
)

var (
	dummyDir           string
	efiDir             string
	liveDir            string
	devicePath         string
	interPartitionHash string
	tableKindFlag      string
)

// createUnlockCommand creates the unlock subcommand, mirroring
// BootProcessWKS.start: it reads the already-mounted dummy/EFI/live
// partitions and derives the internal partition's password from the
// user's secret and the device's integrity fingerprint.
func createUnlockCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock USER_PASSWORD",
		Short: "run the boot-time unlock chain and print the internal partition password",
		Args:  cobra.ExactArgs(1),
		RunE:  executeUnlock,
	}
	flags := cmd.Flags()
	flags.StringVar(&dummyDir, "dummy-dir", "", "mountpoint of the dummy partition (required)")
	flags.StringVar(&efiDir, "efi-dir", "", "mountpoint of the EFI system partition (required)")
	flags.StringVar(&liveDir, "live-dir", "", "mountpoint of the live partition (required)")
	flags.StringVar(&devicePath, "device", "", "raw device path the key was provisioned on (required)")
	flags.StringVar(&interPartitionHash, "inter-partition-hash", "", "inter-partition hash computed by the block-device layer (required)")
	flags.StringVar(&tableKindFlag, "table-kind", "gpt", "partition table kind: mbr, gpt or hybrid")
	for _, name := range []string{"dummy-dir", "efi-dir", "live-dir", "device", "inter-partition-hash"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func parseTableKind(s string) (fingerprint.TableKind, error) {
	switch s {
	case "mbr":
		return fingerprint.TableMBR, nil
	case "gpt":
		return fingerprint.TableGPT, nil
	case "hybrid":
		return fingerprint.TableHybrid, nil
	default:
		return 0, fmt.Errorf("unknown --table-kind %q (expected mbr, gpt or hybrid)", s)
	}
}

func executeUnlock(cmd *cobra.Command, args []string) error {
	kind, err := parseTableKind(tableKindFlag)
	if err != nil {
		return err
	}

	mp := bootproc.MountPoints{DummyDir: dummyDir, EFIDir: efiDir, LiveDir: liveDir}
	facts := bootproc.DeviceFacts{
		DevicePath:         devicePath,
		TableKind:          kind,
		InterPartitionHash: interPartitionHash,
	}

	// No admin-signature verifier is wired here: VerifyAdminSignature sources
	// its public key and signed blob however the caller's metadata layer
	// stores them, which this CLI leaves to a future deployment-specific
	// wiring rather than inventing a fixed file layout for it.
	result, err := bootproc.Unlock(args[0], mp, facts, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fingerprint: %s\n", result.Fingerprint)
	fmt.Fprintf(out, "internal-password: %s\n", result.InternalPassword)
	for _, entry := range result.Log {
		fmt.Fprintf(out, "checkpoint %s: %s\n", entry.Name, entry.Checkpoint)
	}
	return nil
}
