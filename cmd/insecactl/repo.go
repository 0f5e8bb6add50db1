package main

import (
	"context"
	"fmt"
	"time"

	"github.com/insecakey/inseca/internal/repository"
	"github.com/insecakey/inseca/internal/utils/logger"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// createRepoCommand creates the repo command and its archive-store
// maintenance subcommands, mirroring C9's init/list/extract/check/vacuum/
// pull operations.
func createRepoCommand() *cobra.Command {
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "manage a content-addressed archive repository",
	}
	repoCmd.AddCommand(
		createRepoInitCommand(),
		createRepoArchiveCommand(),
		createRepoListCommand(),
		createRepoExtractCommand(),
		createRepoCheckCommand(),
		createRepoVacuumCommand(),
		createRepoPullCommand(),
	)
	return repoCmd
}

func createRepoInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init REPO_DIR PASSWORD",
		Short: "initialize a new, empty repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Init(args[0], args[1])
			if err != nil {
				return err
			}
			id, err := repo.ID()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "repository %q initialized\n", id)
			return nil
		},
	}
}

func createRepoArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive REPO_DIR PASSWORD SOURCE_DIR",
		Short: "store source_dir as a new archive",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			id, err := repo.CreateArchive(args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive %q created\n", id)
			return nil
		},
	}
}

func createRepoListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list REPO_DIR PASSWORD",
		Short: "list every archive in the repository, oldest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			ids, err := repo.ListArchives()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func createRepoExtractCommand() *cobra.Command {
	var subset []string
	cmd := &cobra.Command{
		Use:   "extract REPO_DIR PASSWORD ARCHIVE_ID DEST_DIR",
		Short: "restore an archive's files (or a subset of paths) under dest_dir",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			return repo.Extract(args[2], args[3], subset)
		},
	}
	cmd.Flags().StringSliceVar(&subset, "only", nil, "restore only these archive-relative paths (repeatable, comma-separated)")
	return cmd
}

func createRepoCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check REPO_DIR PASSWORD",
		Short: "self-verify every stored object, reporting any broken segment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			broken, err := repo.Check()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(broken) == 0 {
				fmt.Fprintln(out, "repository clean")
				return nil
			}
			for _, path := range broken {
				fmt.Fprintln(out, path)
			}
			return fmt.Errorf("%d broken segment(s) found", len(broken))
		},
	}
}

func createRepoVacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum REPO_DIR PASSWORD",
		Short: "remove objects no longer referenced by any archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			removed, err := repo.Vacuum()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d object(s) removed\n", removed)
			return nil
		},
	}
}

func createRepoPullCommand() *cobra.Command {
	var resync bool
	cmd := &cobra.Command{
		Use:   "pull REPO_DIR PASSWORD BASE_URL ARCHIVE_ID...",
		Short: "mirror one or more archives from a remote repository over HTTPS",
		Args:  cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := repository.Open(args[0], args[1])
			if err != nil {
				return err
			}
			baseURL := args[2]
			archiveIDs := args[3:]
			transport := repository.NewHTTPTransport(baseURL)

			bar := progressbar.NewOptions(len(archiveIDs),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(200*time.Millisecond),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetDescription("pulling archives"),
			)

			log := logger.Logger()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for _, id := range archiveIDs {
				if err := repo.Pull(ctx, transport, id); err != nil {
					return fmt.Errorf("pull %q: %w", id, err)
				}
				_ = bar.Add(1)
			}

			if resync {
				broken, err := repo.Check()
				if err != nil {
					return err
				}
				if len(broken) > 0 {
					log.Infof("resynchronising %d broken segment(s)", len(broken))
					if err := repo.Resync(ctx, transport, broken); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&resync, "resync", false, "after pulling, check and re-fetch any broken segment")
	return cmd
}
