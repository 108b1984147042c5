package cli

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/badgeminter/internal/control"
	"github.com/vietddude/badgeminter/internal/infra/storage"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or move the recovery checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the last fully scanned block",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(cmd, func(repo storage.CheckpointRepository, name string) error {
			block, ok, err := repo.Get(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to read checkpoint: %w", err)
			}
			if !ok {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: not set\n", name)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", name, block)
			return nil
		})
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset [block_height]",
	Short: "Move the checkpoint to a block, or clear it when no block is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			height uint64
			err    error
		)
		if len(args) == 1 {
			height, err = strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block height: %w", err)
			}
		}

		return withCheckpoints(cmd, func(repo storage.CheckpointRepository, name string) error {
			if len(args) == 0 {
				if err := repo.Delete(cmd.Context(), name); err != nil {
					return fmt.Errorf("failed to clear checkpoint: %w", err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared checkpoint %s\n", name)
				return nil
			}
			if err := repo.Save(cmd.Context(), name, height); err != nil {
				return fmt.Errorf("failed to reset checkpoint: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Successfully reset checkpoint %s to block %d\n", name, height)
			return nil
		})
	},
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointResetCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func withCheckpoints(cmd *cobra.Command, fn func(repo storage.CheckpointRepository, name string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("checkpoint commands need database.url")
	}

	store, _, err := control.OpenStore(cmd.Context(), cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	return fn(store.Checkpoints, cfg.Recovery.CheckpointName)
}
