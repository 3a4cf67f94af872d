package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

type snapshotter interface {
	Snapshot(ctx context.Context, destPath string) error
}

func newSnapshotCommand(ctx *commandContext) *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Write a verified copy of the SQLite identity database",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			s, ok := store.(snapshotter)
			if !ok {
				return fmt.Errorf("storage engine %q does not support snapshots", ctx.config.Storage.Engine)
			}
			if err := s.Snapshot(cmd.Context(), outPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Snapshot written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Destination file (must not exist)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
