package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bookleaf/assist/internal/identity"
)

//go:embed demo_authors.json
var demoAuthors []byte

func newSeedCommand(ctx *commandContext) *cobra.Command {
	var filePath string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load known authors into the identity store",
		Long: `seed registers authors from a JSON array (full_name, email, phone, metadata)
with verified identities for their e-mail and phone. Without --file a small
demo set is loaded. Authors already present are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			data := demoAuthors
			if filePath != "" {
				data, err = os.ReadFile(filePath)
				if err != nil {
					return fmt.Errorf("read seed file: %w", err)
				}
			}
			var authors []identity.SeedAuthor
			if err := json.Unmarshal(data, &authors); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			res, err := identity.Seed(cmd.Context(), store, authors, cfg.Identity.DefaultRegion, ctx.logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Authors created: %d\nIdentities created: %d\nSkipped: %d\n",
				res.Authors, res.Identities, res.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "", "JSON file of authors to seed")
	return cmd
}
