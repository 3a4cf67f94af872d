package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newIdentitiesCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "identities <author-id>",
		Short: "List the channel identities of an author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}

			author, err := store.GetAuthor(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("author %s: %w", args[0], err)
			}
			idents, err := store.ListIdentities(cmd.Context(), author.ID)
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd, map[string]any{
					"author":     author,
					"identities": idents,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", author.FullName, author.ID)
			if len(idents) == 0 {
				fmt.Fprintln(out, "No identities")
				return nil
			}
			rows := make([][]string, 0, len(idents))
			for _, i := range idents {
				rows = append(rows, []string{
					i.Platform,
					i.PlatformIdentifier,
					string(i.MatchingMethod),
					fmt.Sprintf("%.2f", i.ConfidenceScore),
					yesNo(i.Verified),
					i.CreatedAt.Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Platform", "Identifier", "Method", "Confidence", "Verified", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
