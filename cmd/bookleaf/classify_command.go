package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/bookleaf/assist/internal/intent"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var rulesOnly bool
	var history []string

	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify the intent of a support message",
		Long: `classify prints the intent of a message as JSON. The configured model is used
when one is set; otherwise, or with --rules, keyword rules are applied.`,
		Example: `  bookleaf classify "When will I get my royalty payment?"
  bookleaf classify --rules "Is my book live yet?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")

			if !rulesOnly {
				gen, err := ctx.generator()
				if err != nil {
					return err
				}
				if gen != nil {
					c, err := intent.NewLLMClassifier(gen, ctx.logger).ClassifyWithHistory(cmd.Context(), message, history)
					if err != nil {
						return err
					}
					return writeJSON(cmd, c)
				}
			}

			c, err := intent.NewRuleClassifier().Classify(cmd.Context(), message)
			if err != nil {
				return err
			}
			return writeJSON(cmd, c)
		},
	}

	cmd.Flags().BoolVar(&rulesOnly, "rules", false, "Use keyword rules even when a model is configured")
	cmd.Flags().StringArrayVar(&history, "history", nil, "Earlier conversation turn, oldest first (repeatable)")

	return cmd
}
