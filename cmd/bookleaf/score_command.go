package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bookleaf/assist/internal/confidence"
	"github.com/bookleaf/assist/internal/config"
)

func newScoreCommand(ctx *commandContext) *cobra.Command {
	var in confidence.Input
	var weightsFlag string
	var threshold float64
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the overall confidence of an answer",
		Long: `score combines identity, intent, retrieval and generation confidence into one
weighted score and decides whether the answer can be sent automatically or
must be escalated to a human.`,
		Example: `  bookleaf score --identity 1.0 --intent 0.92 --retrieval 0.85 --generation 0.75
  bookleaf score --identity 0.5 --intent 0.45 --retrieval 0.4 --generation 0.5 --json
  bookleaf score --identity 0.9 --intent 0.9 --retrieval 0.3 --generation 0.9 --weights 0.4,0.2,0.2,0.2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			agg, err := confidence.FromConfig(cfg.Confidence)
			if err != nil {
				return err
			}

			if strings.TrimSpace(weightsFlag) != "" {
				w, err := config.ParseWeights(weightsFlag)
				if err != nil {
					return err
				}
				in.Weights = w
			}
			if cmd.Flags().Changed("threshold") {
				in.Threshold = &threshold
			}
			if err := in.Validate(); err != nil {
				return err
			}

			b := agg.Compute(in)
			if jsonOut {
				return writeJSON(cmd, scoreOutput{
					Breakdown:   b,
					Explanation: confidence.Explain(b),
					Escalation:  escalationFor(b),
				})
			}
			printBreakdown(cmd.OutOrStdout(), b)
			return nil
		},
	}

	cmd.Flags().Float64Var(&in.Identity, "identity", 0, "Identity confidence [0,1]")
	cmd.Flags().Float64Var(&in.Intent, "intent", 0, "Intent confidence [0,1]")
	cmd.Flags().Float64Var(&in.Retrieval, "retrieval", 0, "Retrieval confidence [0,1]")
	cmd.Flags().Float64Var(&in.Generation, "generation", 0, "Generation confidence [0,1]")
	cmd.Flags().StringVar(&weightsFlag, "weights", "", "Weight override: identity,intent,retrieval,generation")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Auto-respond threshold override [0,1]")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")

	return cmd
}

type scoreOutput struct {
	confidence.Breakdown
	Explanation string `json:"explanation"`
	Escalation  string `json:"escalation_reason,omitempty"`
}

func escalationFor(b confidence.Breakdown) string {
	if !confidence.ShouldEscalate(b) {
		return ""
	}
	return confidence.EscalationReason(b)
}

func printBreakdown(w io.Writer, b confidence.Breakdown) {
	rows := make([][]string, 0, len(confidence.Factors))
	for _, f := range confidence.Factors {
		fs := b.Factors[f]
		name := string(f)
		if f == b.Weakest.Name {
			name += " *"
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%.3f", fs.Score),
			fmt.Sprintf("%.3f", fs.Weight),
			fmt.Sprintf("%.3f", fs.Contribution),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Factor", "Score", "Weight", "Contribution"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	action := green(string(b.Action))
	if confidence.ShouldEscalate(b) {
		action = red(string(b.Action))
	}
	fmt.Fprintf(w, "%s %.3f (threshold %.2f)  %s\n", bold("Overall:"), b.Overall, b.Threshold, action)
	fmt.Fprintln(w, gray(confidence.Explain(b)))
	if reason := escalationFor(b); reason != "" {
		fmt.Fprintf(w, "%s %s\n", bold("Escalation:"), reason)
	}
}
