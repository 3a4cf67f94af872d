package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bookleaf/assist/internal/identity"
)

// batchResult is one output line of resolve-batch.
type batchResult struct {
	Line int `json:"line"`
	identity.Response
	Error string `json:"error,omitempty"`
}

func newResolveBatchCommand(ctx *commandContext) *cobra.Command {
	var inputPath string
	var workers int
	var metricsPath string

	cmd := &cobra.Command{
		Use:   "resolve-batch",
		Short: "Resolve JSON Lines requests concurrently",
		Long: `resolve-batch reads one resolve request per line (the JSON form of the
resolve flags: name, email, phone, platform, platform_identifier, context) and
writes one JSON result per line in input order. A failed request produces a
result with success=false and an error; it does not stop the batch.`,
		Example: `  bookleaf resolve-batch --input contacts.jsonl --workers 8
  cat contacts.jsonl | bookleaf resolve-batch --metrics-out resolve.prom`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer ctx.close()
			if workers < 1 {
				return fmt.Errorf("--workers must be at least 1")
			}

			in := cmd.InOrStdin()
			if inputPath != "" && inputPath != "-" {
				f, err := os.Open(inputPath)
				if err != nil {
					return fmt.Errorf("open input: %w", err)
				}
				defer f.Close()
				in = f
			}

			requests, err := readBatch(in)
			if err != nil {
				return err
			}

			resolver, err := ctx.newResolver()
			if err != nil {
				return err
			}

			results := make([]batchResult, len(requests))
			g, gctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(workers)
			for i := range requests {
				i := i
				g.Go(func() error {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					results[i].Line = requests[i].line
					if requests[i].err != nil {
						results[i].Error = requests[i].err.Error()
						return nil
					}
					res, err := resolver.Resolve(gctx, requests[i].req)
					if err != nil {
						ctx.logger.Warn("batch request failed", zap.Int("line", requests[i].line), zap.Error(err))
						results[i].Error = err.Error()
						return nil
					}
					results[i].Response = identity.NewResponse(res)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range results {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}

			if metricsPath != "" {
				if err := prometheus.WriteToTextfile(metricsPath, ctx.registry); err != nil {
					return fmt.Errorf("write metrics: %w", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "-", "JSON Lines input file (- for stdin)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Concurrent resolutions")
	cmd.Flags().StringVar(&metricsPath, "metrics-out", "", "Write resolution metrics in Prometheus text format to this file")

	return cmd
}

type batchRequest struct {
	line int
	req  identity.ResolveRequest
	err  error
}

// readBatch parses every non-blank line. Malformed lines are kept with their
// parse error so they are reported in order.
func readBatch(r io.Reader) ([]batchRequest, error) {
	var out []batchRequest
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		br := batchRequest{line: line}
		if err := json.Unmarshal([]byte(text), &br.req); err != nil {
			br.err = fmt.Errorf("invalid request JSON: %w", err)
		}
		out = append(out, br)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return out, nil
}
