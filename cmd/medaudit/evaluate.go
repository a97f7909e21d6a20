package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/medaudit/internal/domain"
)

var batchSize int

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <claim-id>",
	Short: "Evaluate one stored bill and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvaluate,
}

var batchCmd = &cobra.Command{
	Use:   "batch <claim-id>...",
	Short: "Evaluate stored bills in concurrent batches",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().IntVar(&batchSize, "batch-size", 0, "bills evaluated concurrently per batch (default from config)")
	rootCmd.AddCommand(evaluateCmd, batchCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	res, err := a.eval.EvaluateBill(ctx, args[0])
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("no bill with claim id %q", args[0])
	}
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	results, summary := a.eval.BatchEvaluate(ctx, args, batchSize)
	if err := printJSON(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "processed %d/%d bills\n", summary.Processed, summary.Total)
	for _, f := range summary.Failures {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", f.ClaimID, f.Error)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
