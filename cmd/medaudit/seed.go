package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/medaudit/internal/domain"
)

// seedFile is the layout read by the seed command.
type seedFile struct {
	BillingCodes []*domain.BillingCode `json:"billingCodes"`
	Bills        []*domain.Bill        `json:"bills"`
}

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Load bills and billing codes from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	for _, bc := range seed.BillingCodes {
		if err := a.catalog.Save(ctx, bc); err != nil {
			return fmt.Errorf("save billing code %s: %w", bc.Code, err)
		}
	}
	for _, bill := range seed.Bills {
		if err := a.repo.SaveBill(ctx, bill); err != nil {
			return fmt.Errorf("save bill %s: %w", bill.ClaimID, err)
		}
	}

	slog.Info("seed loaded",
		"billing_codes", len(seed.BillingCodes),
		"bills", len(seed.Bills),
	)
	return nil
}
