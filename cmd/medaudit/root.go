package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/medaudit/internal/config"
	"github.com/opensource-finance/medaudit/internal/domain"
)

var (
	configPath string
	cfg        *domain.Config
)

var rootCmd = &cobra.Command{
	Use:           "medaudit",
	Short:         "Fraud and compliance screening for medical bills",
	Long:          "Runs medical bills through a compliance rule chain, anomaly detection and a composite risk score.",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		slog.SetDefault(config.NewLogger(cfg.Logging, os.Stderr))
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", os.Getenv("MEDAUDIT_CONFIG"), "YAML config file (or set MEDAUDIT_CONFIG)")
	rootCmd.Version = Version
}
