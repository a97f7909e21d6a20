// Package config loads medaudit configuration from layered sources:
// built-in defaults, an optional YAML file, then MEDAUDIT_ environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/medaudit/internal/domain"
	"github.com/opensource-finance/medaudit/internal/scoring"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nesting levels: MEDAUDIT_SCORING__HIGH_THRESHOLD sets scoring.high_threshold.
const EnvPrefix = "MEDAUDIT_"

// Load builds the configuration. An empty path skips the file layer; a path
// that does not exist is an error. MEDAUDIT_TIER=pro starts from the Pro
// defaults instead of the Community ones.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	defaults := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(os.Getenv(EnvPrefix+"TIER"))) == domain.TierPro {
		defaults = domain.ProConfig()
	}
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MEDAUDIT_EVENT_BUS__NATS_URL to event_bus.nats_url.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks cross-field constraints koanf cannot express.
func Validate(cfg *domain.Config) error {
	var errs []error

	if err := scoring.ValidateWeights(cfg.Scoring.Weights); err != nil {
		errs = append(errs, err)
	}
	if err := scoring.ValidateThresholds(cfg.Scoring.HighThreshold, cfg.Scoring.MediumThreshold); err != nil {
		errs = append(errs, err)
	}
	if cfg.Evaluation.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("evaluation.batch_size must be positive, got %d", cfg.Evaluation.BatchSize))
	}
	if cfg.Legality.AmountMax < cfg.Legality.AmountMin {
		errs = append(errs, fmt.Errorf("legality.amount_max %.2f is below amount_min %.2f", cfg.Legality.AmountMax, cfg.Legality.AmountMin))
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", cfg.Tier))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
