package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/trackpoll/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a trackpoll configuration file without starting the server.

This command parses the YAML, applies TRACKPOLL_* environment overrides,
expands environment variables, and validates all fields. It's useful for
CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  trackpoll validate -c config.yaml
  trackpoll validate --config /etc/trackpoll/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	p := cfg.Polling
	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Probe URL:     %s\n", cfg.Probe.BaseURL)
	fmt.Printf("  Intervals:     %s initial, %s max\n", p.InitialInterval.Duration(), p.MaxInterval.Duration())
	fmt.Printf("  Lifetime:      %s\n", p.MaxLifetime.Duration())
	fmt.Printf("  Backoff:       after %d polls (x%g pending, x%g failed)\n",
		*p.BackoffThreshold, p.SuccessGrowthFactor, p.FailureGrowthFactor)
	fmt.Printf("  Store:         %s\n", describeStore(cfg.Store))
	if cfg.Notify.NATS.URL != "" {
		fmt.Printf("  NATS:          %s\n", cfg.Notify.NATS.URL)
	}

	return nil
}

func describeStore(s config.StoreConfig) string {
	switch s.Type {
	case config.StoreFile:
		return "file (" + s.Path + ")"
	case config.StoreRedis:
		return "redis (" + s.Redis.Addr + ")"
	default:
		return s.Type
	}
}
