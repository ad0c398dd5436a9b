package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/trackpoll/config"
	"github.com/jpalmerr/trackpoll/internal/store"
)

// sessionsCmd lists the sessions persisted in the configured store.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions",
	Long: `List the poll sessions persisted in the configured store.

This reads the store directly and works whether or not a trackpoll server
is running. With the memory store there is nothing to list.

Example:
  trackpoll sessions -c config.yaml
  trackpoll sessions -c config.yaml --json`,
	RunE: runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)

	sessionsCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	sessionsCmd.Flags().Bool("json", false, "print records as JSON")
	_ = sessionsCmd.MarkFlagRequired("config")
}

func runSessions(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, closeStore, err := config.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	all, err := st.GetAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read sessions: %w", err)
	}

	records := make([]store.Record, 0, len(all))
	for _, rec := range all {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	printSessions(records, cfg.Polling.MaxLifetime.Duration(), time.Now())
	return nil
}

func printSessions(records []store.Record, lifetime time.Duration, now time.Time) {
	if len(records) == 0 {
		fmt.Printf("No persisted sessions.\n")
		return
	}

	fmt.Printf("%-36s  %-20s  %6s  %10s  %s\n", "ID", "STARTED", "POLLS", "INTERVAL", "REMAINING")
	for _, rec := range records {
		remaining := "expired"
		if left := rec.Started().Add(lifetime).Sub(now); left > 0 {
			remaining = left.Truncate(time.Second).String()
		}
		fmt.Printf("%-36s  %-20s  %6d  %10s  %s\n",
			rec.ID,
			rec.Started().UTC().Format(time.RFC3339),
			rec.PollCount,
			rec.Interval(),
			remaining,
		)
	}
	fmt.Printf("\n%d session(s)\n", len(records))
}
