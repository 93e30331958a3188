package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/finsync/internal/client"
	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/events"
)

var (
	cfgFile    string
	jsonOutput bool
	logLevel   string

	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "finsync",
	Short: "Connection status and data export for finance documents",
	Long: `finsync watches the connection to the finance document store and
exports everything a user owns as a single CSV file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewLoader(cfgFile).Load()
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if jsonOutput {
			cfg.Log.Format = "json"
			cfg.Log.Color = false
		}

		logger, err = events.NewLogger(&cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./finsync.json or ~/.config/finsync/config.json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Machine-readable JSON output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"success": false,
				"error":   err.Error(),
			})
		} else {
			printError("Error: %v", err)
		}
		os.Exit(1)
	}
}

// openClient assembles the services from the loaded configuration.
func openClient(ctx context.Context) (*client.Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	c, err := client.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return c, nil
}

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed, color.Bold)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("encode output: %v", err)
	}
}
