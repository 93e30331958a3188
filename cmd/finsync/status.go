package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/finsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection status",
	Long: `Status subscribes to the store as the current user and reports whether
local data is synced, syncing, offline or in error.

Without --watch it waits for the first settled state and exits.`,
	Example: `  finsync status
  finsync status --watch`,
	RunE: runStatus,
}

var (
	statusWatch   bool
	statusTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false,
		"Keep running and print every change")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 15*time.Second,
		"How long to wait for a settled state")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	apiClient, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer apiClient.Close()

	if !statusWatch {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, statusTimeout)
		defer timeoutCancel()
	}

	apiClient.Start(ctx)

	last := apiClient.Status.Status()
	if !apiClient.Identity.Current().Present() && !statusWatch {
		printStatus(last)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if !statusWatch {
				printStatus(apiClient.Status.Status())
			}
			return nil
		case s, ok := <-apiClient.Status.Updates():
			if !ok {
				return nil
			}
			last = s
			if statusWatch {
				printStatus(s)
				continue
			}
			if s.State != models.StateSyncing {
				printStatus(last)
				if s.State == models.StateError {
					return fmt.Errorf("status: %s", s.ErrorMessage)
				}
				return nil
			}
		}
	}
}

func printStatus(s models.SyncStatus) {
	if jsonOutput {
		printJSON(s)
		return
	}

	switch s.State {
	case models.StateSynced:
		printSuccess("● %s", s)
	case models.StateSyncing:
		printInfo("◌ %s", s)
	case models.StateOffline:
		printWarning("○ %s", s)
	case models.StateError:
		printError("✗ %s", s)
	}
}
