package cli

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Anonymous device quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show <device-id>",
	Short: "Print a device's current window as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuotaShow,
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset <device-id>...",
	Short: "Clear the anonymous quota of one or more devices",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuotaReset,
}

var resetWorkers int

func init() {
	quotaResetCmd.Flags().IntVar(&resetWorkers, "workers", 0, "concurrent resets (default ADMIN_WORKERS)")
	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaResetCmd)
}

func parseDevices(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("device ID %q is not a UUID", a)
		}
		out = append(out, id.String())
	}
	return out, nil
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	devices, err := parseDevices(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	deps, err := openDeps(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer deps.Close()

	st, err := deps.Gate.Status(ctx, devices[0])
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func runQuotaReset(cmd *cobra.Command, args []string) error {
	devices, err := parseDevices(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg := loadConfig()
	deps, err := openDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	workers := resetWorkers
	if workers <= 0 {
		workers = cfg.AdminWorkers
	}
	if workers <= 0 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup

	for _, id := range devices {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return fmt.Errorf("reset interrupted: %w", err)
		}
		wg.Add(1)
		go func(deviceID string) {
			defer wg.Done()
			defer sem.Release(1)
			deps.Gate.ResetAnonCounters(ctx, deviceID)
		}(id)
	}
	wg.Wait()

	fmt.Fprintf(cmd.OutOrStdout(), "reset %d device(s)\n", len(devices))
	return nil
}
