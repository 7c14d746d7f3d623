package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"unirate/internal/adapters/observability"
	"unirate/internal/bootstrap"
	"unirate/internal/shared"
)

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "Inspect and administer the review access gate",
	Long: `gatectl talks to the same stores as the API server.

Use it to look at a device's anonymous quota, clear quotas, and grant or
revoke unlimited review access for a user.`,
	SilenceUsage: true,
}

// openDeps is swapped out in tests.
var openDeps = func(ctx context.Context, cfg shared.Config) (*bootstrap.Deps, error) {
	return bootstrap.Open(ctx, cfg)
}

var loadConfig = shared.Load

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log.Logger = observability.NewLogger(loadConfig().AppEnv)
	}
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(accessCmd)
}
