package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Unlimited review access for signed-in users",
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant <user-id>",
	Short: "Exempt a user from the review quota",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAccess(cmd, args[0], true) },
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Put a user back under the review quota",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAccess(cmd, args[0], false) },
}

var accessShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print the user's current gate decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccessShow,
}

func init() {
	accessCmd.AddCommand(accessGrantCmd)
	accessCmd.AddCommand(accessRevokeCmd)
	accessCmd.AddCommand(accessShowCmd)
}

func setAccess(cmd *cobra.Command, userID string, unlimited bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	ctx := cmd.Context()
	deps, err := openDeps(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer deps.Close()

	if err := deps.Profiles.SetUnlimitedAccess(ctx, userID, unlimited); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	verb := "revoked"
	if unlimited {
		verb = "granted"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "unlimited access %s for %s\n", verb, userID)
	return nil
}

func runAccessShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deps, err := openDeps(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer deps.Close()

	res := deps.Gate.CanAuthedViewAnother(ctx, args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "allowed=%t remaining=%d unlimited=%t\n", res.Allowed, res.Remaining, res.Unlimited)
	return nil
}
