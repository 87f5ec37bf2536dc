package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/tender-engine/platform/go/auth/devtoken"
)

// Command groups authentication helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
	}
	cmd.AddCommand(devTokenCommand())
	return cmd
}

func devTokenCommand() *cobra.Command {
	var params devtoken.Params

	cmd := &cobra.Command{
		Use:   "devtoken",
		Short: "Generate an unsigned Firebase-compatible JWT for AUTH_PROVIDER=dev",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(params.Tenant); err != nil {
				return fmt.Errorf("--tenant must be a tenant id: %w", err)
			}

			token, err := devtoken.BuildUnsignedFirebaseToken(params, time.Now().UTC())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	// Required claims
	cmd.Flags().StringVar(&params.Tenant, "tenant", "", "tenant id (firebase.tenant claim)")
	cmd.Flags().StringVar(&params.UserID, "user-id", "", "user_id/sub/uid claim")
	cmd.Flags().StringVar(&params.Email, "email", "", "email claim")

	// Optional claims
	cmd.Flags().StringVar(&params.ProjectID, "project-id", "tender-engine-dev", "Firebase project ID (iss/aud)")
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().BoolVar(&params.EmailVerified, "email-verified", true, "email_verified claim")
	cmd.Flags().BoolVar(&params.IsAdmin, "admin", false, "set isAdmin=true (tenant administrator)")
	cmd.Flags().DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")

	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
