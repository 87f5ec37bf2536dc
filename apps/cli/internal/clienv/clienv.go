// Package clienv opens the database pool and logger shared by tenderctl commands.
package clienv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/tender-engine/platform/go/logging"
	"github.com/zenGate-Global/tender-engine/platform/go/persistence"
	"github.com/zenGate-Global/tender-engine/platform/go/tenant"
)

// DatabaseFlag registers --database-url, defaulting to $DATABASE_URL.
func DatabaseFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "database-url", os.Getenv("DATABASE_URL"), "Postgres connection string (default $DATABASE_URL)")
}

// EnvKeyFlag registers --env-key, defaulting to $ENV_KEY.
func EnvKeyFlag(cmd *cobra.Command, target *string) {
	def := os.Getenv("ENV_KEY")
	if def == "" {
		def = "dev"
	}
	cmd.Flags().StringVar(target, "env-key", def, "environment key used for tenant storage prefixes (default $ENV_KEY)")
}

// Logger writes to stderr so command output stays machine readable.
func Logger(cmd *cobra.Command) (*zap.Logger, error) {
	return platformlogging.NewLogger(platformlogging.Config{
		Component: "tenderctl",
		Level:     os.Getenv("LOG_LEVEL"),
		Output:    cmd.ErrOrStderr(),
	})
}

func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	return persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL, ConnectRetries: 3})
}

// TenantContext parses the tenant id and scopes ctx to it.
func TenantContext(ctx context.Context, envKey, tenantID string) (context.Context, error) {
	id, err := uuid.Parse(tenantID)
	if err != nil || id == uuid.Nil {
		return nil, fmt.Errorf("--tenant must be a tenant id")
	}
	return tenant.WithSpace(ctx, tenant.NewSpace(envKey, id)), nil
}
