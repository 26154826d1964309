package main

import (
	"context"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/auth"
	"github.com/seimmuc/family-tree/backend/internal/family"
	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/internal/media"
	"github.com/seimmuc/family-tree/backend/pkg/config"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

var (
	cfg  *config.Config
	conn *graph.Connection

	revoke bool

	rootCmd = &cobra.Command{
		Use:   "familyctl",
		Short: "Maintenance commands for the family tree database",
		Long: `familyctl talks to the same Neo4j database as the server, using the
same environment configuration (.env is read when present).`,
		SilenceUsage:      true,
		PersistentPreRunE: connect,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if conn != nil {
				conn.Close(context.Background())
			}
			logger.Sync()
		},
	}

	indexesCmd = &cobra.Command{
		Use:   "indexes",
		Short: "Create the constraints and indexes the server relies on",
		Args:  cobra.NoArgs,
		RunE:  runIndexes,
	}

	seedGodsCmd = &cobra.Command{
		Use:   "seed-gods",
		Short: "Replace the demo family of Greek gods with a fresh copy",
		Args:  cobra.NoArgs,
		RunE:  runSeedGods,
	}

	purgeSessionsCmd = &cobra.Command{
		Use:   "purge-sessions",
		Short: "Delete every expired login session",
		Args:  cobra.NoArgs,
		RunE:  runPurgeSessions,
	}

	grantCmd = &cobra.Command{
		Use:   "grant <username> <permission>...",
		Short: "Grant (or with --revoke, take away) view, edit or admin permissions",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runGrant,
	}
)

func init() {
	rootCmd.AddCommand(indexesCmd)
	rootCmd.AddCommand(seedGodsCmd)
	rootCmd.AddCommand(purgeSessionsCmd)
	rootCmd.AddCommand(grantCmd)
	grantCmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the permissions instead of adding them")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func connect(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	conn = graph.NewConnection(connectionConfig(cfg))
	if _, err := conn.Driver(cmd.Context()); err != nil {
		return err
	}
	return nil
}

func connectionConfig(cfg *config.Config) graph.ConnectionConfig {
	return graph.ConnectionConfig{
		URI:            cfg.Neo4jURI,
		User:           cfg.Neo4jUser,
		Password:       cfg.Neo4jPassword,
		Database:       cfg.Neo4jDatabase,
		MaxTxRetryTime: cfg.Neo4jTxRetryTime,
	}
}

func runIndexes(cmd *cobra.Command, args []string) error {
	if err := conn.EnsureIndexes(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Indexes are in place")
	return nil
}

func runSeedGods(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := media.NewLocalStorage(cfg.MediaRoot)
	if err != nil {
		return err
	}

	res, err := graph.WriteTx(ctx, conn, "seed gods", func(tx neo4j.ManagedTransaction) (*family.SeedResult, error) {
		return family.SeedDemo(ctx, graph.NewPersonWriter(tx), family.Gods)
	})
	if err != nil {
		return err
	}

	processor := media.NewProcessor(store, media.ProcessorConfig{
		AllowedMIMETypes: cfg.MediaImageMIMETypes,
		MaxBytes:         cfg.MediaMaxUploadBytes,
		PortraitMaxSize:  cfg.PortraitMaxSize,
	})
	processor.DeleteBestEffort(res.OrphanedFiles...)

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d people, added %d\n", res.Deleted, res.Added)
	return nil
}

func runPurgeSessions(cmd *cobra.Command, args []string) error {
	svc := auth.NewService(conn, auth.Config{
		Admins:         cfg.UsersAdmins,
		MakeFirstAdmin: cfg.UsersMakeFirstAdmin,
		SessionTTL:     cfg.SessionTTL,
	})
	n, err := svc.PurgeExpired(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired sessions\n", n)
	return nil
}

func runGrant(cmd *cobra.Command, args []string) error {
	perms, err := parsePermissions(args[1:])
	if err != nil {
		return err
	}
	var add, remove []graph.Permission
	if revoke {
		remove = perms
	} else {
		add = perms
	}

	ctx := cmd.Context()
	username := args[0]
	user, err := graph.WriteTx(ctx, conn, "grant permissions", func(tx neo4j.ManagedTransaction) (*graph.User, error) {
		users := graph.NewUserStore(tx)
		u, err := users.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("no user named %q", username)
		}
		return users.ModifyPermissions(ctx, u.ID, add, remove)
	})
	if err != nil {
		return err
	}

	logger.Get().Info("Permissions changed from the command line",
		zap.String("user_id", user.ID),
		zap.Bool("revoke", revoke),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%s now has %v\n", user.Username, user.Permissions)
	return nil
}

func parsePermissions(raw []string) ([]graph.Permission, error) {
	perms := make([]graph.Permission, 0, len(raw))
	for _, r := range raw {
		p, err := graph.ParsePermission(r)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}
