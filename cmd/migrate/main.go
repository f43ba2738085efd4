// Command migrate manages the studiodesk database schema and seed data.
package main

import (
	"database/sql"
	"log/slog"
	"os"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/config"
	"studiodesk.app/internal/logging"
	"studiodesk.app/internal/migrate"
	"studiodesk.app/internal/obs"
)

var configFile string

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the migrate command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the studiodesk database schema",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	cmd.PersistentFlags().String("database.url", "", "PostgreSQL connection URL")

	cmd.AddCommand(
		migratorCmd("up", "Apply all pending migrations", func(cmd *cobra.Command, m *migrate.Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
		migratorCmd("down", "Roll back the most recent migration", func(cmd *cobra.Command, m *migrate.Migrator, _ []string) error {
			if err := m.Down(); err != nil {
				return err
			}
			return printVersion(cmd, m)
		}),
		migratorCmd("reset", "Roll back every migration", func(cmd *cobra.Command, m *migrate.Migrator, _ []string) error {
			if err := m.Reset(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
		migratorCmd("version", "Print the current schema version", func(cmd *cobra.Command, m *migrate.Migrator, _ []string) error {
			return printVersion(cmd, m)
		}),
		newForceCmd(),
		newSeedCmd(),
	)
	return cmd
}

type migratorFunc func(cmd *cobra.Command, m *migrate.Migrator, args []string) error

func migratorCmd(use, short string, fn migratorFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				return fn(cmd, m, args)
			})
		},
	}
}

func newForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations and clear the dirty flag",
		Long: `Set the schema version without running migrations and clear the dirty flag.
Pass -1 after "--" (migrate force -- -1) to mark no migration as applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("MIGRATION_INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, func(m *migrate.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
}

func newSeedCmd() *cobra.Command {
	var admin migrate.Admin
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert built-in roles, permissions, grants and an optional admin user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			databaseURL, logger, err := setup(cmd)
			if err != nil {
				return err
			}
			if admin.Password == "" {
				admin.Password = os.Getenv(config.EnvPrefix + "ADMIN_PASSWORD")
			}

			db, err := sql.Open("pgx", databaseURL)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			defer db.Close()

			var adminArg *migrate.Admin
			if strings.TrimSpace(admin.Email) != "" {
				adminArg = &admin
			}
			res, err := migrate.NewSeeder(db, auth.NewArgon2idHasher(), logger).Seed(cmd.Context(), adminArg)
			if err != nil {
				return err
			}
			cmd.Printf("Seeded %d roles, %d permissions, %d grants (admin created: %t)\n",
				res.Roles, res.Permissions, res.Grants, res.AdminCreated)
			return nil
		},
	}
	cmd.Flags().StringVar(&admin.Email, "admin-email", "", "email of the SUPER_ADMIN user to create")
	cmd.Flags().StringVar(&admin.Password, "admin-password", "",
		"password of the SUPER_ADMIN user (default $"+config.EnvPrefix+"ADMIN_PASSWORD)")
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*migrate.Migrator) error) error {
	databaseURL, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	m, err := migrate.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("error closing migrator", "error", err)
		}
	}()
	return fn(m)
}

// setup loads the configuration layers and returns the database URL.
func setup(cmd *cobra.Command) (string, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return "", nil, err
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return "", nil, err
	}
	logger := logging.Setup("studiodesk-migrate", obs.Version, cfg.Log.Format, level, os.Stderr)
	slog.SetDefault(logger)
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return "", nil, oops.Code(auth.CodeConfiguration).
			Errorf("database url is required: set --database.url or %sDATABASE__URL", config.EnvPrefix)
	}
	return cfg.Database.URL, logger, nil
}

func printVersion(cmd *cobra.Command, m *migrate.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	cmd.Printf("Schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
