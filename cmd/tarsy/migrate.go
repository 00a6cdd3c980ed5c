package main

import (
	stdsql "database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/tarsy-run/tarsy/pkg/history"
)

// migrateCmd applies every pending schema migration and exits, for use in
// a deploy's init step rather than on every server startup (serve's
// history.Connect already applies migrations itself, mirroring the
// teacher's apply-on-connect idiom).
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("HISTORY_DATABASE_URL")
			if dsn == "" {
				return fmt.Errorf("HISTORY_DATABASE_URL is required")
			}

			db, err := stdsql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			dbName, err := currentDatabaseName(db)
			if err != nil {
				return err
			}

			if err := history.RunMigrations(db, dbName); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			return nil
		},
	}
}

func currentDatabaseName(db *stdsql.DB) (string, error) {
	var name string
	if err := db.QueryRow("SELECT current_database()").Scan(&name); err != nil {
		return "", fmt.Errorf("resolve current database name: %w", err)
	}
	return name, nil
}
