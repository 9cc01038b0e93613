// Command registry-admin is the registry's one-off operator toolbox:
// delete-version, enqueue-job, and sync-index, grounded subcommand for
// subcommand on original_source/src/bin/crates-admin/*.rs. Each
// subcommand opens its own short-lived database connection and exits;
// none of them run a server or worker loop.
//
// encrypt-github-tokens, the fourth subcommand in the original, has no
// home here: this core's database.User has no gh_access_token/
// gh_encrypted_token columns to migrate (see DESIGN.md) because it
// never stores a user's GitHub OAuth token in the first place, so the
// backfill this subcommand performs in the original does not apply.
package main

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "registry-admin",
	Short: "One-off administrative operations against the crate registry database",
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string (default: $REGISTRY_ADMIN_DATABASE_URL)")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.SetEnvPrefix("REGISTRY_ADMIN")
	viper.AutomaticEnv()

	rootCmd.AddCommand(deleteVersionCmd)
	rootCmd.AddCommand(enqueueJobCmd)
	rootCmd.AddCommand(syncIndexCmd)
}

func openDB() (*sql.DB, error) {
	dsn := viper.GetString("database_url")
	if dsn == "" {
		return nil, fmt.Errorf("database-url is required (flag or $REGISTRY_ADMIN_DATABASE_URL)")
	}
	return sql.Open("pgx", dsn)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "registry-admin: %v\n", err)
		os.Exit(1)
	}
}
