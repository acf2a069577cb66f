// Command registry serves the user and customer registries over HTTP.
//
//	registry serve --addr :8000 --users-backend sql --database-dsn ./registry.db
//
// Every flag has a REGISTRY_* environment variable and a config file key;
// see package config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Blank-import the SQL drivers so they self-register with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:           "registry",
		Short:         "User and customer registry service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	root.AddCommand(newServeCmd(v, &configFile))
	return root
}
