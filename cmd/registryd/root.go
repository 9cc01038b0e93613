// Command registryd is the registry's single long-running server process:
// it serves the HTTP API (package httpapi) and runs the background job
// queue workers (package worker) side by side in one process, the same
// "one process, one composed pipeline" shape the teacher's own daemons
// use, and the direct Go counterpart of the original's
// `background-worker`/API-server split collapsed into one binary for this
// core's size.
//
// Flag/config wiring follows the pack's jra3-linear-fuse
// cmd/linear-fuse/commands pattern: a package-level cobra.Command, its
// flags bound into spf13/viper in init(), and a cobra.OnInitialize hook
// that loads the TOML config file before Execute runs the command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "registryd",
	Short: "Run the crate registry's API server and background workers",
	Long: `registryd serves the crates.io-compatible HTTP API and runs the
background job queue workers (index sync, README rendering, RSS feeds,
default-version recomputation) in the same process.`,
	RunE: runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to registryd.toml (default: $REGISTRYD_CONFIG or ./registryd.toml)")
	rootCmd.Flags().Bool("migrate", true, "apply pending schema migrations on startup")
	rootCmd.Flags().Bool("worker", true, "run background job workers in this process")

	viper.BindPFlag("migrate", rootCmd.Flags().Lookup("migrate"))
	viper.BindPFlag("worker", rootCmd.Flags().Lookup("worker"))
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = os.Getenv("REGISTRYD_CONFIG")
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("registryd")
		viper.AddConfigPath(".")
	}
	viper.SetConfigType("toml")

	viper.SetEnvPrefix("REGISTRYD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "registryd: reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "registryd: %v\n", err)
		os.Exit(1)
	}
}
