// Command importd runs resumable directory imports.
//
// It serves an HTTP control surface for import jobs (serve) or drives a
// single job to completion in the terminal (run). Job state lives in Redis
// so either mode can pick up a job the other left behind.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Sternrassler/directory-import/pkg/logging"
)

// Version is set at build time.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "importd",
	Short: "Resumable, rate-limit-aware directory import",
	Long: `importd imports accounts from an upstream directory API in small batches.

Jobs survive restarts, pause before the upstream quota runs out and resume
where they left off once the window resets.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := logging.ConfigFromEnv()
		if lvl := viper.GetString("log.level"); lvl != "" {
			cfg.Level = logging.LogLevel(lvl)
		}
		if viper.GetBool("log.pretty") {
			cfg.Pretty = true
		}
		logging.Setup(cfg)
		return nil
	},
}

func init() {
	settingDefaultConfig()

	flags := rootCmd.PersistentFlags()
	flags.String("storage", "redis", "job storage backend (redis, memory)")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("query", "", "upstream search query selecting candidates")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human-readable log output")

	viper.BindPFlag("storage", flags.Lookup("storage"))
	viper.BindPFlag("redis.addr", flags.Lookup("redis-addr"))
	viper.BindPFlag("upstream.query", flags.Lookup("query"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.pretty", flags.Lookup("log-pretty"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
