package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/xrefdb"
	"github.com/jward/xrefdb/internal/config"
	"github.com/jward/xrefdb/internal/logging"
)

var (
	flagDB       string
	flagConfig   string
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "xrefdb",
	Short:         "Cross-reference database for documentation links",
	Long:          "xrefdb ingests source and text files with Risor scripts, stores their topics and links in SQLite, and resolves every link to the topic it best refers to.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		errorHandled = false
		return validateFormat(flagFormat)
	},
	// No Run, so it prints help.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (default: database.path from the config, or xrefdb.db)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "TOML config file")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level: debug|info|warn|error")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(statsCmd)
}

// loadConfig reads --config, or the defaults when it is not set, and applies
// the --log-level override.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		var err error
		if cfg, err = config.Load(flagConfig); err != nil {
			return nil, err
		}
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

// openEngine loads the configuration and opens the database. Extra options
// are applied after the configuration so command flags win.
func openEngine(opts ...xrefdb.Option) (*xrefdb.Engine, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log)

	all := append([]xrefdb.Option{xrefdb.WithConfig(cfg), xrefdb.WithLogger(logger)}, opts...)
	engine, err := xrefdb.New(flagDB, all...)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return engine, logger, nil
}
