package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sheetsync/internal/cli"
	"sheetsync/internal/client"
	applog "sheetsync/internal/log"
	"sheetsync/internal/retry"
	"sheetsync/internal/storage"
)

var (
	cfgFile string

	// Set by PersistentPreRunE for the running command.
	orch      *client.Orchestrator
	store     *storage.SQLiteStore
	logCloser io.Closer
	logger    *applog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sheetsync-cli",
	Short: "Offline working copy of a sheetsync spreadsheet",
	Long: `sheetsync-cli keeps a local copy of the budget spreadsheet served by
sheetsync, records edits offline and reconciles them with the server.

Settings come from flags, SHEETSYNC_* environment variables or a config file
(sheetsync.yaml in the working directory or $HOME/.sheetsync).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default sheetsync.yaml)")
	flags.String("server", "http://localhost:8081", "base URL of the sheetsync service")
	flags.String("state", defaultStatePath(), "path of the local state database")
	flags.String("policy", string(client.PolicyManual), "conflict policy: manual or server-wins")
	flags.Int("retry-attempts", 3, "attempts per remote call")
	flags.String("log-level", "warn", "debug, info, warn or error")
	flags.String("log-format", "text", "text or json")
	flags.String("log-file", "", "write logs to a rotating file instead of stdout")

	_ = viper.BindPFlags(flags)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sheetsync")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".sheetsync"))
		}
	}

	viper.SetEnvPrefix("SHEETSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

func defaultStatePath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".sheetsync", "state.db")
	}
	return filepath.Join(".sheetsync", "state.db")
}

func setup(ctx context.Context) error {
	logger, logCloser = cli.SetupLogger(cli.LogOptions{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		File:   viper.GetString("log-file"),
	})

	policy, err := client.ParsePolicy(viper.GetString("policy"))
	if err != nil {
		return err
	}

	store, err = storage.NewSQLiteStore(viper.GetString("state"))
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}

	retries := retry.DefaultPolicy()
	if n := viper.GetInt("retry-attempts"); n > 0 {
		retries.MaxAttempts = n
	}
	api := client.NewAPIClient(viper.GetString("server"), nil, retries)

	orch, err = client.Open(ctx, api, store, client.Options{
		Policy: policy,
		Logger: logger.Logger,
		OnTransition: func(from, to client.SyncState) {
			logger.Debug("Sync state changed", "from", from.String(), "to", to.String())
		},
	})
	if err != nil {
		return fmt.Errorf("load local state: %w", err)
	}
	return nil
}

func teardown() {
	if store != nil {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close local state: %v\n", err)
		}
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	teardown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
