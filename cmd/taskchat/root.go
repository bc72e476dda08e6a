package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	internal "github.com/ZanzyTHEbar/taskchat/taskchat"
	"github.com/ZanzyTHEbar/taskchat/taskchat/config"
	"github.com/ZanzyTHEbar/taskchat/taskchat/db"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string

	cfg    *config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   internal.DefaultAppName,
	Short: "Conversational task management engine",
	Long: `taskchat turns natural-language messages into task operations.

Every turn is persisted, so any instance can serve any request and a restart
loses nothing. Run "taskchat serve" for the HTTP API or "taskchat chat" for a
single turn from the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env file is normal outside development.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}

		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg.Log)
		return nil
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., .., /etc/taskchat, ~/.config/taskchat)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(lc config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(lc.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var l zerolog.Logger
	if lc.Pretty {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(level).With().Timestamp().Str("app", internal.DefaultAppName).Logger()
}

// openDatabase connects with the configured driver and applies migrations.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	conn, err := db.Connect(ctx, db.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		AuthToken:    cfg.Database.AuthToken,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, cfg.Database.Driver, logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
