package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/config"
	"jobmate/matching-service/internal/logger"
)

const app = "matching-service"

var (
	// v collects flags; config.Load layers the environment and defaults on top.
	v = viper.New()

	envFile string
	cfg     *config.Config
	zlog    *zap.Logger

	rootCmd = &cobra.Command{
		Use:               app,
		Short:             "matching-service ranks jobs for students by semantic similarity",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "a .env file to load (default is .env in current directory, if present)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = v.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// setup runs before every subcommand: env file, logger, then config.
func setup(cmd *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	l, err := logger.New(v.GetBool("json"), v.GetBool("debug"))
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	zlog = l

	if cmd == versionCmd || cmd.Name() == "help" {
		return nil
	}

	c, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	cfg = c
	return nil
}
