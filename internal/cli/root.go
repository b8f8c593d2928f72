package cli

import (
	"github.com/spf13/cobra"

	"finboard/internal/config"
	applog "finboard/internal/log"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	envFile  string
	logLevel string

	cfg    *config.Config
	logger *applog.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "finboard",
		Short:   "Personal finance dashboard backed by a remote finance API",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if a.envFile != "" {
				files = append(files, a.envFile)
			}
			cfg, err := LoadAndValidateConfig(files...)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.LogLevel = a.logLevel
			}
			logger, err := SetupLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newWorkerCommand(a))
	rootCmd.AddCommand(newReportCommand(a))

	return rootCmd
}
