// Package cmd holds the cobra commands of the retouch binary.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/retouch/internal/config"
	"github.com/MeKo-Tech/retouch/internal/models"
	"github.com/MeKo-Tech/retouch/internal/version"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "retouch",
	Short: "Detect, mask and inpaint unwanted marks on page images",
	Long: `retouch finds text, speech bubbles and other marks on scanned or drawn
pages, turns them into editable regions and paints them out with an
inpainting model or a local diffusion fill.

Examples:
  retouch run ./chapter01 --ops detect,restore
  retouch run ./chapter01 --ops segment --overlay-dir ./overlays
  retouch serve ./chapter01 --port 8080
  retouch classes --write classes.yaml`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if v, _ := cmd.Flags().GetBool("version"); v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for tests.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/retouch, /etc/retouch)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing ONNX models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.Flags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel(globalConfig),
		})))
		return nil
	}
}

func logLevel(cfg *config.Config) slog.Level {
	if cfg.Verbose {
		return slog.LevelDebug
	}
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initConfig reads in the config file and ENV variables.
func initConfig() error {
	configLoader = config.NewLoader()

	var err error
	if cfgFile != "" {
		globalConfig, err = configLoader.LoadWithFile(cfgFile)
	} else {
		globalConfig, err = configLoader.Load()
	}
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	return nil
}

// GetConfig returns the configuration with bound flags applied.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if err := initConfig(); err != nil {
			return nil, err
		}
	}
	// Flags of subcommands are bound after the first load.
	var cfg config.Config
	if err := configLoader.GetViper().Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
