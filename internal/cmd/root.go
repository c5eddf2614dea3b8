// Package cmd implements the fdshare command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chdir/fdshare"
	"github.com/chdir/fdshare/internal/config"
	"github.com/chdir/fdshare/internal/logging"
)

var (
	configPath string
	helperPath string
	debugMode  bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "fdshare",
	Short: "open files through a privileged helper",
	Long: `fdshare - open files through a privileged helper
  - reads files the current user cannot access
  - privilege is exercised only inside a small helper process`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&helperPath, "helper", "", "path to the helper executable (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "launch the helper directly, without privilege elevation")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "fdshare.yaml"
	}
	return filepath.Join(dir, "fdshare", "config.yaml")
}

// loadConfig merges the config file with flag overrides and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if helperPath != "" {
		cfg.HelperPath = helperPath
	}
	if debugMode {
		cfg.Debug = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logging.Setup(cfg.LogLevel)
	return cfg, nil
}

// newFactory builds a factory from the effective configuration.
func newFactory() (*fdshare.Factory, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	fac, err := fdshare.Create(cfg.Factory())
	if err != nil {
		return nil, fmt.Errorf("creating factory: %w", err)
	}
	return fac, nil
}
