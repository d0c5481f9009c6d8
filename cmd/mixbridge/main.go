// Command mixbridge runs the routing core between control surfaces and one
// or two DS100 class endpoints, and offers offline tools to inspect routes,
// probe endpoints and move projects in and out of the database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mixbridge/internal/config"
)

var (
	configPath string
	logLevel   string

	cfg       *config.Config
	cfgPath   string
	appLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "mixbridge",
	Short:         "Route mixing parameters across one or two endpoints",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, cfgPath, err = config.LoadFromPath(configPath)
		} else {
			cfg, cfgPath, err = config.Load()
		}
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		appLogger, err = newLogger(cfg.Log)
		if err != nil {
			return err
		}
		if cfgPath != "" {
			appLogger.Debug("configuration loaded", zap.String("path", cfgPath))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			_ = appLogger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search "+config.EnvConfigPath+", ./"+config.ConfigFileName+", XDG and /etc)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, routeCmd, probeCmd, exportCmd, importCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds a production or development zap logger at the configured level
func newLogger(lc config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if lc.Level != "" {
		parsed, err := zapcore.ParseLevel(lc.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}

	zc := zap.NewProductionConfig()
	if lc.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
