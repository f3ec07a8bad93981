// Package cmd implements the arbiter command line.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/danielpatrickdp/intersection-controller/internal/config"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Intersection admission arbiter for tick-driven traffic simulation",
	Long: `arbiter decides which cars may enter an intersection on a given tick.

Stop-sign intersections admit by conflict, priority and full-stop dwell;
signalled intersections admit a car only if it can clear the junction before
the active cycle ends. The arbiter can be served over gRPC, replayed against
recorded traces and checkpointed to SQLite.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var cfgFile string

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/intersection-arbiter/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

var initErr error

func initConfig() {
	initErr = config.Init(viper.GetViper(), cfgFile)
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	if initErr != nil {
		return nil, fmt.Errorf("read config: %w", initErr)
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return logger, nil
}
