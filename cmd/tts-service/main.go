// Command tts-service runs the PaperRead TTS backend and its maintenance
// commands.
package main

import (
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/paperread-tts/internal/audiocache"
	"github.com/book-expert/paperread-tts/internal/config"
	"github.com/spf13/cobra"
)

const (
	bootstrapLogFile = "tts-service-bootstrap.log"
	serviceLogFile   = "tts-service.log"
)

// app carries the state shared by all subcommands.
type app struct {
	envOnly bool
	log     *logger.Logger
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	state := &app{}

	rootCmd := &cobra.Command{
		Use:           "tts-service",
		Short:         "Text-to-speech backend with a content-addressed audio cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return state.setup()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return state.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return state.serve(cmd.Context())
		},
	}

	rootCmd.PersistentFlags().BoolVar(&state.envOnly, "env-only", false,
		"read configuration from environment variables only, skipping project.toml")

	rootCmd.AddCommand(
		newServeCmd(state),
		newConfigCmd(state),
		newCacheCmd(state),
	)

	return rootCmd
}

func setupLogger(dir, file string) (*logger.Logger, error) {
	log, err := logger.New(dir, file)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", dir, err)
	}

	return log, nil
}

// setup loads the configuration with a bootstrap logger, then switches to
// the service logger in the configured logs directory.
func (a *app) setup() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	if a.envOnly {
		a.cfg, err = config.FromEnv(bootstrapLog)
	} else {
		a.cfg, err = config.Load(bootstrapLog)
	}

	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return err
	}

	err = a.cfg.Prepare()
	if err != nil {
		bootstrapLog.Error("Failed to prepare directories: %v", err)

		return err
	}

	a.log, err = setupLogger(a.cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create service logger: %v", err)

		return err
	}

	return nil
}

func (a *app) close() error {
	if a.log == nil {
		return nil
	}

	err := a.log.Close()
	if err != nil {
		return fmt.Errorf("error closing logger: %w", err)
	}

	return nil
}

// openCache builds the audio cache over the configured media directory.
func (a *app) openCache(registry *audiocache.IndexRegistry) (*audiocache.Cache, error) {
	index, err := registry.Open(a.cfg.Paths.AudioIndexFile)
	if err != nil {
		return nil, err
	}

	return audiocache.New(a.cfg.Paths.MediaDir, index, a.log), nil
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tts-service exited with error: %v\n", err)
		os.Exit(1)
	}
}
