package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/makeasinger/videogen/internal/config"
)

type commandContext struct {
	configFlag *string
	logLevel   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadFrom(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if level := strings.TrimSpace(*c.logLevel); level != "" {
			cfg.Server.LogLevel = level
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevel string
	ctx := &commandContext{configFlag: &configFlag, logLevel: &logLevel}

	rootCmd := &cobra.Command{
		Use:           "videogen",
		Short:         "Generate narrated videos from a short brief",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}
