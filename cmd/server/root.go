package main

import (
	approuters "Roomchat/internal/app_routers"
	"Roomchat/internal/configuration"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigFile = "config.json"

var cfgFile string

// rootCmd runs the chat server when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "roomchat",
	Short: "Real-time room chat server",
	Long: `roomchat serves project and support chat rooms over websocket.

Clients connect to the socket server, authenticate, join rooms and exchange
messages. The application server exposes history, health and monitoring
endpoints.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		container, err := configuration.BuildContainer(config, logger)
		if err != nil {
			logger.Error("failed to build container", zap.Error(err))
			return err
		}

		if code := approuters.StartServer(container); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigFile, "config file (json or yaml)")

	rootCmd.AddCommand(tokenCmd, userCmd, grantCmd)
}

// loadConfig reads the config file, environment and defaults. A missing
// default config file is not an error; an explicit --config must exist.
func loadConfig(cmd *cobra.Command) (*configuration.Config, *zap.Logger, error) {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "Config file not found, using default values and environment variables.")
			path = ""
		}
	}

	v, err := configuration.NewViper(path)
	if err != nil {
		return nil, nil, err
	}
	config, err := configuration.LoadConfig(v)
	if err != nil {
		return nil, nil, err
	}

	logger, err := configuration.NewLogger(config.Log)
	if err != nil {
		return nil, nil, err
	}
	return config, logger, nil
}
