package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/sagaflow/config"
)

type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "sagactl",
		Short:         "Run and inspect checkout sagas",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file (env vars prefixed "+config.EnvPrefix+"_ override it)")

	cmd.AddCommand(newRunCmd(a), newServeCmd(a), newScenariosCmd())
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}
