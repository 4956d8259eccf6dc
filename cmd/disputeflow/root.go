package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"disputeflow/config"
	"disputeflow/logging"
)

type rootOptions struct {
	ConfigPath string
	LogLevel   string
	Output     string
	Timeout    time.Duration
}

// app carries the loaded configuration and logger through the command tree.
type app struct {
	cfg    *config.Config
	log    logging.Logger
	output string
}

type appKey struct{}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "disputeflow",
		Short: "Chargeback dispute workflow: case phases, deadlines and arbitration",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initApp(cmd, opts)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := appFrom(cmd); err == nil {
				_ = a.log.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (YAML); DISPUTEFLOW_* variables override it")
	pf.StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	pf.StringVarP(&opts.Output, "output", "o", "text", "output format (text, json)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "timeout for one-shot commands")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newOpenCmd(opts),
		newAdvanceCmd(opts),
		newExtendCmd(opts),
		newArbitrationCmd(opts),
		newInspectCmd(opts),
		newSweepCmd(),
	)
	return cmd
}

func initApp(cmd *cobra.Command, opts *rootOptions) error {
	switch opts.Output {
	case "text", "json":
	default:
		return fmt.Errorf("invalid --output %q; expected text|json", opts.Output)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.LogLevel != "" {
		if _, err := logging.ParseLevel(opts.LogLevel); err != nil {
			return err
		}
		cfg.Log.Level = opts.LogLevel
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appKey{}, &app{cfg: cfg, log: log, output: opts.Output}))
	return nil
}

func appFrom(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New("command context is nil")
	}
	a, ok := ctx.Value(appKey{}).(*app)
	if !ok || a == nil {
		return nil, errors.New("application context not initialised")
	}
	return a, nil
}
