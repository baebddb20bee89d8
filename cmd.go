package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config.yaml"

type cliState struct {
	configPath string
	debug      bool
	cfg        *Config
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:           "topup",
		Short:         "Automated in-game currency top-up service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLocale()

			cfg, err := LoadConfig(st.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if st.debug {
				cfg.Automation.DebugMode = true
			}

			log, err := NewLogger(cfg.Logger, cfg.Automation.DebugMode)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			st.cfg, st.log = cfg, log

			checkUserDataDirPermissions(log)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.log != nil {
				_ = st.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&st.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	root.PersistentFlags().BoolVar(&st.debug, "debug", false, "Enable detailed debug logging")

	root.AddCommand(newServeCmd(st), newRunCmd(st), newConfigCmd(st))
	return root
}

func initLocale() {
	if err := InitLocale(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Locale initialization failed, using message keys: %v\n", err)
	}
}

func newServeCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the order API and the automation workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}

			app, err := NewApp(cmd.Context(), st.cfg, st.log)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Run(cmd.Context())
		},
	}
}

func newRunCmd(st *cliState) *cobra.Command {
	var (
		playerID string
		amount   int
		orderID  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single top-up in the foreground and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := st.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			if orderID == "" {
				orderID = "cli-" + uuid.NewString()
			}

			shutdown, err := InitTracer(cmd.Context(), st.cfg.Tracing, st.log)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			ctx, cancel := context.WithTimeout(cmd.Context(), st.cfg.RunTimeout())
			defer cancel()

			seq := newSequencer(st.cfg, st.log, nil)
			result := seq.Run(ctx, RunRequest{OrderID: orderID, PlayerID: playerID, Amount: amount}, func(ev StepEvent) {
				st.log.Info(ev.Message, zap.String("state", string(ev.State)), zap.String("level", string(ev.Level)))
			})
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				result.Success = false
				result.Error = CodeTimeout
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("run stopped at %s: %s", result.State, result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&playerID, "player", "", "Player ID to top up")
	cmd.Flags().IntVar(&amount, "amount", 0, "Diamond amount to buy")
	cmd.Flags().StringVar(&orderID, "order-id", "", "Order id used for screenshots and logs")
	_ = cmd.MarkFlagRequired("player")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newConfigCmd(st *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		// Writing a config must not require a loadable one.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLocale()
			return nil
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file without secrets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(st.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", st.configPath)
			}
			if err := DefaultConfig().Save(st.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nSecrets are read from the environment: %s\n", st.configPath, secretEnvList())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
