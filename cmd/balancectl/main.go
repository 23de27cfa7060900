// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// balancectl probes the configured sensors or runs one balance test from
// the terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/balance_screen/internal/app"
	"github.com/relabs-tech/balance_screen/internal/config"
	"github.com/relabs-tech/balance_screen/internal/sensors"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "balancectl",
		Short:        "Balance screening from the command line",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.Path()
			}
			return config.InitGlobal(configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "KEY=VALUE config file (default $BALANCE_CONFIG or "+config.DefaultFile+")")

	root.AddCommand(probeCmd(), runCmd())

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check which motion sensors deliver events",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := sensors.NewAdapterFromConfig(config.Get())
			if err != nil {
				return err
			}
			if !app.PrintProbe(cmd.Context(), adapter, cmd.OutOrStdout()) {
				return sensors.ErrSensorUnavailable
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		userID  string
		live    bool
		asJSON  bool
		timeout int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one balance test and print the result",
		Long: `run acknowledges the instructions, starts a session against the
configured sensor source and waits for the result. Completed records are
handed to the configured sinks like any other session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg := config.Get()
			stack, err := app.NewStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			if timeout > 0 {
				var tcancel context.CancelFunc
				ctx, tcancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
				defer tcancel()
			}

			out := cmd.OutOrStdout()
			opts := app.ConsoleOptions{UserID: userID, Live: live, Out: out}
			if asJSON {
				opts.Out = cmd.ErrOrStderr()
			}
			rec, err := app.RunConsole(ctx, stack.Controller, opts)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("session did not complete within %ds", timeout)
				}
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id; enables remote inference")
	cmd.Flags().BoolVar(&live, "live", false, "print live sensor values while running")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full record as JSON on stdout")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "abort after this many seconds (0 waits indefinitely)")
	return cmd
}
