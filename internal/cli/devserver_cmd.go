// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/devserver"
)

func (a *App) addDevServerCommand(rootCmd *cobra.Command) {
	var addr, secret string
	var wordDelay time.Duration
	var rateLimit int

	devCmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local development backend",
		Long: `Run an in-memory backend that implements registration, login, profiles
and streamed interpretation. Users and profiles are lost on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.Config()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.DevServer.Addr != "" {
				addr = cfg.DevServer.Addr
			}
			if secret == "" {
				secret = cfg.DevServer.Secret
			}

			srv, err := devserver.New(devserver.Config{
				Addr:      addr,
				Secret:    secret,
				WordDelay: wordDelay,
				RateLimit: rateLimit,
			})
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()
			fmt.Fprintf(cmd.OutOrStdout(), "devserver on http://%s (Ctrl+C to stop)\n", srv.Addr())

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			return <-errCh
		},
	}
	devCmd.Flags().StringVar(&addr, "addr", devserver.DefaultAddr, "Listen address")
	devCmd.Flags().StringVar(&secret, "secret", "", "Token signing secret (default: random per run)")
	devCmd.Flags().DurationVar(&wordDelay, "word-delay", devserver.DefaultWordDelay, "Pause between streamed words")
	devCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute per client, 0 disables")

	rootCmd.AddCommand(devCmd)
}
