// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/config"
)

func (a *App) addConfigCommands(rootCmd *cobra.Command) {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change settings",
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"path": path}, func(w io.Writer) {
				fmt.Fprintln(w, path)
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one setting, e.g. backend.url",
		Args:  exactArgs(1, "agrochat config get backend.url"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.Config()
			if err != nil {
				return err
			}
			v, err := cfg.Get(args[0])
			if err != nil {
				return NewUsageError(err.Error(), "agrochat config list")
			}
			return a.emit(cmd, map[string]interface{}{args[0]: v}, func(w io.Writer) {
				fmt.Fprintln(w, v)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print every setting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.Config()
			if err != nil {
				return err
			}
			return a.emit(cmd, cfg, func(w io.Writer) {
				for _, key := range config.Keys() {
					v, _ := cfg.Get(key)
					fmt.Fprintf(w, "%s = %v\n", key, v)
				}
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting and save the file",
		Args:  exactArgs(2, "agrochat config set ui.theme dark"),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configPath()
			if err != nil {
				return err
			}
			// Start from the file alone so environment overrides are not saved.
			cfg, err := config.LoadFileOnly(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return NewUsageError(err.Error(), "agrochat config set ui.theme dark")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveTo(cfg, path); err != nil {
				return err
			}
			a.cfg = nil
			return a.emit(cmd, map[string]string{args[0]: args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("✓"), args[0], args[1])
			})
		},
	}

	configCmd.AddCommand(pathCmd, getCmd, listCmd, setCmd)
	rootCmd.AddCommand(configCmd)
}
