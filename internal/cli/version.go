// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
)

func (a *App) addVersionCommand(rootCmd *cobra.Command) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := map[string]string{
				"version": Version,
				"go":      runtime.Version(),
				"os":      runtime.GOOS + "/" + runtime.GOARCH,
			}
			return a.emit(cmd, data, func(w io.Writer) {
				fmt.Fprintf(w, "agrochat %s (%s, %s)\n", Version, data["go"], data["os"])
			})
		},
	}
	rootCmd.AddCommand(versionCmd)
}
