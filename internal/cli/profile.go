// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/api"
)

func (a *App) addProfileCommands(rootCmd *cobra.Command) {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit your farmer profile",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			if err := a.requireLogin(cmd, wired); err != nil {
				return err
			}
			p, err := wired.Profile(cmd.Context())
			if err != nil {
				return &CommandError{Command: "profile", Err: err}
			}
			return a.emit(cmd, p, func(w io.Writer) {
				printProfile(w, p)
			})
		},
	}

	var nombre, cultivo, region, extra string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields",
		Example: `  agrochat profile set --nombre Ana --cultivo maíz --region Jalisco
  agrochat profile set --extra-json '{"hectareas": 4}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u api.ProfileUpdate
			flags := cmd.Flags()
			if flags.Changed("nombre") {
				u.Nombre = &nombre
			}
			if flags.Changed("cultivo") {
				u.Cultivo = &cultivo
			}
			if flags.Changed("region") {
				u.Region = &region
			}
			if flags.Changed("extra-json") {
				if !json.Valid([]byte(extra)) {
					return NewUsageError("--extra-json must be valid JSON", `--extra-json '{"hectareas": 4}'`)
				}
				u.ExtraJSON = json.RawMessage(extra)
			}
			if u.Nombre == nil && u.Cultivo == nil && u.Region == nil && u.ExtraJSON == nil {
				return NewUsageError("nothing to update", "agrochat profile set --cultivo maíz")
			}

			wired, err := a.Open()
			if err != nil {
				return err
			}
			if err := a.requireLogin(cmd, wired); err != nil {
				return err
			}
			p, err := wired.UpdateProfile(cmd.Context(), u)
			if err != nil {
				return &CommandError{Command: "profile set", Err: err}
			}
			return a.emit(cmd, p, func(w io.Writer) {
				fmt.Fprintf(w, "%s Profile updated\n", SuccessStyle.Render("✓"))
				printProfile(w, p)
			})
		},
	}
	setCmd.Flags().StringVar(&nombre, "nombre", "", "Your name")
	setCmd.Flags().StringVar(&cultivo, "cultivo", "", "Main crop")
	setCmd.Flags().StringVar(&region, "region", "", "Region")
	setCmd.Flags().StringVar(&extra, "extra-json", "", "Extra data as a JSON document")

	profileCmd.AddCommand(showCmd, setCmd)
	rootCmd.AddCommand(profileCmd)
}

func printProfile(w io.Writer, p *api.Profile) {
	fmt.Fprintln(w, RenderField("Nombre", orDash(p.Nombre)))
	fmt.Fprintln(w, RenderField("Cultivo", orDash(p.Cultivo)))
	fmt.Fprintln(w, RenderField("Región", orDash(p.Region)))
	if len(p.ExtraJSON) > 0 && string(p.ExtraJSON) != "null" {
		fmt.Fprintln(w, RenderField("Extra", string(p.ExtraJSON)))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
