// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// StatusData is the --json shape of status.
type StatusData struct {
	Backend       StatusBackend `json:"backend"`
	Session       StatusSession `json:"session"`
	Storage       StatusStorage `json:"storage"`
	Conversations int           `json:"conversations"`
}

// StatusBackend describes the backend probe.
type StatusBackend struct {
	URL       string `json:"url"`
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// StatusSession describes the stored login.
type StatusSession struct {
	Status   string `json:"status"`
	Username string `json:"username,omitempty"`
}

// StatusStorage describes the local store.
type StatusStorage struct {
	Backend string `json:"backend"`
	Dir     string `json:"dir"`
	Sealed  bool   `json:"sealed"`
}

func (a *App) addStatusCommand(rootCmd *cobra.Command) {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend, session and storage health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			cfg := wired.Config
			dir, _ := cfg.DataDir()

			data := StatusData{
				Backend: StatusBackend{URL: wired.Client.BaseURL()},
				Storage: StatusStorage{
					Backend: cfg.Storage.Backend,
					Dir:     dir,
					Sealed:  cfg.Storage.SealToken,
				},
				Conversations: wired.Book.Len(),
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			start := time.Now()
			st, err := wired.Client.Status(ctx)
			data.Backend.LatencyMS = time.Since(start).Milliseconds()
			if err != nil {
				data.Backend.Status = "offline"
				data.Backend.Error = Friendly(err)
			} else {
				data.Backend.Status = st.Status
				data.Backend.Version = st.Version
			}

			data.Session.Status = wired.Session.CheckAuth(ctx).String()
			if u := wired.Session.User(); u != nil {
				data.Session.Username = u.Username
			}

			return a.emit(cmd, data, func(w io.Writer) {
				printStatus(w, data)
			})
		},
	}
	rootCmd.AddCommand(statusCmd)
}

func printStatus(w io.Writer, d StatusData) {
	fmt.Fprintln(w, TitleStyle.Render("agrochat status"))
	fmt.Fprintln(w, RenderSeparator())

	backend := RenderStatus(d.Backend.Status)
	if d.Backend.Version != "" {
		backend += DimStyle.Render(fmt.Sprintf(" v%s", d.Backend.Version))
	}
	backend += DimStyle.Render(fmt.Sprintf(" (%d ms)", d.Backend.LatencyMS))
	fmt.Fprintln(w, RenderField("Backend", d.Backend.URL))
	fmt.Fprintln(w, RenderField("", backend))
	if d.Backend.Error != "" {
		fmt.Fprintln(w, RenderField("", ErrorStyle.Render(d.Backend.Error)))
	}

	session := RenderStatus(d.Session.Status)
	if d.Session.Username != "" {
		session += " " + d.Session.Username
	}
	fmt.Fprintln(w, RenderField("Session", session))

	storage := d.Storage.Backend + " " + DimStyle.Render(d.Storage.Dir)
	if d.Storage.Sealed {
		storage += WarningStyle.Render(" sealed")
	}
	fmt.Fprintln(w, RenderField("Storage", storage))
	fmt.Fprintln(w, RenderField("Conversations", fmt.Sprint(d.Conversations)))
}
