// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/session"
)

// whoamiData is the --json shape of whoami.
type whoamiData struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (a *App) addAuthCommands(rootCmd *cobra.Command) {
	var username string
	var passwordStdin bool

	loginCmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Log in and store the access token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				username = args[0]
			}
			user, err := promptValue(username, "username", "username")
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ", passwordStdin)
			if err != nil {
				return err
			}

			wired, err := a.Open()
			if err != nil {
				return err
			}
			status, err := wired.LoginWithPassword(cmd.Context(), user, password)
			if err != nil {
				return &CommandError{Command: "login", Err: err}
			}
			if status != session.StatusAuthenticated {
				return &CommandError{Command: "login", Err: api.ErrNoCredential}
			}
			snap := wired.Session.Snapshot()
			return a.emit(cmd, userData(snap.User, wired.Session), func(w io.Writer) {
				fmt.Fprintf(w, "%s Logged in as %s\n", SuccessStyle.Render("✓"), snap.User.Username)
			})
		},
	}
	loginCmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	loginCmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")

	var regUser, regEmail string
	var regPasswordStdin bool
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := promptValue(regUser, "username", "username")
			if err != nil {
				return err
			}
			email, err := promptValue(regEmail, "email", "email")
			if err != nil {
				return err
			}
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ", regPasswordStdin)
			if err != nil {
				return err
			}
			if !regPasswordStdin {
				again, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Repeat password: ", false)
				if err != nil {
					return err
				}
				if again != password {
					return NewUsageError("passwords do not match", "")
				}
			}

			wired, err := a.Open()
			if err != nil {
				return err
			}
			_, err = wired.Register(cmd.Context(), api.RegisterRequest{Username: user, Email: email, Password: password})
			if err != nil {
				return &CommandError{Command: "register", Err: err}
			}
			snap := wired.Session.Snapshot()
			return a.emit(cmd, userData(snap.User, wired.Session), func(w io.Writer) {
				fmt.Fprintf(w, "%s Registered and logged in as %s\n", SuccessStyle.Render("✓"), user)
			})
		},
	}
	registerCmd.Flags().StringVarP(&regUser, "username", "u", "", "Username")
	registerCmd.Flags().StringVarP(&regEmail, "email", "e", "", "Email address")
	registerCmd.Flags().BoolVar(&regPasswordStdin, "password-stdin", false, "Read the password from stdin")

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			wired.Session.Logout()
			return a.emit(cmd, map[string]bool{"logged_out": true}, func(w io.Writer) {
				fmt.Fprintln(w, "Logged out.")
			})
		},
	}

	whoamiCmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			if err := a.requireLogin(cmd, wired); err != nil {
				return err
			}
			snap := wired.Session.Snapshot()
			data := userData(snap.User, wired.Session)
			return a.emit(cmd, data, func(w io.Writer) {
				fmt.Fprintln(w, RenderField("Username", data.Username))
				fmt.Fprintln(w, RenderField("ID", data.ID))
				if data.Email != "" {
					fmt.Fprintln(w, RenderField("Email", data.Email))
				}
				if data.ExpiresAt != nil {
					fmt.Fprintln(w, RenderField("Token expires", data.ExpiresAt.Local().Format("2006-01-02 15:04")))
				}
			})
		},
	}

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
}

// requireLogin validates the stored token against the backend. When the
// token survives a failed check the backend itself is probed so the user
// sees why.
func (a *App) requireLogin(cmd *cobra.Command, wired *app.App) error {
	ctx := cmd.Context()
	if wired.Session.CheckAuth(ctx) == session.StatusAuthenticated {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if wired.Session.Snapshot().HasToken {
		if _, err := wired.Client.Status(ctx); err != nil {
			return err
		}
	}
	return api.ErrNoCredential
}

func userData(u *api.User, s *session.Manager) whoamiData {
	var d whoamiData
	if u != nil {
		d = whoamiData{ID: u.ID.String(), Username: u.Username, Email: u.Email}
	}
	if claims, err := s.Claims(); err == nil && !claims.ExpiresAt.IsZero() {
		exp := claims.ExpiresAt
		d.ExpiresAt = &exp
	}
	return d
}
