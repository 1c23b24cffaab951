// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/api"
	"github.com/jeranaias/agrochat/internal/app"
	"github.com/jeranaias/agrochat/internal/ui/chat"
)

func (a *App) addChatCommand(rootCmd *cobra.Command) {
	var convID string
	var fresh bool

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat line by line with input history",
		Long: `Chat in plain line mode, for terminals where the full interface does not
fit. Arrow keys recall earlier input. Type /help for commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.Options.JSON {
				return NewUsageError("chat has no JSON mode", `agrochat ask --json "..."`)
			}
			wired, err := a.Open()
			if err != nil {
				return err
			}
			if err := a.requireLogin(cmd, wired); err != nil {
				return err
			}
			target, err := resolveTarget(wired.Book, convID, fresh)
			if err != nil {
				return err
			}
			return a.chatLoop(cmd, wired, target)
		},
	}
	chatCmd.Flags().StringVarP(&convID, "conversation", "c", "", "Conversation ID (default: current)")
	chatCmd.Flags().BoolVar(&fresh, "new", false, "Start a new conversation")
	chatCmd.MarkFlagsMutuallyExclusive("conversation", "new")

	rootCmd.AddCommand(chatCmd)
}

func (a *App) chatLoop(cmd *cobra.Command, wired *app.App, target string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, TitleStyle.Render("agrochat")+" "+DimStyle.Render("/help for commands, Ctrl+D to exit"))

	prompter := NewPrompter(chatHistoryFile())
	defer prompter.Close()

	for {
		input, err := prompter.ReadLine("agrochat> ")
		if errors.Is(err, ErrAborted) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			next, quit, err := a.lineCommand(out, wired, target, input)
			if err != nil {
				DisplayError(cmd.ErrOrStderr(), err, false)
			}
			if quit {
				return nil
			}
			target = next
			continue
		}

		res, err := a.send(cmd, wired, target, input)
		if res.Handle.ConversationID != "" {
			target = res.Handle.ConversationID
		}
		if err != nil {
			DisplayError(cmd.ErrOrStderr(), err, false)
			if api.IsSessionExpired(err) || cmd.Context().Err() != nil {
				return err
			}
		}
	}
}

// lineCommand runs a slash command and returns the conversation to use next.
func (a *App) lineCommand(w io.Writer, wired *app.App, target, input string) (string, bool, error) {
	name, arg := chat.ParseCommand(input)
	switch name {
	case "/new":
		c, err := wired.Book.Create()
		if c == nil {
			return target, false, err
		}
		if err := wired.Book.SetCurrent(c.ID); err != nil {
			return target, false, err
		}
		fmt.Fprintln(w, DimStyle.Render("New chat "+c.ID))
		return c.ID, false, err

	case "/rename":
		if target == "" {
			return target, false, errors.New("no chat yet, ask something first")
		}
		changed, err := wired.Book.Rename(target, arg)
		if err == nil && !changed {
			err = NewUsageError("title must not be empty", "/rename Riego de maíz")
		}
		return target, false, err

	case "/delete":
		if target == "" {
			return target, false, errors.New("no chat selected")
		}
		if err := wired.Book.Delete(target); err != nil {
			return target, false, err
		}
		fmt.Fprintln(w, DimStyle.Render("Chat deleted."))
		return wired.Book.CurrentID(), false, nil

	case "/list":
		printSummaries(w, wired.Book.List(arg))
		return target, false, nil

	case "/logout":
		wired.Session.Logout()
		fmt.Fprintln(w, "Logged out.")
		return target, true, nil

	case "/help":
		for _, c := range chat.Commands {
			fmt.Fprintf(w, "  %-18s %s\n", strings.TrimSpace(c.Name+" "+c.Args), DimStyle.Render(c.Summary))
		}
		return target, false, nil

	case "/quit", "/exit":
		return target, true, nil
	}
	return target, false, NewUsageError("unknown command "+name, "/help")
}
