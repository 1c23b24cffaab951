// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agrochat/internal/conversation"
	"github.com/jeranaias/agrochat/internal/export"
	"github.com/jeranaias/agrochat/internal/model"
	"github.com/jeranaias/agrochat/internal/ui/render"
	"github.com/jeranaias/agrochat/internal/util"
)

func (a *App) addConversationCommands(rootCmd *cobra.Command) {
	convCmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv", "chats"},
		Short:   "Manage saved conversations",
	}

	listCmd := &cobra.Command{
		Use:   "list [search]",
		Short: "List conversations, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			var query string
			if len(args) == 1 {
				query = args[0]
			}
			list := wired.Book.List(query)
			return a.emit(cmd, list, func(w io.Writer) {
				printSummaries(w, list)
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation (default: current)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			id := wired.Book.CurrentID()
			if len(args) == 1 {
				id = args[0]
			}
			c, ok := wired.Book.Get(id)
			if !ok {
				return fmt.Errorf("%w: %q", conversation.ErrConversationNotFound, id)
			}
			return a.emit(cmd, c, func(w io.Writer) {
				var md *render.Markdown
				if wired.Config.UI.RenderMarkdown && isTerminalWriter(w) {
					md = render.NewMarkdown(wired.Config.UI.Theme, true)
				}
				printConversation(w, c, md)
			})
		},
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Start an empty conversation and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			c, err := wired.Book.Create()
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"id": c.ID}, func(w io.Writer) {
				fmt.Fprintln(w, c.ID)
			})
		},
	}

	useCmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Make a conversation current",
		Args:  exactArgs(1, "agrochat conversations use chat_1718000000000"),
		RunE: func(cmd *cobra.Command, args []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			if err := wired.Book.SetCurrent(args[0]); err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"current": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Current chat: %s\n", args[0])
			})
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename <id> <title...>",
		Short: "Rename a conversation",
		Args:  minArgs(2, `agrochat conversations rename chat_1718000000000 "Riego de maíz"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			changed, err := wired.Book.Rename(args[0], title)
			if err != nil {
				return err
			}
			if !changed {
				return NewUsageError("title must not be empty", `agrochat conversations rename <id> "Riego de maíz"`)
			}
			c, _ := wired.Book.Get(args[0])
			return a.emit(cmd, map[string]string{"id": args[0], "title": c.Title}, func(w io.Writer) {
				fmt.Fprintf(w, "Renamed to %q\n", c.Title)
			})
		},
	}

	var force bool
	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  exactArgs(1, "agrochat conversations delete chat_1718000000000 --force"),
		RunE: func(cmd *cobra.Command, args []string) error {
			wired, err := a.Open()
			if err != nil {
				return err
			}
			c, ok := wired.Book.Get(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", conversation.ErrConversationNotFound, args[0])
			}
			if !force {
				if !isTerminalReader(cmd.InOrStdin()) {
					return NewUsageError("refusing to delete without confirmation", "agrochat conversations delete "+args[0]+" --force")
				}
				ok, err := confirm(fmt.Sprintf("Delete %q (%d messages)?", c.DisplayTitle(), c.MessageCount()))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
					return nil
				}
			}
			if err := wired.Book.Delete(args[0]); err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"deleted": args[0], "current": wired.Book.CurrentID()}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %s\n", args[0])
			})
		},
	}
	deleteCmd.Flags().BoolVarP(&force, "force", "f", false, "Delete without asking")

	var (
		format string
		output string
		open   bool
		light  bool
	)
	exportCmd := &cobra.Command{
		Use:   "export [id]",
		Short: "Write a conversation as Markdown, HTML or JSON",
		Long: `Write a conversation (default: current) to a file named after its title
in the output directory. Use --output - to print it instead.`,
		Example: "  agrochat conversations export --format html --output ~/Documentos\n" +
			"  agrochat conversations export chat_1718000000000 -o - > riego.md",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return NewUsageError(err.Error(), "agrochat conversations export --format md")
			}
			wired, err := a.Open()
			if err != nil {
				return err
			}
			id := wired.Book.CurrentID()
			if len(args) == 1 {
				id = args[0]
			}
			c, ok := wired.Book.Get(id)
			if !ok {
				return fmt.Errorf("%w: %q", conversation.ErrConversationNotFound, id)
			}

			opts := export.DefaultOptions()
			opts.OutputDir = output
			opts.OpenAfterExport = open
			if light {
				opts.Theme = "light"
			}
			exp, err := export.New(f, opts)
			if err != nil {
				return err
			}

			if output == "-" {
				data, err := exp.Export(c)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path, err := export.ToFile(c, exp, opts)
			if err != nil && path == "" {
				return err
			}
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), WarningStyle.Render(err.Error()))
			}
			return a.emit(cmd, map[string]string{"id": c.ID, "format": string(f), "path": path}, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %s\n", path)
			})
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "F", string(export.FormatMarkdown), "Output format: md, html or json")
	exportCmd.Flags().StringVarP(&output, "output", "o", ".", "Output directory, or - for stdout")
	exportCmd.Flags().BoolVar(&open, "open", false, "Open the file after writing it")
	exportCmd.Flags().BoolVar(&light, "light", false, "Use the light theme for HTML")

	convCmd.AddCommand(listCmd, showCmd, newCmd, useCmd, renameCmd, deleteCmd, exportCmd)
	rootCmd.AddCommand(convCmd)
}

// =============================================================================
// PRINTING
// =============================================================================

func printSummaries(w io.Writer, list []conversation.Summary) {
	if len(list) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations."))
		return
	}
	for _, s := range list {
		mark := " "
		if s.Current {
			mark = SuccessStyle.Render("*")
		}
		fmt.Fprintf(w, "%s %s  %s  %s\n",
			mark,
			DimStyle.Render(s.ID),
			util.PadRight(util.TruncateWidth(s.Title, 32), 32),
			DimStyle.Render(fmt.Sprintf("%d msgs, %s", s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))))
	}
}

func printConversation(w io.Writer, c *model.Conversation, md *render.Markdown) {
	fmt.Fprintln(w, TitleStyle.Render(c.DisplayTitle()))
	fmt.Fprintln(w, RenderSeparator())
	if c.IsEmpty() {
		fmt.Fprintln(w, DimStyle.Render("No messages yet."))
		return
	}
	width := GetTerminalWidth() - 2
	for _, m := range c.Messages {
		label := PromptStyle.Render(m.Role.DisplayName())
		if !m.Timestamp.IsZero() {
			label += " " + DimStyle.Render(m.FormatTime())
		}
		fmt.Fprintln(w, label)

		switch {
		case m.Error:
			fmt.Fprintln(w, ErrorStyle.Render(m.Content))
		case m.Role == model.RoleAssistant && md != nil:
			fmt.Fprintln(w, md.Render(m.Content, width))
		default:
			fmt.Fprintln(w, m.Content)
		}
		fmt.Fprintln(w)
	}
}
