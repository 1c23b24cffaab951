// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func (a *App) addAskCommand(rootCmd *cobra.Command) {
	var convID string
	var fresh bool

	askCmd := &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask one question and print the reply",
		Long: `Ask one question in the current conversation and print the reply.
Use "-" to read the question from stdin.`,
		Example: `  agrochat ask "¿Cuándo siembro maíz en el Bajío?"
  agrochat ask --new "Plagas comunes del tomate"
  cat pregunta.txt | agrochat ask -`,
		Args: minArgs(1, `agrochat ask "¿Cuándo siembro maíz?"`),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read question: %w", err)
				}
				text = string(data)
			}
			if strings.TrimSpace(text) == "" {
				return NewUsageError("question is empty", `agrochat ask "¿Cuándo siembro maíz?"`)
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

			res, err := a.send(cmd, wired, target, text)
			if err != nil {
				return err
			}
			if a.Options.JSON {
				return NewJSONResponse(cmd.CommandPath(), toExchangeData(res)).Print(cmd.OutOrStdout())
			}
			return nil
		},
	}
	askCmd.Flags().StringVarP(&convID, "conversation", "c", "", "Conversation ID (default: current)")
	askCmd.Flags().BoolVar(&fresh, "new", false, "Start a new conversation")
	askCmd.MarkFlagsMutuallyExclusive("conversation", "new")

	rootCmd.AddCommand(askCmd)
}
