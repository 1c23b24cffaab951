// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the full-screen chat interface.

The interface is a Bubble Tea model over an app.App. Sends run through the
app's pipeline in a command; pipeline, session and book notifications are
forwarded into the program as messages, so the model never reads state from
another goroutine's callback.

# Layout

  - Header with the conversation title, the user and the backend status
  - Optional conversation list on wide terminals
  - Scrollable message view
  - Single-line input
  - Status bar with the send state, notices and shortcuts

# Slash commands

  - /new, /rename <title>, /delete, /list
  - /logout, /help, /quit

# Usage

	m := chat.New(a, styles.NewTheme(cfg.UI.Theme))
	return chat.Run(ctx, a, m)
*/
package chat
