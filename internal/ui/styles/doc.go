// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling for the agrochat terminal UI.
//
// Colors are Lip Gloss AdaptiveColors, so the same palette works on light
// and dark terminals. The theme mode ("auto", "dark", "light") decides
// which half of each color is used:
//
//	theme := styles.NewTheme(cfg.UI.Theme)
//	theme.SetSize(width, height)
//	fmt.Println(theme.UserBubble.Render("Hola"))
package styles
