// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Leaf - Brand color, assistant accents
var Leaf = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"}

// LeafDeep - Darker green for backgrounds
var LeafDeep = lipgloss.AdaptiveColor{Light: "#166534", Dark: "#14532D"}

// Soil - Secondary accent, selections
var Soil = lipgloss.AdaptiveColor{Light: "#92400E", Dark: "#D6A36A"}

// Sky - Info, user highlights
var Sky = lipgloss.AdaptiveColor{Light: "#0369A1", Dark: "#7DD3FC"}

// =============================================================================
// SEMANTIC COLORS
// =============================================================================

// Rose - Errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - Warnings, pending states
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// Emerald - Success
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// =============================================================================
// SURFACE AND TEXT
// =============================================================================

var (
	Surface       = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#1E1E2E"}
	SurfaceDim    = lipgloss.AdaptiveColor{Light: "#F5F5F4", Dark: "#181825"}
	SurfaceBright = lipgloss.AdaptiveColor{Light: "#FAFAF9", Dark: "#313244"}
	Overlay       = lipgloss.AdaptiveColor{Light: "#E7E5E4", Dark: "#313244"}

	TextPrimary   = lipgloss.AdaptiveColor{Light: "#1C1917", Dark: "#CDD6F4"}
	TextSecondary = lipgloss.AdaptiveColor{Light: "#57534E", Dark: "#A6ADC8"}
	TextMuted     = lipgloss.AdaptiveColor{Light: "#A8A29E", Dark: "#6C7086"}
	TextInverse   = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#1E1E2E"}
)

// =============================================================================
// MESSAGE BUBBLES
// =============================================================================

var (
	UserBubbleFg     = lipgloss.AdaptiveColor{Light: "#075985", Dark: "#E0F2FE"}
	UserBubbleBorder = lipgloss.AdaptiveColor{Light: "#0EA5E9", Dark: "#0EA5E9"}

	AssistantBubbleFg     = lipgloss.AdaptiveColor{Light: "#14532D", Dark: "#DCFCE7"}
	AssistantBubbleBorder = lipgloss.AdaptiveColor{Light: "#86EFAC", Dark: "#22C55E"}

	ErrorBubbleFg = lipgloss.AdaptiveColor{Light: "#991B1B", Dark: "#FECACA"}
)
