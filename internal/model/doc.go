// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the conversation and message types.
//
// # Key Types
//
//   - Conversation: titled, ordered list of messages with a time-based ID
//   - Message: one user or assistant entry
//   - Role: user or assistant
//
// # Usage
//
//	conv := model.NewConversation(model.NextConversationID(nil))
//	conv.Append(model.NewUserMessage("Hola"))
//	conv.DeriveTitle("Hola")
package model
