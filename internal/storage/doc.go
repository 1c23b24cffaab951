// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the local durable key-value store.
//
// Three fixed keys are used by the client: KeyAuthToken, KeyConversations
// and KeyCurrentChat. Values are opaque strings.
//
// # Backends
//
//   - FileStore: one JSON document written atomically, watchable with fsnotify
//   - SQLiteStore: a single kv table in a pure-Go SQLite database
//   - SealedStore: wraps either and encrypts selected keys with AES-256-GCM
package storage
