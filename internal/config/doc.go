// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and saves the agrochat configuration.
//
// Configuration lives in ~/.agrochat/config.toml (AGROCHAT_HOME moves the
// whole directory). Values are layered in this order, later wins:
//
//  1. Built-in defaults (Default)
//  2. config.toml
//  3. A .env file in the working directory (never overrides real variables)
//  4. AGROCHAT_* environment variables
//  5. Command-line flags, applied by the cli package
//
// # Environment Variables
//
//   - AGROCHAT_HOME: configuration and data directory
//   - AGROCHAT_BACKEND_URL: backend base URL
//   - AGROCHAT_STORAGE: "file" or "sqlite"
//   - AGROCHAT_STORE_KEY: passphrase used to seal the stored token
//   - AGROCHAT_LOG_LEVEL, AGROCHAT_LOG_FILE: logging
//   - AGROCHAT_THEME: "auto", "dark" or "light"
package config
