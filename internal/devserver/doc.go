// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package devserver is a local stand-in for the assistant backend.
//
// Endpoints:
//   - POST /auth/register  - Create an account (JSON)
//   - POST /auth/login     - Exchange credentials for a bearer token (form)
//   - GET  /users/me       - Identity of the token's user
//   - POST /interpret      - Stream a reply as data: lines (form user_input)
//   - GET  /profile/       - Farmer profile
//   - PUT  /profile/update - Update the farmer profile
//   - GET  /status         - Health report
//
// Users and profiles live in memory and are lost on restart. Replies echo
// the question back word by word so clients can exercise streaming without
// a model.
package devserver
