// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the authentication state of the client.
//
// A Manager holds the bearer token, the identity it was last validated as,
// and a status that is unknown until the first CheckAuth. Validation always
// asks the backend; the client never trusts a token it has not checked.
//
// # Concurrency
//
// Every CheckAuth takes a generation number when it starts. Only the most
// recently started check may commit its result, and Login and Logout bump
// the generation too, so a slow check can never resurrect a session that was
// logged out while it ran.
//
// # Usage
//
//	m := session.NewManager(store, client)
//	m.OnChange(func(s session.Snapshot) { redraw(s) })
//	m.CheckAuth(ctx)
//	if !m.Authenticated() { promptLogin() }
package session
