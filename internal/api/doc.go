// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the agricultural assistant backend.
//
// # Endpoints
//
//   - POST /auth/login (form) and POST /auth/register (JSON)
//   - GET /users/me, the identity check behind session validation
//   - POST /interpret, which answers with a "data: " line stream
//   - GET /profile/ and PUT /profile/update
//   - GET /status
//
// # Errors
//
// Every failure is an *Error whose Kind says how callers should react:
// KindAuth (no credential, nothing was sent), KindSessionExpired (401 on an
// authenticated call), KindServer (other non-2xx), KindStream (the body
// broke after a 2xx) and KindNetwork (no response at all). Use the IsXxx
// helpers or errors.Is against the sentinels.
//
// # Streaming
//
//	stream, err := client.Interpret(ctx, token, "¿Cuándo siembro maíz?")
//	if err != nil { ... }
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Next(ctx)
//	    if err == io.EOF { break }
//	    if err != nil { ... }
//	    render(chunk.Content)
//	}
package api
