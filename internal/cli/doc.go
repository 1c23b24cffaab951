// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the agrochat command line.
//
// Running agrochat with no subcommand opens the chat interface. The
// subcommands cover everything else:
//
//	agrochat login | logout | register | whoami
//	agrochat ask <question>          one exchange, printed to stdout
//	agrochat chat                    line-mode chat with input history
//	agrochat conversations ...       list, show, new, use, rename, delete
//	agrochat profile show | set
//	agrochat status                  backend and session health
//	agrochat config get | set | list | path
//	agrochat devserver               local development backend
//	agrochat version
//
// Every command accepts --json for machine-readable output. Errors map to
// the exit codes in errors.go.
package cli
