// Package arena
// Author: momentics <momentics@gmail.com>
//
// Multi-process hugepage arena management.
//
// The Controller is the single source of truth for live arenas. It serves a
// fixed-layout request/response protocol (see package protocol) over one
// connection at a time and runs every command to completion before reading
// the next. Each arena is served by its own Manager process, forked through
// the Supervisor, so a fault in one arena's memory subsystem cannot corrupt
// another. Managers confirm initialization through a handshake file, watch
// the arena's peer through an advisory lock file, and report crashed peers
// to the Controller's launcher on a separate notification channel.
package arena
