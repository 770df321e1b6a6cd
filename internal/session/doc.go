// Package session implements the debugger-session lifecycle manager: the
// collaborator every dispatch tool calls through to reach a live debugger
// process.
//
// A Manager owns the set of Managed sessions currently active in this
// process, keyed by (sessionID, userID). Create allocates a session record
// and persists it, enforcing the per-user session quota; Get resumes an
// existing one, checking ownership; Touch/Close/Persist manage its lifecycle. OpenDump and
// CloseDump attach and detach a debugger process to a session, running
// managed-metadata detection and symbol configuration as part of opening.
// Start/Stop run a background sweep that closes sessions idle past the
// configured timeout.
//
// List only sees sessions held in this process's in-memory state;
// ListPersisted scans the storage tree directly, for callers (the
// "sessions list" operator command) that never start a live Manager around
// a running debugger.
package session
