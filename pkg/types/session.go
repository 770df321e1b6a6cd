// Package types provides the core data types for the crash-dump analysis service.
package types

// DebuggerState is the lifecycle state of a DebuggerInstance.
type DebuggerState string

const (
	DebuggerUninitialized DebuggerState = "uninitialized"
	DebuggerInitialized   DebuggerState = "initialized"
	DebuggerDumpOpen      DebuggerState = "dump_open"
	DebuggerDumpClosed    DebuggerState = "dump_closed"
	DebuggerDisposed      DebuggerState = "disposed"
)

// Session is a per-user debugger lifecycle owner, keyed by (UserID, ID).
type Session struct {
	ID                   string        `json:"id"`
	UserID               string        `json:"userID"`
	CreatedAt            int64         `json:"createdAt"`
	LastActivityAt       int64         `json:"lastActivityAt"`
	CurrentDumpID        *string       `json:"currentDumpID,omitempty"`
	DebuggerState        DebuggerState `json:"debuggerState"`
	ManagedReaderOpen    bool          `json:"managedReaderOpen"`
	SymbolPolicy         SymbolPolicy  `json:"symbolPolicy"`
	SourceLinkResolverOK bool          `json:"sourceLinkResolverOK"`
	CachedReportKey      *string       `json:"cachedReportKey,omitempty"`
}

// SymbolPolicy is the ordered symbol search path recorded on a Session.
type SymbolPolicy struct {
	DumpID       string   `json:"dumpID,omitempty"`
	SearchPaths  []string `json:"searchPaths,omitempty"`
	ExtraDirs    []string `json:"extraDirs,omitempty"`
	ConfiguredAt int64    `json:"configuredAt,omitempty"`
}

// SessionHeader is the summary view returned by session.list.
type SessionHeader struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userID"`
	Title          string  `json:"title"`
	CreatedAt      int64   `json:"createdAt"`
	LastActivityAt int64   `json:"lastActivityAt"`
	CurrentDumpID  *string `json:"currentDumpID,omitempty"`
}

// Header projects a Session into its list-view SessionHeader. The title is
// derived from the open dump's file name, falling back to a generic label
// before a dump has been opened.
func (s *Session) Header(dumpFileName string) SessionHeader {
	title := "New session"
	if dumpFileName != "" {
		title = dumpFileName
	}
	return SessionHeader{
		ID:             s.ID,
		UserID:         s.UserID,
		Title:          title,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		CurrentDumpID:  s.CurrentDumpID,
	}
}
