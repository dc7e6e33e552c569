// Package ghostline defines the request/response types for ghostline IPC.
// Messages are JSON-encoded and sent over a Unix domain socket, one per line.
package ghostline

// ClearCacheCommand is the command id attached to every rendered suggestion
// and accepted by the command surface to empty the suggestion store.
const ClearCacheCommand = "ghostline.clearCompletionCache"

// StatusCommand reports budget and store counters.
const StatusCommand = "ghostline.status"

// Trigger kinds reported by the host.
const (
	TriggerAutomatic = "automatic"
	TriggerInvoke    = "invoke"
)

// Position is a zero-based line/column location in a document.
// Column counts bytes within the line.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range is a half-open span [Start, End) in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Item is a single displayable inline completion.
type Item struct {
	// Text replaces Range when the suggestion is accepted.
	Text string `json:"text"`
	// Range is the span of the current line replaced by Text.
	Range Range `json:"range"`
	// Command runs when the host accepts the suggestion.
	Command string `json:"command,omitempty"`
	// Weight is the relevance score the item was ranked by.
	Weight float64 `json:"weight"`
}

// Request is sent from the editor client to the daemon on every completion
// trigger.
type Request struct {
	// RequestID is a per-session incrementing identifier assigned by the editor.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// SessionID identifies the editor session.
	SessionID string `json:"session_id"`
	// SourceID identifies the document (usually its absolute path).
	SourceID string `json:"source_id"`
	// LanguageID is the editor's language identifier (e.g. "go", "shellscript").
	LanguageID string `json:"language_id"`
	// Text is the full document content.
	Text string `json:"text"`
	// Line and Column locate the cursor.
	Line   int `json:"line"`
	Column int `json:"column"`
	// TriggerKind is "automatic" or "invoke".
	TriggerKind string `json:"trigger_kind,omitempty"`
}

// Response is sent from the daemon back to the editor client.
type Response struct {
	// RequestID is echoed from the request for ordering on the client side.
	RequestID int `json:"request_id"`
	// Items is the list of suggestions, sorted by weight descending.
	Items []Item `json:"items"`
	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the editor client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "not_configured", "invalid_request").
	Code string `json:"code"`
	// Message is a human-readable error description.
	Message string `json:"message"`
}

// EditRequest reports a document edit so the daemon can prefetch suggestions
// on the typing path.
type EditRequest struct {
	// Type is always "edit".
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	SourceID   string `json:"source_id"`
	LanguageID string `json:"language_id"`
	// Text is the document content after the edit.
	Text string `json:"text"`
	// Line and Column locate the cursor after the edit.
	Line   int `json:"line"`
	Column int `json:"column"`
	// Inserted is the text inserted by the edit ("\n" for Enter).
	Inserted string `json:"inserted"`
	// Deleted is the number of bytes the edit removed.
	Deleted int `json:"deleted"`
}

// CommandRequest invokes a user command such as clearing the cache.
type CommandRequest struct {
	// Type is always "command".
	Type    string `json:"type"`
	Command string `json:"command"`
}

// Status reports engine counters.
type Status struct {
	BudgetAvailable int `json:"budget_available"`
	BudgetMax       int `json:"budget_max"`
	Suggestions     int `json:"suggestions"`
}

// AckResponse answers edit and command requests.
type AckResponse struct {
	OK     bool    `json:"ok"`
	Status *Status `json:"status,omitempty"`
	Error  *Error  `json:"error,omitempty"`
}

// ConfigRequest is sent from the client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "reload", "defaults", or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration (for "get", "reload", and "defaults" actions).
	Config *Config `json:"config,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
