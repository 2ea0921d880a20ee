package engine

// EventType names one streamed engine event.
type EventType string

const (
	EventStart      EventType = "start"
	EventThinking   EventType = "thinking"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventResponse   EventType = "response"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
)

// Event is one element of the live engine feed. A stream carries start,
// thinking, zero or more tool_call/tool_result pairs, response on success,
// and exactly one terminal event: complete or error, never both.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`

	// thinking and response
	Content string `json:"content,omitempty"`

	// tool_call and tool_result
	Name   string         `json:"name,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`

	// complete
	Success  bool   `json:"success,omitempty"`
	Steps    int    `json:"steps,omitempty"`
	Response string `json:"response,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}
