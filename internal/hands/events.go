package hands

import (
	"encoding/json"

	"mindincarnation/internal/store"
)

// Event is a structured NDJSON event from the Hands stdout stream. Only the
// fields MI routes on are modeled; the raw line is preserved in Raw for
// forward compatibility.
type Event struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Item     *Item  `json:"item,omitempty"`
	Raw      string `json:"-"`
}

// Item is the payload of item.started / item.completed events.
type Item struct {
	Type      string `json:"type"` // agent_message, command_execution, file_patch, tool_call
	Text      string `json:"text,omitempty"`
	Command   string `json:"command,omitempty"`
	Status    string `json:"status,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Path      string `json:"path,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Event types MI recognizes.
const (
	EventThreadStarted = "thread.started"
	EventItemStarted   = "item.started"
	EventItemCompleted = "item.completed"
)

// Item types MI recognizes on item.completed.
const (
	ItemAgentMessage     = "agent_message"
	ItemCommandExecution = "command_execution"
	ItemFilePatch        = "file_patch"
	ItemToolCall         = "tool_call"
)

// parseEvent tries to read a stdout line as a structured event. Returns nil
// when the line is not a JSON object.
func parseEvent(line string) *Event {
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil
	}
	if ev.Type == "" {
		return nil
	}
	ev.Raw = line
	return &ev
}

func sortedLine(rec map[string]any) ([]byte, error) {
	data, err := store.MarshalSorted(rec)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
