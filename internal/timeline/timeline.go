// Package timeline implements C5: a pure function that turns a worker
// session file's lines into UI-ready TimelineItems. The session file
// format itself is the opaque newline-JSON stream spec.md §1 describes;
// this package only recognizes the two line shapes §4.5 names
// (event_msg, response_item) and the handful of event_msg subtypes
// relevant to timeline display.
package timeline

import (
	"encoding/json"
)

// ItemType classifies a TimelineItem for UI rendering.
type ItemType string

const (
	ItemTypeStatus     ItemType = "status"
	ItemTypeUser       ItemType = "user"
	ItemTypeAssistant  ItemType = "assistant"
	ItemTypeReasoning  ItemType = "reasoning"
	ItemTypeToolCall   ItemType = "toolCall"
	ItemTypeToolResult ItemType = "toolResult"
)

// TimelineItem is one entry returned by Parse.
type TimelineItem struct {
	Type      ItemType `json:"type"`
	RawType   string   `json:"rawType"`
	TurnID    string   `json:"turnId,omitempty"`
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated,omitempty"`
}

// dedupeKey is the key used to collapse identical consecutive items.
type dedupeKey struct {
	Type    ItemType
	TurnID  string
	Text    string
	RawType string
}

type sessionLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type eventMsgPayload struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

type responseItemPayload struct {
	Type     string          `json:"type"`
	TurnID   string          `json:"turn_id"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"arguments"`
	Output   string          `json:"output"`
	CallID   string          `json:"call_id"`
}

// Parse turns raw session-file lines into the most recent limit
// TimelineItems for threadId. threadId is currently unused by the parsing
// logic itself (the session file is already thread-scoped on disk) but is
// accepted for symmetry with callers that resolve it from the filename,
// and to let future per-thread filtering be added without changing the
// signature.
func Parse(lines [][]byte, threadID string, limit int) []TimelineItem {
	_ = threadID

	var items []TimelineItem
	var activeTurnID string

	appendItem := func(it TimelineItem) {
		if n := len(items); n > 0 {
			last := items[n-1]
			if dedupeKey{last.Type, last.TurnID, last.Text, last.RawType} == (dedupeKey{it.Type, it.TurnID, it.Text, it.RawType}) {
				return
			}
		}
		items = append(items, it)
	}

	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		var rec sessionLine
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		switch rec.Type {
		case "event_msg":
			var p eventMsgPayload
			if err := json.Unmarshal(rec.Payload, &p); err != nil {
				continue
			}
			if p.TurnID != "" {
				activeTurnID = p.TurnID
			}

			switch p.Type {
			case "task_complete", "turn_aborted":
				if p.TurnID == "" || p.TurnID == activeTurnID {
					activeTurnID = ""
				}
				text, truncated := truncateText(CategoryAssistant, p.Text)
				appendItem(TimelineItem{Type: ItemTypeStatus, RawType: p.Type, TurnID: p.TurnID, Text: text, Truncated: truncated})
			case "user_message":
				text, truncated := truncateText(CategoryUser, p.Text)
				appendItem(TimelineItem{Type: ItemTypeUser, RawType: p.Type, TurnID: p.TurnID, Text: text, Truncated: truncated})
			case "agent_message":
				text, truncated := truncateText(CategoryAssistant, p.Text)
				appendItem(TimelineItem{Type: ItemTypeAssistant, RawType: p.Type, TurnID: p.TurnID, Text: text, Truncated: truncated})
			case "agent_reasoning":
				text, truncated := truncateText(CategoryReasoning, p.Text)
				appendItem(TimelineItem{Type: ItemTypeReasoning, RawType: p.Type, TurnID: p.TurnID, Text: text, Truncated: truncated})
			default:
				text, truncated := truncateText(CategoryAssistant, p.Text)
				appendItem(TimelineItem{Type: ItemTypeStatus, RawType: p.Type, TurnID: p.TurnID, Text: text, Truncated: truncated})
			}

		case "response_item":
			var p responseItemPayload
			if err := json.Unmarshal(rec.Payload, &p); err != nil {
				continue
			}
			if p.TurnID != "" {
				activeTurnID = p.TurnID
			}
			turnID := p.TurnID
			if turnID == "" {
				turnID = activeTurnID
			}

			switch p.Type {
			case "function_call", "local_shell_call", "custom_tool_call":
				text, truncated := truncateText(CategoryToolArgs, string(p.Args))
				appendItem(TimelineItem{Type: ItemTypeToolCall, RawType: p.Type, TurnID: turnID, Text: text, Truncated: truncated})
			case "function_call_output", "local_shell_call_output", "custom_tool_call_output":
				text, truncated := truncateText(CategoryToolOutput, p.Output)
				appendItem(TimelineItem{Type: ItemTypeToolResult, RawType: p.Type, TurnID: turnID, Text: text, Truncated: truncated})
			}
		}
	}

	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items
}
