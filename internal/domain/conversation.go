package domain

import "encoding/json"

// Role constants for transcript turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block type tags.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// ContentBlock is a tagged variant: exactly one of the field groups below is
// populated, selected by Type. Unknown tags are carried through untouched so
// a transcript round-trips through the model backend without loss.
type ContentBlock struct {
	Type string `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockToolUse
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// BlockToolResult
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock builds a plain text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolResultBlock builds a tool_result block answering the given tool_use id.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}
}

// Turn is one party's contribution to the conversation.
type Turn struct {
	Role   string         `json:"role"`
	Blocks []ContentBlock `json:"content"`
}

// Transcript is the ordered, append-only record of turns in one conversation.
// It is exclusively owned by the orchestration engine; turns are never
// mutated or removed once appended.
type Transcript struct {
	turns []Turn
}

// Append adds a turn to the transcript.
func (t *Transcript) Append(turn Turn) {
	t.turns = append(t.turns, turn)
}

// Turns returns a copy of the turn sequence.
func (t *Transcript) Turns() []Turn {
	cp := make([]Turn, len(t.turns))
	copy(cp, t.turns)
	return cp
}

// Len returns the number of turns appended so far.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// ToolUses returns the tool_use blocks of a turn, in order. Blocks whose tag
// does not match are skipped.
func (t Turn) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range t.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// FirstText returns the first text block of a turn, if any.
func (t Turn) FirstText() (string, bool) {
	for _, b := range t.Blocks {
		if b.Type == BlockText {
			return b.Text, true
		}
	}
	return "", false
}
