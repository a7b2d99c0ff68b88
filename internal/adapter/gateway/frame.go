package gateway

import "encoding/json"

// FrameType identifies the kind of frame exchanged over the WebSocket
// connection.
type FrameType string

const (
	// Server to client.
	FrameTypeEvent    FrameType = "event"    // bus event, live or replayed
	FrameTypeAsk      FrameType = "ask"      // prompt for the next utterance
	FrameTypeApproval FrameType = "approval" // tool approval request
	FrameTypeAnswer   FrameType = "answer"   // final assistant answer
	FrameTypeSystem   FrameType = "system"   // system message

	// Client to server.
	FrameTypeInput    FrameType = "input"    // reply to an ask frame
	FrameTypeDecision FrameType = "decision" // reply to an approval frame
)

// Frame is the envelope exchanged between client and server. ID correlates
// an input or decision with the ask or approval it answers. Replayed marks
// frames delivered from the backlog on connect rather than live.
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       uint64          `json:"id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Replayed bool            `json:"replayed,omitempty"`
}

// inputPayload is the body of an input frame.
type inputPayload struct {
	Text string `json:"text"`
}

// decisionPayload is the body of a decision frame.
type decisionPayload struct {
	Approved bool `json:"approved"`
}

// textPayload is the body of ask, answer, and system frames.
type textPayload struct {
	Text string `json:"text"`
}
