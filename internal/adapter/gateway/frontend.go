package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"notary-agent/internal/domain"
)

// FrontEnd exposes the conversation over the gateway server. A client may
// attach at any moment: an ask or approval issued while nobody is connected
// parks on the attach signal and is re-delivered when a client appears, so
// nothing busy-waits and nothing is lost.
//
// At most one ask or approval is outstanding at a time; the engine's
// sequencing guarantees this.
type FrontEnd struct {
	server *Server
	logger *slog.Logger
	nextID atomic.Uint64

	mu        sync.Mutex
	pendingID uint64
	textCh    chan string
	boolCh    chan bool
}

// NewFrontEnd wires a front-end to the server and registers itself as the
// recipient of client replies.
func NewFrontEnd(server *Server, logger *slog.Logger) *FrontEnd {
	f := &FrontEnd{server: server, logger: logger}
	server.SetReplyHandler(f.handleReply)
	return f
}

func (f *FrontEnd) handleReply(frame Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if frame.ID != f.pendingID {
		f.logger.Debug("gateway reply for stale request", "frame_id", frame.ID)
		return
	}

	switch frame.Type {
	case FrameTypeInput:
		var p inputPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return
		}
		if f.textCh != nil {
			select {
			case f.textCh <- p.Text:
			default:
			}
		}
	case FrameTypeDecision:
		var p decisionPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return
		}
		if f.boolCh != nil {
			select {
			case f.boolCh <- p.Approved:
			default:
			}
		}
	}
}

// Ask implements domain.FrontEnd.
func (f *FrontEnd) Ask(ctx context.Context, prompt string) (string, error) {
	payload, _ := json.Marshal(textPayload{Text: prompt})
	frame := Frame{
		Type:    FrameTypeAsk,
		ID:      f.nextID.Add(1),
		Payload: payload,
	}

	ch := make(chan string, 1)
	f.mu.Lock()
	f.pendingID = frame.ID
	f.textCh = ch
	f.boolCh = nil
	f.mu.Unlock()

	f.server.Broadcast(frame, false)

	for {
		select {
		case text := <-ch:
			return text, nil
		case <-f.server.AttachSignal():
			// A client connected mid-wait; it needs the open question.
			f.server.Broadcast(frame, false)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// RequestApproval implements domain.FrontEnd.
func (f *FrontEnd) RequestApproval(ctx context.Context, req domain.ApprovalRequest) (bool, error) {
	payload, _ := json.Marshal(req)
	frame := Frame{
		Type:    FrameTypeApproval,
		ID:      f.nextID.Add(1),
		Payload: payload,
	}

	ch := make(chan bool, 1)
	f.mu.Lock()
	f.pendingID = frame.ID
	f.boolCh = ch
	f.textCh = nil
	f.mu.Unlock()

	f.server.Broadcast(frame, false)

	for {
		select {
		case approved := <-ch:
			return approved, nil
		case <-f.server.AttachSignal():
			f.server.Broadcast(frame, false)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// ShowAnswer implements domain.FrontEnd. Answers join the replay backlog.
func (f *FrontEnd) ShowAnswer(text string) {
	payload, _ := json.Marshal(textPayload{Text: text})
	f.server.Broadcast(Frame{Type: FrameTypeAnswer, Payload: payload}, true)
}

// ShowSystemMessage implements domain.FrontEnd.
func (f *FrontEnd) ShowSystemMessage(text string) {
	payload, _ := json.Marshal(textPayload{Text: text})
	f.server.Broadcast(Frame{Type: FrameTypeSystem, Payload: payload}, true)
}

// Shutdown implements domain.FrontEnd.
func (f *FrontEnd) Shutdown() {
	f.server.Stop(context.Background())
}

var _ domain.FrontEnd = (*FrontEnd)(nil)
