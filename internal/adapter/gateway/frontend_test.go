package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"notary-agent/internal/domain"
)

// expectFrame reads frames until one of the wanted type arrives, skipping
// replayed backlog.
func expectFrame(t *testing.T, ws *websocket.Conn, want FrameType) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, ws)
		if frame.Type == want {
			return frame
		}
	}
	t.Fatalf("no %s frame arrived", want)
	return Frame{}
}

func reply(t *testing.T, ws *websocket.Conn, frame Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, ws, frame); err != nil {
		t.Fatalf("write reply: %v", err)
	}
}

func TestAskResolvedByClientInput(t *testing.T) {
	s := NewServer(nil, "127.0.0.1:0", "", 10, testLogger())
	fe := NewFrontEnd(s, testLogger())
	_, dial := newWSFixture(t, s)

	ws, err := dial("")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	type askResult struct {
		text string
		err  error
	}
	done := make(chan askResult, 1)
	go func() {
		text, err := fe.Ask(context.Background(), "You: ")
		done <- askResult{text, err}
	}()

	frame := expectFrame(t, ws, FrameTypeAsk)
	payload, _ := json.Marshal(inputPayload{Text: "list my files"})
	reply(t, ws, Frame{Type: FrameTypeInput, ID: frame.ID, Payload: payload})

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("Ask: %v", res.err)
		}
		if res.text != "list my files" {
			t.Errorf("text = %q", res.text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask never resolved")
	}
}

func TestApprovalResolvedByClientDecision(t *testing.T) {
	s := NewServer(nil, "127.0.0.1:0", "", 10, testLogger())
	fe := NewFrontEnd(s, testLogger())
	_, dial := newWSFixture(t, s)

	ws, err := dial("")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	done := make(chan bool, 1)
	go func() {
		approved, _ := fe.RequestApproval(context.Background(), domain.ApprovalRequest{
			ProviderName: "files", ToolName: "rm",
		})
		done <- approved
	}()

	frame := expectFrame(t, ws, FrameTypeApproval)
	var req domain.ApprovalRequest
	if err := json.Unmarshal(frame.Payload, &req); err != nil || req.ToolName != "rm" {
		t.Errorf("approval payload = %s (%v)", frame.Payload, err)
	}
	payload, _ := json.Marshal(decisionPayload{Approved: false})
	reply(t, ws, Frame{Type: FrameTypeDecision, ID: frame.ID, Payload: payload})

	select {
	case approved := <-done:
		if approved {
			t.Error("denial decision reported as approval")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RequestApproval never resolved")
	}
}

func TestPendingAskRedeliveredToLateClient(t *testing.T) {
	s := NewServer(nil, "127.0.0.1:0", "", 10, testLogger())
	fe := NewFrontEnd(s, testLogger())
	_, dial := newWSFixture(t, s)

	// Ask before any client is connected.
	done := make(chan string, 1)
	go func() {
		text, _ := fe.Ask(context.Background(), "You: ")
		done <- text
	}()
	time.Sleep(30 * time.Millisecond)

	ws, err := dial("")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	frame := expectFrame(t, ws, FrameTypeAsk)
	payload, _ := json.Marshal(inputPayload{Text: "late but here"})
	reply(t, ws, Frame{Type: FrameTypeInput, ID: frame.ID, Payload: payload})

	select {
	case text := <-done:
		if text != "late but here" {
			t.Errorf("text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask never resolved for late-attaching client")
	}
}

func TestStaleReplyIgnored(t *testing.T) {
	s := NewServer(nil, "127.0.0.1:0", "", 10, testLogger())
	fe := NewFrontEnd(s, testLogger())
	_, dial := newWSFixture(t, s)

	ws, err := dial("")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	done := make(chan string, 1)
	go func() {
		text, _ := fe.Ask(context.Background(), "You: ")
		done <- text
	}()

	frame := expectFrame(t, ws, FrameTypeAsk)

	// A reply for a different request id must not resolve the ask.
	stale, _ := json.Marshal(inputPayload{Text: "stale"})
	reply(t, ws, Frame{Type: FrameTypeInput, ID: frame.ID + 99, Payload: stale})

	select {
	case text := <-done:
		t.Fatalf("stale reply resolved the ask with %q", text)
	case <-time.After(100 * time.Millisecond):
	}

	fresh, _ := json.Marshal(inputPayload{Text: "fresh"})
	reply(t, ws, Frame{Type: FrameTypeInput, ID: frame.ID, Payload: fresh})
	select {
	case text := <-done:
		if text != "fresh" {
			t.Errorf("text = %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("correct reply never resolved the ask")
	}
}

func TestAskHonorsCancellation(t *testing.T) {
	s := NewServer(nil, "127.0.0.1:0", "", 10, testLogger())
	fe := NewFrontEnd(s, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := fe.Ask(ctx, "You: ")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
