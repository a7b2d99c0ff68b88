package domain

import (
	"context"
	"encoding/json"
)

// ApprovalRequest carries everything the human needs to decide on one tool
// invocation. ProviderName is the literal "Unknown" when routing failed; the
// human may still deny.
type ApprovalRequest struct {
	ProviderName string          `json:"provider"`
	ToolName     string          `json:"tool"`
	Input        json.RawMessage `json:"input"`
}

// FrontEnd is the human-interaction collaborator. Implementations include the
// interactive console and the WebSocket gateway; the engine does not care
// which is attached.
//
// Ask and RequestApproval suspend the caller until the human responds or ctx
// is cancelled. The engine never issues a second Ask or RequestApproval
// before the previous one resolves.
type FrontEnd interface {
	Ask(ctx context.Context, prompt string) (string, error)
	RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error)
	ShowAnswer(text string)
	ShowSystemMessage(text string)
	Shutdown()
}
