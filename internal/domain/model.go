package domain

import "context"

// ModelResponse is one model round: an ordered sequence of content blocks
// plus the backend's stop reason.
type ModelResponse struct {
	Blocks     []ContentBlock
	StopReason string
}

// ModelBackend is the language-model inference collaborator. Generate must
// return a distinguishable error on transport, auth, or rate-limit failure
// (see ErrModelBackend, ErrAuthInvalid, ErrRateLimit).
type ModelBackend interface {
	Name() string
	Generate(ctx context.Context, transcript []Turn, catalogue []ToolDefinition) (*ModelResponse, error)
}
