package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"notary-agent/internal/domain"
	"notary-agent/internal/infra/tracer"
)

// State names the engine's position in the conversation state machine.
type State string

const (
	StateAwaitingInput    State = "awaiting_user_input"
	StateModelThinking    State = "model_thinking"
	StateDispatchingTools State = "dispatching_tools"
	StatePresentingAnswer State = "presenting_answer"
	StateClosed           State = "closed"
)

// deniedResultContent is the exact transcript content of a denied tool call.
const deniedResultContent = "User denied this action."

// exitCommand ends the conversation when the human types it, any letter case.
const exitCommand = "exit"

// EngineDeps holds injected dependencies for the engine.
type EngineDeps struct {
	FrontEnd domain.FrontEnd
	Backend  domain.ModelBackend
	Router   domain.ToolRouter
	Recorder domain.AuditRecorder
	Gate     *ApprovalGate
	Bus      domain.EventBus // optional, nil = no events
	Logger   *slog.Logger
}

// Engine owns the transcript and drives the conversation: the outer loop
// turns human utterances into model rounds, the inner loop turns model
// tool requests into approved executions and feeds the results back until
// the model answers in plain text.
//
// One Engine runs one conversation at a time. All waits (human input, model
// response, tool response, approval) happen in sequence on the calling
// goroutine; cancel ctx to abort any of them.
type Engine struct {
	deps       EngineDeps
	transcript domain.Transcript
	state      State
	convID     string
}

// NewEngine creates an engine with the given dependencies.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		deps:   deps,
		state:  StateAwaitingInput,
		convID: ulid.Make().String(),
	}
}

// State returns the engine's current state.
func (e *Engine) State() State { return e.state }

// ConversationID returns the identifier assigned to this conversation.
func (e *Engine) ConversationID() string { return e.convID }

// Transcript returns a copy of the turns appended so far.
func (e *Engine) Transcript() []domain.Turn { return e.transcript.Turns() }

// Run drives the conversation until the human types the exit command, the
// front-end closes, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.deps.Logger.Info("conversation started", "conversation_id", e.convID)

	for {
		e.state = StateAwaitingInput

		input, err := e.deps.FrontEnd.Ask(ctx, "You: ")
		if err != nil {
			e.close(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrFrontEndClosed) {
				return nil
			}
			return domain.WrapOp("Engine.Run", err)
		}

		if strings.EqualFold(strings.TrimSpace(input), exitCommand) {
			e.deps.FrontEnd.ShowSystemMessage("Goodbye.")
			e.close(ctx)
			return nil
		}

		e.deps.Recorder.Record(ctx, domain.KindUserInput, "user", "agent", input)
		e.transcript.Append(domain.Turn{
			Role:   domain.RoleUser,
			Blocks: []domain.ContentBlock{domain.TextBlock(input)},
		})
		e.publish(ctx, domain.EventUserInput, map[string]string{"text": input})

		if err := e.converse(ctx); err != nil {
			if ctx.Err() != nil {
				e.close(ctx)
				return nil
			}
			e.deps.Logger.Error("model round failed",
				"conversation_id", e.convID, "error", err)
			e.deps.FrontEnd.ShowSystemMessage("The model is unavailable: " + err.Error())
			e.publish(ctx, domain.EventSystemMessage, map[string]string{"error": err.Error()})
		}
	}
}

// converse runs model rounds until the model answers without requesting
// tools. A model failure escapes; everything below the model is absorbed
// into the transcript.
func (e *Engine) converse(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "engine.converse",
		attribute.String("conversation.id", e.convID),
	)
	defer span.End()

	for {
		e.state = StateModelThinking

		// Fresh catalogue every round so the model sees tools registered
		// since the last one.
		catalogue := e.deps.Router.AllDefinitions()

		e.publish(ctx, domain.EventModelCallStarted, map[string]int{"tools": len(catalogue)})
		start := time.Now()
		resp, err := e.deps.Backend.Generate(ctx, e.transcript.Turns(), catalogue)
		e.publish(ctx, domain.EventModelCallFinished, map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"ok":          err == nil,
		})
		if err != nil {
			// Nothing is appended: a failed round leaves no partial
			// assistant turn behind.
			tracer.RecordError(span, err)
			return err
		}

		assistant := domain.Turn{Role: domain.RoleAssistant, Blocks: resp.Blocks}
		e.transcript.Append(assistant)

		uses := assistant.ToolUses()
		if len(uses) == 0 {
			e.state = StatePresentingAnswer
			// Only the first text block is the answer; a turn without one
			// presents nothing.
			if answer, ok := assistant.FirstText(); ok {
				e.deps.FrontEnd.ShowAnswer(answer)
				e.publish(ctx, domain.EventAnswer, map[string]string{"text": answer})
			}
			tracer.SetOK(span)
			return nil
		}

		e.state = StateDispatchingTools

		// Sequential, in model order: side effects may be order-dependent
		// and the approval channel holds one request at a time.
		results := make([]domain.ContentBlock, 0, len(uses))
		for _, use := range uses {
			results = append(results, e.dispatchCall(ctx, use))
		}

		// All calls from one round are answered together in one turn.
		e.transcript.Append(domain.Turn{Role: domain.RoleUser, Blocks: results})
	}
}

// dispatchCall takes one tool_use block through resolution, approval, and
// execution. Every failure past this point becomes an error tool_result; the
// round always gets an answer for this call.
func (e *Engine) dispatchCall(ctx context.Context, use domain.ContentBlock) domain.ContentBlock {
	ctx, span := tracer.StartSpan(ctx, "engine.dispatch_call",
		attribute.String("tool.name", use.Name),
	)
	defer span.End()

	providerName := "Unknown"
	ref, resolveErr := e.deps.Router.Resolve(use.Name)
	if resolveErr == nil {
		providerName = ref.ProviderName
	}

	req := domain.ApprovalRequest{
		ProviderName: providerName,
		ToolName:     use.Name,
		Input:        use.Input,
	}
	e.publish(ctx, domain.EventApprovalRequested, req)
	approved, approvalErr := e.deps.Gate.Decide(ctx, req)
	e.publish(ctx, domain.EventApprovalResolved, map[string]any{
		"tool":     use.Name,
		"approved": approved,
	})

	e.deps.Recorder.Record(ctx, domain.KindSystem, "approval-gate", providerName, map[string]any{
		"tool":     use.Name,
		"approved": approved,
	})

	if approvalErr != nil && !errors.Is(approvalErr, domain.ErrApprovalTimeout) {
		e.deps.Logger.Warn("approval channel failed, treating as denial",
			"tool", use.Name, "error", approvalErr)
	}
	if !approved || approvalErr != nil {
		e.deps.Recorder.Record(ctx, domain.KindToolResult, providerName, "agent", map[string]any{
			"tool":     use.Name,
			"error":    "User denied",
			"is_error": true,
		})
		return domain.ToolResultBlock(use.ID, deniedResultContent, true)
	}

	e.deps.Recorder.Record(ctx, domain.KindToolExecution, "agent", providerName, map[string]any{
		"tool":  use.Name,
		"input": json.RawMessage(use.Input),
	})

	content, isError, elapsed := e.executeCall(ctx, ref, resolveErr, use)

	resultPayload := map[string]any{
		"tool":        use.Name,
		"duration_ms": elapsed.Milliseconds(),
	}
	if isError {
		resultPayload["error"] = content
		resultPayload["is_error"] = true
	} else {
		resultPayload["result"] = content
	}
	e.deps.Recorder.Record(ctx, domain.KindToolResult, providerName, "agent", resultPayload)
	e.publish(ctx, domain.EventToolCallFinished, map[string]any{
		"tool":     use.Name,
		"is_error": isError,
	})

	if isError {
		tracer.RecordError(span, errors.New(content))
	} else {
		tracer.SetOK(span)
	}
	return domain.ToolResultBlock(use.ID, content, isError)
}

// executeCall invokes the provider and reduces the outcome to transcript
// text. An unresolved tool or provider failure is fatal to this call only.
func (e *Engine) executeCall(ctx context.Context, ref domain.ToolReference, resolveErr error, use domain.ContentBlock) (string, bool, time.Duration) {
	if resolveErr != nil {
		return resolveErr.Error(), true, 0
	}

	e.publish(ctx, domain.EventToolCallStarted, map[string]string{"tool": use.Name})
	start := time.Now()
	contents, err := ref.Provider.CallTool(ctx, use.Name, use.Input)
	elapsed := time.Since(start)
	e.deps.Logger.Debug("tool call returned",
		"tool", use.Name,
		"provider", ref.ProviderName,
		"duration_ms", elapsed.Milliseconds(),
		"error", err,
	)
	if err != nil {
		return err.Error(), true, elapsed
	}
	return domain.FlattenToolContent(contents), false, elapsed
}

func (e *Engine) close(ctx context.Context) {
	if e.state == StateClosed {
		return
	}
	e.state = StateClosed
	e.publish(ctx, domain.EventConversationEnded, nil)
	e.deps.Logger.Info("conversation ended",
		"conversation_id", e.convID, "turns", e.transcript.Len())
}

func (e *Engine) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if e.deps.Bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	e.deps.Bus.Publish(ctx, domain.Event{
		Type:           eventType,
		Timestamp:      time.Now(),
		ConversationID: e.convID,
		Payload:        raw,
	})
}
