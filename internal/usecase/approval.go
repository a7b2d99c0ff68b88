package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"notary-agent/internal/domain"
)

// ApprovalGate mediates the human yes/no decision for one pending tool
// invocation at a time. Policy lists short-circuit the front-end: tools on
// the always-approve list run without asking, tools on the always-deny list
// are rejected without asking, everything else goes to the human.
//
// With no timeout configured the gate waits indefinitely for the human.
// A configured timeout converts an unanswered request into a denial.
type ApprovalGate struct {
	frontEnd      domain.FrontEnd
	alwaysApprove map[string]bool
	alwaysDeny    map[string]bool
	timeout       time.Duration
	logger        *slog.Logger
}

// NewApprovalGate creates a gate over the front-end. timeout <= 0 means wait
// forever.
func NewApprovalGate(frontEnd domain.FrontEnd, approve, deny []string, timeout time.Duration, logger *slog.Logger) *ApprovalGate {
	g := &ApprovalGate{
		frontEnd:      frontEnd,
		alwaysApprove: make(map[string]bool, len(approve)),
		alwaysDeny:    make(map[string]bool, len(deny)),
		timeout:       timeout,
		logger:        logger,
	}
	for _, name := range approve {
		g.alwaysApprove[name] = true
	}
	for _, name := range deny {
		g.alwaysDeny[name] = true
	}
	return g
}

// Decide resolves one approval request. The caller must not issue another
// request before this one returns; the front-end contract supports a single
// outstanding request.
func (g *ApprovalGate) Decide(ctx context.Context, req domain.ApprovalRequest) (bool, error) {
	if g.alwaysDeny[req.ToolName] {
		g.logger.Info("tool denied by policy", "tool", req.ToolName)
		return false, nil
	}
	if g.alwaysApprove[req.ToolName] {
		g.logger.Info("tool approved by policy", "tool", req.ToolName)
		return true, nil
	}

	askCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		askCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	approved, err := g.frontEnd.RequestApproval(askCtx, req)
	if err != nil {
		if g.timeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			g.logger.Warn("approval request timed out, denying",
				"tool", req.ToolName, "timeout", g.timeout)
			return false, domain.ErrApprovalTimeout
		}
		return false, err
	}
	return approved, nil
}
