// Package dispatch is the Dispatch Pipeline (spec.md §4.I): the six-step
// glue between an IncomingMessage and a reasoner reply. It owns no state of
// its own — every step delegates to Components E (send), F (ensure-running/
// pause), G (route), H (slash commands), and the reasoner client — so this
// package has no direct teacher analogue to copy from; it's new code
// structured the way the teacher's own top-level wiring composes its
// components (see cmd/root.go), one step per spec.md §4.I bullet.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
	"github.com/nextlevelbuilder/orchestrator/internal/slashcmd"
)

// AgentSupervisor is the subset of agentsup.Supervisor the pipeline needs.
type AgentSupervisor interface {
	EnsureRunning(ctx context.Context, agentID string) bool
	UpdateActivity(agentID string)
	IsPaused(agentID string) bool
	MarkPaused(agentID, reason string)
	ReasonerFor(agentID string) (*reasonerclient.Client, bool)
}

// MessageRouter is the subset of msgrouter.Router the pipeline needs.
type MessageRouter interface {
	Resolve(channel, chatID string) (string, bool)
}

// ToolCaller is the subset of toolrouter.Router the pipeline needs for
// best-effort conversation storage.
type ToolCaller interface {
	Route(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error)
}

// Sender delivers text back through the originating channel adapter.
type Sender interface {
	Send(ctx context.Context, channel, chatID, text string) error
}

// Pipeline wires the dispatch steps together.
type Pipeline struct {
	Supervisor      AgentSupervisor
	Router          MessageRouter
	Tools           ToolCaller
	Sender          Sender
	SlashDeps       slashcmd.Dependencies
	NotifyChannel   string
	NotifyChatID    string

	// Tracer opens one span per Dispatch call. If left nil, the global
	// TracerProvider's tracer is used, which is a no-op unless
	// internal/tracing.Init installed a provider.
	Tracer trace.Tracer
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return otel.Tracer("orchestrator")
}

const unavailableNotice = "Sorry, this assistant is temporarily unavailable. Please try again shortly."
const pausedNotice = "This assistant is paused due to unusual usage. An operator has been notified."

// Dispatch runs the six-step pipeline for one IncomingMessage.
func (p *Pipeline) Dispatch(ctx context.Context, msg bus.IncomingMessage) {
	ctx, span := p.tracer().Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("chat_id", msg.ChatID),
	))
	defer span.End()

	if len(msg.Text) > 0 && msg.Text[0] == '/' {
		res := slashcmd.Handle(ctx, p.SlashDeps, msg.Channel, msg.ChatID, msg.Text)
		if res.Handled {
			p.send(ctx, msg.Channel, msg.ChatID, res.Reply)
			return
		}
	}

	targetAgent, ok := p.Router.Resolve(msg.Channel, msg.ChatID)
	if !ok {
		slog.Warn("dispatch: no agent resolved", "channel", msg.Channel, "chat_id", msg.ChatID)
		return
	}
	span.SetAttributes(attribute.String("agent_id", targetAgent))

	if !p.Supervisor.EnsureRunning(ctx, targetAgent) {
		p.send(ctx, msg.Channel, msg.ChatID, unavailableNotice)
		return
	}

	p.Supervisor.UpdateActivity(targetAgent)

	if p.Supervisor.IsPaused(targetAgent) {
		p.send(ctx, msg.Channel, msg.ChatID, pausedNotice)
		return
	}

	rc, ok := p.Supervisor.ReasonerFor(targetAgent)
	if !ok {
		p.send(ctx, msg.Channel, msg.ChatID, unavailableNotice)
		return
	}

	resp, err := rc.ProcessMessage(ctx, reasonerclient.ProcessMessageRequest{
		AgentID:  targetAgent,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		SenderID: msg.SenderID,
		Text:     msg.Text,
	})
	if err != nil {
		slog.Error("dispatch: process-message call failed", "agent_id", targetAgent, "error", err)
		p.send(ctx, msg.Channel, msg.ChatID, unavailableNotice)
		return
	}

	switch {
	case resp.Paused:
		p.Supervisor.MarkPaused(targetAgent, resp.Reason)
		notifyChannel, notifyChatID := p.NotifyChannel, p.NotifyChatID
		if notifyChannel == "" {
			notifyChannel, notifyChatID = msg.Channel, msg.ChatID
		}
		p.send(ctx, notifyChannel, notifyChatID, fmt.Sprintf("Agent %s paused: %s", targetAgent, resp.Reason))

	case resp.Success:
		p.send(ctx, msg.Channel, msg.ChatID, resp.Response)
		if p.Tools != nil {
			_, err := p.Tools.Route(ctx, "store_conversation", map[string]any{
				"agent_id": targetAgent,
				"user":     msg.Text,
				"response": resp.Response,
			})
			if err != nil {
				slog.Warn("dispatch: store_conversation failed", "agent_id", targetAgent, "error", err)
			}
		}

	default:
		p.send(ctx, msg.Channel, msg.ChatID, mapError(resp.Error))
	}
}

func (p *Pipeline) send(ctx context.Context, channel, chatID, text string) {
	if text == "" {
		return
	}
	if err := p.Sender.Send(ctx, channel, chatID, text); err != nil {
		slog.Error("dispatch: send failed", "channel", channel, "chat_id", chatID, "error", err)
	}
}

func mapError(raw string) string {
	if raw == "" {
		return "Something went wrong processing that message."
	}
	return raw
}
