package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// RouteDecision is the router's structured answer.
type RouteDecision struct {
	TargetAgent string `json:"target_agent" jsonschema:"required,enum=tasks,enum=events,enum=comms,enum=info"`
	Reason      string `json:"reason" jsonschema_description:"one short sentence"`
}

// routerContextMessages is how much recent history the router sees.
const routerContextMessages = 6

func validAgent(name string) bool {
	for _, a := range Agents {
		if a == name {
			return true
		}
	}
	return false
}

// agentForTool returns the sub-agent that owns tool.
func agentForTool(tool string) string {
	switch tool {
	case tools.ToolProcessEvent, tools.ToolProcessEvents:
		return AgentEvents
	case tools.ToolScheduledMessage, tools.ToolSearchChatHistory:
		return AgentComms
	case tools.ToolWebSearch:
		return AgentInfo
	default:
		return AgentTasks
	}
}

func (a *App) buildRoot() (*graph.Graph[State], error) {
	g := graph.New[State]("tami")
	g.AddNode("route", a.route)

	targets := make([]string, 0, len(Agents))
	for _, name := range Agents {
		sub := a.buildLinear(name)
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("sub-agent %s: %w", name, err)
		}
		node := name + "_agent"
		g.AddSubgraph(node, sub)
		g.AddEdge(node, "postprocess")
		targets = append(targets, node)
	}
	g.AddNode("postprocess", a.postprocess)
	g.AddNode("confirm_person", a.confirmPerson)

	g.SetEntry("route")
	g.AddRoute("route", func(s *State) string { return s.TargetAgent + "_agent" }, targets...)
	g.AddRoute("postprocess", func(s *State) string {
		if a.cfg.ConfirmPerson && s.personSessionActive() {
			return "confirm_person"
		}
		return graph.End
	}, "confirm_person", graph.End)
	g.AddRoute("confirm_person", func(s *State) string {
		if s.confirmOutcome == ResolveDone && s.personSessionActive() {
			return "confirm_person"
		}
		return graph.End
	}, "confirm_person", graph.End)
	return g, nil
}

// route picks the sub-agent. Numeric replies to a person question and
// answers to a responder question stay with the agent that asked; anything
// else goes to the router LLM, defaulting to tasks.
func (a *App) route(ctx context.Context, s *State) error {
	if s.personSessionActive() {
		if _, ok := selectionIndex(s.InputText); ok {
			item, _ := s.pendingParticipant()
			s.TargetAgent = agentForTool(item.SourceTool)
			s.RouteReason = "person selection"
			return nil
		}
	}
	if s.IsFollowupQuestion && validAgent(s.TargetAgent) {
		s.RouteReason = "answer to followup question"
		return nil
	}

	msgs := []providers.Message{providers.System(a.Prompts().Router)}
	if recent := recentExchange(s.Messages, routerContextMessages); recent != "" {
		msgs = append(msgs, providers.System("Recent conversation:\n"+recent))
	}
	msgs = append(msgs, providers.User(s.InputText))

	dec, err := completeJSON[RouteDecision](ctx, a, "route_decision", msgs)
	target := strings.ToLower(strings.TrimSpace(dec.TargetAgent))
	if err != nil || !validAgent(target) {
		slog.Info("router fell back to tasks", "thread", s.Input.ThreadID, "target", dec.TargetAgent, "error", err)
		s.TargetAgent = AgentTasks
		s.RouteReason = "default"
	} else {
		s.TargetAgent = target
		s.RouteReason = dec.Reason
	}

	if s.personSessionActive() {
		item, _ := s.pendingParticipant()
		if agentForTool(item.SourceTool) != s.TargetAgent {
			s.NeedsPersonResolution = false
			s.PersonResolutionItems = nil
		}
	}
	return nil
}

func recentExchange(msgs []HistoryMessage, n int) string {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s] %s: %s\n", m.Agent, m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}
