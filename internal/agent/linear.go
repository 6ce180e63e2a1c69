package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// Linear graph nodes.
const (
	nodeIngest           = "ingest"
	nodePlanner          = "planner_llm"
	nodePlannerFollowup  = "handle_planner_followup"
	nodeExecuteTools     = "execute_tools"
	nodePrepareResponder = "prepare_responder_messages"
	nodeResponder        = "responder_llm"
)

// Plan is the planner's structured answer.
type Plan struct {
	Actions         []Action `json:"actions" jsonschema:"required" jsonschema_description:"tool calls to run in order; empty when none are needed"`
	FollowupMessage string   `json:"followup_message,omitempty" jsonschema_description:"one short Hebrew question when a required detail is missing"`
}

// Reply is the responder's structured answer.
type Reply struct {
	Response              string                 `json:"response" jsonschema:"required" jsonschema_description:"the Hebrew message sent to the user"`
	IsFollowupQuestion    bool                   `json:"is_followup_question,omitempty" jsonschema_description:"true when the response asks the user something"`
	NeedsPersonResolution bool                   `json:"needs_person_resolution,omitempty"`
	PersonResolutionItems []PersonResolutionItem `json:"person_resolution_items,omitempty"`
}

// linearAgent is one sub-agent: a planner over a tool subset and a
// responder.
type linearAgent struct {
	app   *App
	name  string
	tools *tools.Registry
}

func (a *App) buildLinear(name string) *graph.Graph[State] {
	l := &linearAgent{app: a, name: name, tools: a.tools.Subset(agentToolsets[name]...)}

	g := graph.New[State](name)
	g.AddNode(nodeIngest, l.ingest)
	g.AddNode(nodePlanner, l.plan)
	g.AddNode(nodePlannerFollowup, l.handleFollowup)
	g.AddNode(nodeExecuteTools, l.executeTools)
	g.AddNode(nodePrepareResponder, l.prepareResponder)
	g.AddNode(nodeResponder, l.respond)

	g.SetEntry(nodeIngest)
	g.AddEdge(nodeIngest, nodePlanner)
	g.AddRoute(nodePlanner, afterPlanner, nodePlannerFollowup, nodeExecuteTools, nodePrepareResponder)
	g.AddEdge(nodePlannerFollowup, nodePlanner)
	g.AddEdge(nodeExecuteTools, nodePrepareResponder)
	g.AddEdge(nodePrepareResponder, nodeResponder)
	g.AddEdge(nodeResponder, graph.End)
	return g
}

func afterPlanner(s *State) string {
	switch {
	case s.Followup != "":
		return nodePlannerFollowup
	case len(s.Actions) > 0:
		return nodeExecuteTools
	default:
		return nodePrepareResponder
	}
}

func (l *linearAgent) ingest(ctx context.Context, s *State) error {
	if s.TargetAgent == "" {
		return errors.New("ingest: target agent is not set")
	}
	p := l.app.Prompts()
	now := time.Now()
	clock := s.Input.Now
	if clock.IsZero() {
		clock = now
	}

	var user *store.User
	if sc := tools.ScopeFromCtx(ctx); sc != nil {
		user = sc.User
	}
	s.Context.Runtime = BuildRuntime(s.Input, user, clock)
	s.Context.CalendarWindow = CalendarWindow(clock, s.Input.Location(), l.app.cfg.CalendarWindowDays)
	if s.Context.Tools == nil {
		s.Context.Tools = tools.HistoryBook{}
	}

	s.StartedAt = now
	s.Actions = nil
	s.Followup = ""
	s.Followups = 0
	s.ToolResults = nil
	s.Response = ""
	s.Status = ""
	s.IsFollowupQuestion = false
	s.Selection = nil

	msgs := []providers.Message{
		providers.System(p.PlannerFor(l.name) + "\n\n## Tools\n" + l.tools.Reference()),
		providers.System("Runtime context:\n" + runtimeBlock(s.Context)),
	}
	if note := s.selectPerson(s.InputText); note != "" {
		msgs = append(msgs, providers.System(note))
	}
	msgs = append(msgs, agentHistory(s.Messages, s.TargetAgent, l.app.cfg.HistoryLimit)...)
	msgs = append(msgs, providers.User(s.InputText))
	s.LLMMessages = msgs

	s.AppendHistory("user", s.InputText, now)
	return nil
}

func (l *linearAgent) plan(ctx context.Context, s *State) error {
	p := l.app.Prompts()
	plan, err := completeJSON[Plan](ctx, l.app, "linear_agent_plan", s.LLMMessages)
	if err != nil {
		s.Actions = nil
		s.Followup = p.Apology
		s.Status = StatusError
		return nil
	}

	s.Actions = plan.Actions
	s.Followup = strings.TrimSpace(plan.FollowupMessage)
	if s.Followup != "" && s.Followups >= l.app.cfg.MaxFollowups {
		slog.Info("planner followup limit reached", "agent", l.name, "followups", s.Followups, "thread", s.Input.ThreadID)
		s.Followup = ""
		if len(s.Actions) == 0 {
			s.Response = p.FollowupExhausted
		}
	}
	return nil
}

func (l *linearAgent) handleFollowup(ctx context.Context, s *State) error {
	answer, err := graph.Interrupt(ctx, graph.Prompt{Question: s.Followup, Kind: "followup"})
	if err != nil {
		return err
	}
	s.Followups++
	now := time.Now()
	s.AppendHistory("assistant", s.Followup, now)
	s.AppendHistory("user", answer, now)
	s.LLMMessages = append(s.LLMMessages, providers.Assistant(s.Followup), providers.User(answer))
	s.Followup = ""
	if s.Status == StatusError {
		s.Status = ""
	}
	return nil
}

func (l *linearAgent) executeTools(ctx context.Context, s *State) error {
	sc := tools.ScopeFromCtx(ctx)
	if sc == nil {
		sc = &tools.Scope{
			UserID:   s.Input.UserID,
			ThreadID: s.Input.ThreadID,
			Now:      s.Input.Now,
			Location: s.Input.Location(),
		}
	}
	var listing *store.TaskListing
	if sc.User != nil {
		listing = sc.User.Listing(sc.ThreadID)
	}

	for _, act := range s.Actions {
		args := resolveListingRefs(act.Tool, act.Args, listing)
		raw, err := json.Marshal(args)
		if err != nil {
			raw = json.RawMessage("{}")
		}
		res := l.tools.Execute(ctx, act.Tool, raw, sc)
		if !res.OK {
			slog.Info("tool call failed", "agent", l.name, "tool", act.Tool, "code", res.Code, "error", res.Error)
		}
		s.Context.Tools.Record(tools.NewCall(act.Tool, raw, res, time.Now()), l.app.cfg.MaxToolHistory)
		s.ToolResults = append(s.ToolResults, ToolOutcome{Tool: act.Tool, Args: raw, Result: res})
	}
	s.Actions = nil
	return nil
}

func (l *linearAgent) prepareResponder(_ context.Context, s *State) error {
	p := l.app.Prompts()
	doc := map[string]any{
		"runtime":         s.Context.Runtime,
		"calendar_window": s.Context.CalendarWindow,
		"tool_results":    s.ToolResults,
	}
	if s.NeedsPersonResolution {
		doc["person_resolution_items"] = s.PersonResolutionItems
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode responder context: %w", err)
	}

	msgs := []providers.Message{
		providers.System(strings.TrimSpace(p.Responder) + "\n\n" + strings.TrimSpace(p.ResponderSuffix)),
		providers.System("Context and tool results:\n" + string(raw)),
	}
	s.LLMMessages = append(msgs, agentHistory(s.Messages, s.TargetAgent, l.app.cfg.HistoryLimit)...)
	return nil
}

func (l *linearAgent) respond(ctx context.Context, s *State) error {
	p := l.app.Prompts()
	if s.Response != "" {
		// Set by the planner when it gave up on a followup.
		s.AppendHistory("assistant", s.Response, time.Now())
		s.Status = StatusOK
		return nil
	}

	reply, err := completeJSON[Reply](ctx, l.app, "linear_agent_response", s.LLMMessages)
	if err != nil {
		s.Response = p.Apology
		s.Status = StatusError
		s.AppendHistory("assistant", s.Response, time.Now())
		return nil
	}

	s.Response = SanitizeReply(reply.Response)
	if s.Response == "" {
		s.Response = p.Apology
	}
	s.IsFollowupQuestion = reply.IsFollowupQuestion
	if reply.NeedsPersonResolution && len(reply.PersonResolutionItems) > 0 {
		s.NeedsPersonResolution = true
		s.PersonResolutionItems = reply.PersonResolutionItems
	}
	if s.Status == "" {
		s.Status = StatusOK
	}
	s.AppendHistory("assistant", s.Response, time.Now())
	return nil
}

// resolveListingRefs maps small integers in task id arguments to the ids of
// the thread's last task listing. Arguments that are not listing indexes
// pass through unchanged.
func resolveListingRefs(tool string, args map[string]any, listing *store.TaskListing) map[string]any {
	if listing == nil || len(args) == 0 {
		return args
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	switch tool {
	case tools.ToolProcessTask:
		if id, ok := listingID(out["item_id"], listing); ok {
			out["item_id"] = id
		}
	case tools.ToolProcessTasks:
		list, ok := out["item_ids"].([]any)
		if !ok {
			return out
		}
		ids := make([]any, len(list))
		for i, v := range list {
			ids[i] = v
			if id, ok := listingID(v, listing); ok {
				ids[i] = id
			}
		}
		out["item_ids"] = ids
	}
	return out
}

func listingID(v any, listing *store.TaskListing) (string, bool) {
	var n int
	switch x := v.(type) {
	case float64:
		if x != float64(int(x)) {
			return "", false
		}
		n = int(x)
	case int:
		n = x
	case json.Number:
		i, err := strconv.Atoi(x.String())
		if err != nil {
			return "", false
		}
		n = i
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return "", false
		}
		n = i
	default:
		return "", false
	}
	return listing.Resolve(n)
}
