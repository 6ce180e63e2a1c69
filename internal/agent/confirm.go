package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
)

// Confirmation graph nodes.
const (
	nodePrepareInitial = "prepare_initial_llm"
	nodeResolveInitial = "resolve_initial_llm"
	nodeAskUser        = "ask_user"
	nodePrepareFinal   = "prepare_final_llm"
	nodeResolveFinal   = "resolve_final_llm"
	nodeApply          = "apply_resolution"
)

func (a *App) buildConfirm() *graph.Graph[ConfirmState] {
	g := graph.New[ConfirmState]("confirm")
	g.AddNode(nodePrepareInitial, a.prepareInitial)
	g.AddNode(nodeResolveInitial, a.resolveInitial)
	g.AddNode(nodeAskUser, a.askUser)
	g.AddNode(nodePrepareFinal, a.prepareFinal)
	g.AddNode(nodeResolveFinal, a.resolveFinal)
	g.AddNode(nodeApply, applyResolution)

	g.SetEntry(nodePrepareInitial)
	g.AddEdge(nodePrepareInitial, nodeResolveInitial)
	g.AddRoute(nodeResolveInitial, func(s *ConfirmState) string {
		if s.InitialResult != nil && s.InitialResult.Status == ResolveAskUser {
			return nodeAskUser
		}
		return nodeApply
	}, nodeAskUser, nodeApply)
	g.AddEdge(nodeAskUser, nodePrepareFinal)
	g.AddEdge(nodePrepareFinal, nodeResolveFinal)
	g.AddEdge(nodeResolveFinal, nodeApply)
	g.AddEdge(nodeApply, graph.End)
	return g
}

func (a *App) prepareInitial(_ context.Context, s *ConfirmState) error {
	payload := map[string]any{
		"query":         s.Query,
		"options":       s.Options,
		"original_text": s.OriginalText,
		"mode":          s.Mode,
		"entity_type":   s.EntityType,
		"entity_id":     s.EntityID,
		"participants":  s.Participants,
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode confirm input: %w", err)
	}
	s.Messages = []providers.Message{
		providers.System(a.Prompts().ConfirmInitial),
		providers.User(string(raw)),
	}
	return nil
}

// resolveInitial asks the first resolver. With strict_resolve an LLM error
// aborts the run; otherwise it becomes cannot_resolve.
func (a *App) resolveInitial(ctx context.Context, s *ConfirmState) error {
	out, err := completeJSON[InitialResolution](ctx, a, "person_resolution_initial", s.Messages)
	if err != nil {
		if a.cfg.StrictResolve {
			return fmt.Errorf("initial resolver: %w", err)
		}
		s.InitialResult = &InitialResolution{Status: ResolveCannot}
		return nil
	}

	switch out.Status {
	case ResolveDone:
		if picked := findOption(s.Options, out.SelectedItem); picked != nil {
			out.SelectedItem = picked
			break
		}
		// A pick outside the options is a question for the user.
		slog.Info("initial resolver picked an unknown option", "query", s.Query)
		out.Status = ResolveAskUser
		out.SelectedItem = nil
	case ResolveAskUser:
		out.SelectedItem = findOption(s.Options, out.SelectedItem)
	default:
		out.Status = ResolveCannot
		out.SelectedItem = nil
	}
	if out.Status == ResolveAskUser && len(s.Options) == 0 {
		out.Status = ResolveCannot
	}
	s.InitialResult = &out
	return nil
}

func (a *App) askUser(ctx context.Context, s *ConfirmState) error {
	q := strings.TrimSpace(s.InitialResult.Question)
	if q == "" {
		q = fmt.Sprintf(a.Prompts().PersonQuestion, s.Query) + "\n" + numberedCandidates(s.Options)
	}
	answer, err := graph.Interrupt(ctx, graph.Prompt{Question: q, Kind: "confirm", Options: candidateNames(s.Options)})
	if err != nil {
		return err
	}
	s.UserAnswer = answer
	return nil
}

func (a *App) prepareFinal(_ context.Context, s *ConfirmState) error {
	numbered := make([]map[string]any, len(s.Options))
	for i, o := range s.Options {
		numbered[i] = map[string]any{"number": i + 1, "option": o}
	}
	payload := map[string]any{
		"query":       s.Query,
		"options":     numbered,
		"user_answer": s.UserAnswer,
	}
	if s.InitialResult != nil {
		payload["question"] = s.InitialResult.Question
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode confirm answer: %w", err)
	}
	s.Messages = []providers.Message{
		providers.System(a.Prompts().ConfirmFinal),
		providers.User(string(raw)),
	}
	return nil
}

// resolveFinal never fails the run: errors and invented picks become
// cannot_resolve.
func (a *App) resolveFinal(ctx context.Context, s *ConfirmState) error {
	out, err := completeJSON[FinalResolution](ctx, a, "person_resolution_final", s.Messages)
	if err != nil {
		s.FinalResult = &FinalResolution{Status: ResolveCannot}
		return nil
	}
	picked := findOption(s.Options, out.SelectedItem)
	if out.Status != ResolveDone || picked == nil {
		s.FinalResult = &FinalResolution{Status: ResolveCannot}
		return nil
	}
	s.FinalResult = &FinalResolution{Status: ResolveDone, SelectedItem: picked}
	return nil
}

func applyResolution(_ context.Context, s *ConfirmState) error {
	s.SelectedItem = nil
	switch {
	case s.FinalResult != nil && s.FinalResult.SelectedItem != nil:
		s.SelectedItem = s.FinalResult.SelectedItem
	case s.InitialResult != nil && s.InitialResult.SelectedItem != nil:
		s.SelectedItem = s.InitialResult.SelectedItem
	}
	return nil
}

// findOption returns the option c refers to, matching on chat id, email or
// phone first and on display name last.
func findOption(opts []matcher.Candidate, c *matcher.Candidate) *matcher.Candidate {
	if c == nil {
		return nil
	}
	for i := range opts {
		o := &opts[i]
		switch {
		case c.ChatID != "" && o.ChatID == c.ChatID,
			c.Email != "" && strings.EqualFold(o.Email, c.Email),
			c.Phone != "" && o.Phone == c.Phone:
			cp := *o
			return &cp
		}
	}
	name := strings.TrimSpace(c.DisplayName)
	for i := range opts {
		if name != "" && opts[i].DisplayName == name {
			cp := opts[i]
			return &cp
		}
	}
	return nil
}
