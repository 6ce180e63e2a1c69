package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// personSessionActive reports whether a participant is waiting for the user
// to pick a candidate.
func (s *State) personSessionActive() bool {
	if !s.NeedsPersonResolution {
		return false
	}
	_, part := s.pendingParticipant()
	return part != nil
}

// selectionIndex parses a bare number reply.
func selectionIndex(text string) (int, bool) {
	t := strings.TrimSpace(text)
	t = strings.TrimSuffix(t, ".")
	if t == "" || len(t) > 3 {
		return 0, false
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return 0, false
	}
	return n, true
}

// selectPerson turns a numeric reply into a participant selection while a
// person resolution session is active and returns the system note for the
// planner. Out-of-range numbers keep the session; other replies leave the
// state untouched and return "".
func (s *State) selectPerson(text string) string {
	if !s.personSessionActive() {
		return ""
	}
	n, ok := selectionIndex(text)
	if !ok {
		return ""
	}
	item, part := s.pendingParticipant()
	if n < 1 || n > len(part.Candidates) {
		return fmt.Sprintf("INVALID PERSON SELECTION: %d is not an option for %q. Ask again which of these was meant:\n%s",
			n, part.Name, numberedCandidates(part.Candidates))
	}

	c := part.Candidates[n-1]
	s.Selection = &PersonSelection{Name: part.Name, Candidate: c, EntityID: item.EntityID, SourceTool: item.SourceTool}
	var b strings.Builder
	fmt.Fprintf(&b, "RESOLVED PERSON SELECTION: the user chose option %d for %q: %s", n, part.Name, c.DisplayName)
	if c.Email != "" {
		fmt.Fprintf(&b, " <%s>", c.Email)
	}
	b.WriteString(".\n")
	switch {
	case c.Email == "":
		b.WriteString("No email is known for this contact; ask the user for it before inviting.")
	case item.EntityID != "":
		fmt.Fprintf(&b, "Call %s with command update, item_id %s and participants [{\"name\": %q, \"email\": %q}].",
			item.SourceTool, item.EntityID, c.DisplayName, c.Email)
	default:
		fmt.Fprintf(&b, "Repeat the %s %s call with this participant's email.", item.SourceTool, item.Mode)
	}
	s.dropPendingParticipant()
	return b.String()
}

func numberedCandidates(cs []matcher.Candidate) string {
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, c.DisplayName)
	}
	return b.String()
}

func candidateNames(cs []matcher.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.DisplayName
	}
	return out
}

// postprocess flags the participants this turn's process_event calls could
// not resolve. Turns without event calls keep the previous session.
func (a *App) postprocess(_ context.Context, s *State) error {
	calls := s.Context.Tools.Since(tools.ToolProcessEvent, s.StartedAt)
	if len(calls) == 0 {
		return nil
	}
	var items []PersonResolutionItem
	for _, c := range calls {
		if item, ok := personItem(c); ok {
			items = append(items, item)
		}
	}
	s.PersonResolutionItems = items
	s.NeedsPersonResolution = len(items) > 0
	if s.NeedsPersonResolution {
		slog.Info("participants need resolution", "thread", s.Input.ThreadID, "items", len(items))
	}
	return nil
}

func personItem(c tools.Call) (PersonResolutionItem, bool) {
	if c.Result == nil {
		return PersonResolutionItem{}, false
	}
	var unresolved []tools.UnresolvedParticipant
	if !c.Result.Field("unresolved_participants", &unresolved) || len(unresolved) == 0 {
		return PersonResolutionItem{}, false
	}
	var args map[string]any
	_ = json.Unmarshal(c.Args, &args)
	mode, _ := args["command"].(string)
	return PersonResolutionItem{
		SourceTool:   c.Tool,
		Mode:         mode,
		EntityType:   "event",
		EntityID:     c.Result.ItemID,
		ToolArgs:     args,
		Participants: unresolved,
	}, true
}

func confirmThread(threadID string) string { return threadID + "#confirm" }

// confirmPerson resolves the first pending participant through the
// confirmation graph and, once a contact is chosen, adds it to the event.
func (a *App) confirmPerson(ctx context.Context, s *State) error {
	item, part := s.pendingParticipant()
	if part == nil {
		s.confirmOutcome = ""
		return nil
	}
	p := a.Prompts()
	threadID := confirmThread(s.Input.ThreadID)

	var (
		res *graph.Result[ConfirmState]
		err error
	)
	if answer, ok := graph.ResumeValue(ctx); ok {
		s.Response = ""
		s.AppendHistory("user", answer, time.Now())
		res, err = a.confirm.Resume(ctx, threadID, answer)
	} else {
		names := make([]string, 0, len(item.Participants))
		for _, pp := range item.Participants {
			names = append(names, pp.Name)
		}
		res, err = a.confirm.Invoke(ctx, threadID, ConfirmState{
			Query:        part.Name,
			Options:      part.Candidates,
			OriginalText: s.InputText,
			Mode:         item.Mode,
			EntityType:   item.EntityType,
			EntityID:     item.EntityID,
			Participants: names,
		})
	}
	if err != nil {
		return fmt.Errorf("confirm %q: %w", part.Name, err)
	}

	if res.Interrupted() {
		q := res.Interrupt.Prompt.Question
		if s.Response != "" {
			q = s.Response + "\n\n" + q
		}
		return graph.Suspend(graph.Prompt{Question: q, Kind: "person", Options: candidateNames(part.Candidates)})
	}

	sel := res.State.SelectedItem
	if sel == nil {
		s.confirmOutcome = ResolveCannot
		msg := fmt.Sprintf(p.PersonUnresolved, part.Name)
		if len(part.Candidates) > 0 {
			msg = fmt.Sprintf(p.PersonQuestion, part.Name) + "\n" + numberedCandidates(part.Candidates)
		}
		s.Response = joinReply(s.Response, msg)
		s.AppendHistory("assistant", msg, time.Now())
		return nil
	}

	s.confirmOutcome = ResolveDone
	s.Selection = &PersonSelection{Name: part.Name, Candidate: *sel, EntityID: item.EntityID, SourceTool: item.SourceTool}
	msg := a.applySelection(ctx, s, item, *sel)
	s.dropPendingParticipant()
	s.Response = joinReply(s.Response, msg)
	s.AppendHistory("assistant", msg, time.Now())
	return nil
}

// applySelection adds the chosen contact to the event it was meant for and
// returns the Hebrew confirmation.
func (a *App) applySelection(ctx context.Context, s *State, item *PersonResolutionItem, c matcher.Candidate) string {
	p := a.Prompts()
	if c.Email == "" || item.EntityID == "" {
		return fmt.Sprintf(p.PersonUnresolved, c.DisplayName)
	}
	sc := tools.ScopeFromCtx(ctx)
	args, _ := json.Marshal(map[string]any{
		"command":      "update",
		"item_id":      item.EntityID,
		"participants": []map[string]string{{"name": c.DisplayName, "email": c.Email}},
	})
	res := a.tools.Execute(ctx, tools.ToolProcessEvent, args, sc)
	if s.Context.Tools == nil {
		s.Context.Tools = tools.HistoryBook{}
	}
	s.Context.Tools.Record(tools.NewCall(tools.ToolProcessEvent, args, res, time.Now()), a.cfg.MaxToolHistory)
	if !res.OK {
		slog.Warn("add confirmed participant failed", "thread", s.Input.ThreadID, "code", res.Code, "error", res.Error)
		return p.Apology
	}
	s.Confirmed = append(s.Confirmed, c.DisplayName)
	return fmt.Sprintf(p.PersonAdded, c.DisplayName)
}

func joinReply(prev, msg string) string {
	if prev == "" {
		return msg
	}
	return prev + "\n\n" + msg
}
