package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
)

// TurnResult is the normalized outcome of one turn.
type TurnResult struct {
	Status     string                   `json:"status"`
	Interrupt  *graph.PendingInterrupt  `json:"interrupt,omitempty"`
	Interrupts []graph.PendingInterrupt `json:"interrupts,omitempty"`
	State      State                    `json:"state"`
}

// ReplyText picks what to send: the response for completed turns, the
// pending question for suspended ones and apology otherwise.
func (r *TurnResult) ReplyText(apology string) string {
	if r == nil {
		return apology
	}
	switch r.Status {
	case StatusOK:
		if r.State.Response != "" {
			return r.State.Response
		}
	case StatusInterrupt:
		if r.Interrupt != nil && r.Interrupt.Prompt.Question != "" {
			return r.Interrupt.Prompt.Question
		}
	}
	return apology
}

// HandleTurn runs one inbound message on threadID. A pending question on
// the thread is answered with text; otherwise a fresh run starts from base
// with text as its input, carrying the thread's history and open person
// resolution over from the previous turn.
func (a *App) HandleTurn(ctx context.Context, threadID, text string, base State) (*TurnResult, error) {
	unlock := a.lockThread(threadID)
	defer unlock()

	snap, err := a.root.Snapshot(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	var res *graph.Result[State]
	if snap != nil && snap.Pending != nil {
		res, err = a.root.Resume(ctx, threadID, text)
	} else {
		s := base
		s.InputText = text
		if snap != nil {
			carryOver(&s, &snap.State)
		}
		res, err = a.root.Invoke(ctx, threadID, s)
	}
	if err != nil {
		return nil, err
	}

	out := &TurnResult{Status: StatusOK, State: res.State}
	if res.Interrupted() {
		out.Status = StatusInterrupt
		out.Interrupt = res.Interrupt
		out.Interrupts = res.Interrupts
	}
	return out, nil
}

// carryOver copies what outlives a turn from prev into s.
func carryOver(s, prev *State) {
	if len(s.Messages) == 0 {
		s.Messages = trimHistory(prev.Messages, maxPersistedMessages)
	}
	if s.Context.Tools == nil {
		s.Context.Tools = prev.Context.Tools
	}
	if !s.NeedsPersonResolution && prev.NeedsPersonResolution {
		s.NeedsPersonResolution = true
		s.PersonResolutionItems = prev.PersonResolutionItems
	}
	if s.TargetAgent == "" && prev.IsFollowupQuestion {
		s.TargetAgent = prev.TargetAgent
		s.IsFollowupQuestion = true
	}
}

// AppendHistory records an assistant message sent outside a turn, such as
// the morning digest, on the thread's history for agentName.
func (a *App) AppendHistory(ctx context.Context, threadID, agentName, text string) error {
	if text == "" {
		return nil
	}
	unlock := a.lockThread(threadID)
	defer unlock()
	return a.root.Update(ctx, threadID, func(s *State) {
		s.Messages = append(s.Messages, HistoryMessage{Role: "assistant", Content: text, Agent: agentName, At: time.Now()})
		s.Messages = trimHistory(s.Messages, maxPersistedMessages)
	})
}

// Reset forgets the thread's checkpoints, including a pending question.
func (a *App) Reset(ctx context.Context, threadID string) error {
	unlock := a.lockThread(threadID)
	defer unlock()
	if err := a.confirm.Clear(ctx, confirmThread(threadID)); err != nil {
		return err
	}
	return a.root.Clear(ctx, threadID)
}
