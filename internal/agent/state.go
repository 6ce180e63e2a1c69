package agent

import (
	"encoding/json"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// Target agents.
const (
	AgentTasks  = "tasks"
	AgentEvents = "events"
	AgentComms  = "comms"
	AgentInfo   = "info"
)

// Input categories.
const (
	CategoryUserRequest       = "user_request"
	CategoryIncomingMonitored = "incoming_monitored"
	CategoryScheduledTrigger  = "scheduled_trigger"
)

// Turn statuses.
const (
	StatusOK        = "ok"
	StatusInterrupt = "interrupt"
	StatusError     = "error"
)

// Envelope is the immutable description of one inbound turn.
type Envelope struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	ThreadID       string    `json:"thread_id"`
	Locale         string    `json:"locale"`
	Timezone       string    `json:"timezone"`
	Now            time.Time `json:"now"`
	InputID        string    `json:"input_id"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Category       string    `json:"category"`
	ReplyRef       string    `json:"reply_ref,omitempty"`
}

// Location returns the envelope's zone, Asia/Jerusalem when unknown.
func (e Envelope) Location() *time.Location {
	if e.Timezone != "" {
		if loc, err := time.LoadLocation(e.Timezone); err == nil {
			return loc
		}
	}
	return tools.DefaultLocation()
}

// HistoryMessage is one persisted conversation entry, tagged with the
// sub-agent that produced or received it.
type HistoryMessage struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Agent   string    `json:"agent"`
	At      time.Time `json:"at"`
}

// Action is one tool call proposed by the planner.
type Action struct {
	Tool string         `json:"tool" jsonschema:"required" jsonschema_description:"tool name from the reference"`
	Args map[string]any `json:"args" jsonschema:"required" jsonschema_description:"tool arguments"`
}

// ToolOutcome is the result of an executed action, shown to the responder.
type ToolOutcome struct {
	Tool   string          `json:"tool"`
	Args   json.RawMessage `json:"args"`
	Result *tools.Result   `json:"result"`
}

// CalendarDay is one entry of the rolling calendar window.
type CalendarDay struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
}

// TurnContext is the per-turn metadata surfaced to the LLMs.
type TurnContext struct {
	Runtime        map[string]any    `json:"runtime,omitempty"`
	CalendarWindow []CalendarDay     `json:"calendar_window,omitempty"`
	Tools          tools.HistoryBook `json:"tools,omitempty"`
}

// PersonResolutionItem describes a tool call whose participants could not
// be tied to a contact.
type PersonResolutionItem struct {
	SourceTool   string                        `json:"source_tool"`
	Mode         string                        `json:"mode" jsonschema:"enum=create,enum=update"`
	EntityType   string                        `json:"entity_type"`
	EntityID     string                        `json:"entity_id,omitempty"`
	ToolArgs     map[string]any                `json:"tool_args,omitempty"`
	Participants []tools.UnresolvedParticipant `json:"participants"`
}

// PersonSelection is a participant choice made by the user.
type PersonSelection struct {
	Name       string            `json:"name"`
	Candidate  matcher.Candidate `json:"candidate"`
	EntityID   string            `json:"entity_id,omitempty"`
	SourceTool string            `json:"source_tool"`
}

// State is shared by the root graph and every linear sub-agent.
type State struct {
	Input       Envelope `json:"input"`
	InputText   string   `json:"input_text"`
	TargetAgent string   `json:"target_agent,omitempty"`
	RouteReason string   `json:"route_reason,omitempty"`

	Context     TurnContext         `json:"context"`
	LLMMessages []providers.Message `json:"llm_messages,omitempty"`
	Messages    []HistoryMessage    `json:"messages,omitempty"`
	Actions     []Action            `json:"actions,omitempty"`
	Followup    string              `json:"followup_message,omitempty"`
	Followups   int                 `json:"followups,omitempty"`
	ToolResults []ToolOutcome       `json:"tool_results,omitempty"`
	Response    string              `json:"response,omitempty"`
	Status      string              `json:"status,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	Selection   *PersonSelection    `json:"selection,omitempty"`
	Confirmed   []string            `json:"confirmed,omitempty"`

	IsFollowupQuestion    bool                   `json:"is_followup_question,omitempty"`
	NeedsPersonResolution bool                   `json:"needs_person_resolution,omitempty"`
	PersonResolutionItems []PersonResolutionItem `json:"person_resolution_items,omitempty"`

	confirmOutcome string // result of the last confirm_person step in this run
}

// AppendHistory adds a persisted message tagged with the current target.
func (s *State) AppendHistory(role, content string, at time.Time) {
	if content == "" {
		return
	}
	s.Messages = append(s.Messages, HistoryMessage{Role: role, Content: content, Agent: s.TargetAgent, At: at})
}

// pendingParticipant returns the first unresolved participant, if any.
func (s *State) pendingParticipant() (*PersonResolutionItem, *tools.UnresolvedParticipant) {
	for i := range s.PersonResolutionItems {
		item := &s.PersonResolutionItems[i]
		if len(item.Participants) > 0 {
			return item, &item.Participants[0]
		}
	}
	return nil, nil
}

// dropPendingParticipant removes the first unresolved participant and
// clears the resolution flags when none remain.
func (s *State) dropPendingParticipant() {
	for i := range s.PersonResolutionItems {
		item := &s.PersonResolutionItems[i]
		if len(item.Participants) > 0 {
			item.Participants = item.Participants[1:]
			break
		}
	}
	kept := s.PersonResolutionItems[:0]
	for _, item := range s.PersonResolutionItems {
		if len(item.Participants) > 0 {
			kept = append(kept, item)
		}
	}
	s.PersonResolutionItems = kept
	if len(kept) == 0 {
		s.PersonResolutionItems = nil
		s.NeedsPersonResolution = false
	}
}

// ConfirmState drives the person confirmation sub-graph.
type ConfirmState struct {
	Query        string              `json:"query"`
	Options      []matcher.Candidate `json:"options"`
	OriginalText string              `json:"original_text,omitempty"`
	Mode         string              `json:"mode,omitempty"`
	EntityType   string              `json:"entity_type,omitempty"`
	EntityID     string              `json:"entity_id,omitempty"`
	Participants []string            `json:"participants,omitempty"`

	Messages      []providers.Message `json:"messages,omitempty"`
	UserAnswer    string              `json:"user_answer,omitempty"`
	InitialResult *InitialResolution  `json:"initial_result,omitempty"`
	FinalResult   *FinalResolution    `json:"final_result,omitempty"`
	SelectedItem  *matcher.Candidate  `json:"selected_item,omitempty"`
}

// Resolution statuses.
const (
	ResolveDone    = "done"
	ResolveAskUser = "ask_user"
	ResolveCannot  = "cannot_resolve"
)

// InitialResolution is the first resolver's answer.
type InitialResolution struct {
	Status       string             `json:"status" jsonschema:"required,enum=done,enum=ask_user,enum=cannot_resolve"`
	Question     string             `json:"question,omitempty" jsonschema_description:"Hebrew clarification question when status is ask_user"`
	SelectedItem *matcher.Candidate `json:"selected_item,omitempty" jsonschema_description:"one of the options, copied exactly, when status is done"`
}

// FinalResolution is the second resolver's answer, after the user replied.
type FinalResolution struct {
	Status       string             `json:"status" jsonschema:"required,enum=done,enum=cannot_resolve"`
	SelectedItem *matcher.Candidate `json:"selected_item,omitempty" jsonschema_description:"one of the options, copied exactly"`
}
