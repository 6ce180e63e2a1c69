// Package agent runs Tami's turns: a router picks a sub-agent, the
// sub-agent's linear graph plans and executes tool calls and phrases the
// reply, and unresolved event participants are disambiguated with the user.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

var tracer = otel.Tracer("github.com/gaddyh/tami2-ai-sub000/internal/agent")

// Agents lists the sub-agents in routing order.
var Agents = []string{AgentTasks, AgentEvents, AgentComms, AgentInfo}

// agentToolsets names the tools each sub-agent may call.
var agentToolsets = map[string][]string{
	AgentTasks:  {tools.ToolGetItems, tools.ToolProcessTask, tools.ToolProcessTasks, tools.ToolProcessReminder},
	AgentEvents: {tools.ToolGetItems, tools.ToolProcessEvent, tools.ToolProcessEvents, tools.ToolRecipientInfo},
	AgentComms:  {tools.ToolScheduledMessage, tools.ToolRecipientInfo, tools.ToolSearchChatHistory, tools.ToolGetItems},
	AgentInfo:   {tools.ToolWebSearch, tools.ToolGetItems, tools.ToolSearchChatHistory},
}

// maxPersistedMessages bounds the history carried from turn to turn.
const maxPersistedMessages = 60

// AppConfig configures a new App.
type AppConfig struct {
	Provider providers.Provider
	Tools    *tools.Registry
	Prompts  *Prompts // embedded defaults when nil
	Agent    config.AgentConfig

	// Checkpointer stores suspended turns of the root graph and of the
	// confirmation graph. In-memory when nil.
	Checkpointer graph.Checkpointer
}

// App owns the compiled graphs of one assistant.
type App struct {
	provider providers.Provider
	tools    *tools.Registry
	cfg      config.AgentConfig
	prompts  atomic.Pointer[Prompts]

	root    *graph.Runnable[State]
	confirm *graph.Runnable[ConfirmState]

	threadLocks sync.Map // thread id -> *sync.Mutex
}

// NewApp compiles the root, sub-agent and confirmation graphs.
func NewApp(cfg AppConfig) (*App, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	a := &App{
		provider: cfg.Provider,
		tools:    cfg.Tools,
		cfg:      withDefaults(cfg.Agent),
	}
	p := cfg.Prompts
	if p == nil {
		p = DefaultPrompts()
	}
	a.prompts.Store(p)

	cp := cfg.Checkpointer
	if cp == nil {
		cp = graph.NewMemoryCheckpointer()
	}
	root, err := a.buildRoot()
	if err != nil {
		return nil, err
	}
	if a.root, err = root.Compile(cp); err != nil {
		return nil, fmt.Errorf("compile root graph: %w", err)
	}
	if a.confirm, err = a.buildConfirm().Compile(cp); err != nil {
		return nil, fmt.Errorf("compile confirm graph: %w", err)
	}
	return a, nil
}

func withDefaults(c config.AgentConfig) config.AgentConfig {
	if c.MaxFollowups <= 0 {
		c.MaxFollowups = 3
	}
	if c.MaxToolHistory <= 0 {
		c.MaxToolHistory = 10
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 10
	}
	if c.CalendarWindowDays <= 0 {
		c.CalendarWindowDays = 14
	}
	return c
}

// Prompts returns the active prompt set.
func (a *App) Prompts() *Prompts { return a.prompts.Load() }

// SetPrompts swaps the prompt set; turns already running keep the old one.
func (a *App) SetPrompts(p *Prompts) {
	if p != nil {
		a.prompts.Store(p)
	}
}

// lockThread serializes turns of one thread.
func (a *App) lockThread(threadID string) func() {
	v, _ := a.threadLocks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// completeJSON is providers.CompleteJSON inside an LLM span.
func completeJSON[T any](ctx context.Context, a *App, schema string, msgs []providers.Message) (T, error) {
	ctx, span := tracer.Start(ctx, "llm."+schema)
	defer span.End()

	start := time.Now()
	out, err := providers.CompleteJSON[T](ctx, a.provider, schema, msgs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("llm call failed", "schema", schema, "provider", a.provider.Name(), "error", err)
		return out, err
	}
	slog.Debug("llm call", "schema", schema, "messages", len(msgs), "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}
