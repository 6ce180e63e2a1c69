package tools

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

var (
	taskStatuses = []string{store.StatusOpen, store.StatusPending, store.StatusCompleted, store.StatusDeleted, store.StatusFailed}
	taskFocuses  = []string{"none", "working", "next", "waiting", "scheduled"}
)

// TaskItem is the process_task argument record.
type TaskItem struct {
	Command     string   `json:"command" jsonschema:"required,enum=create,enum=update,enum=delete,enum=complete" jsonschema_description:"what to do with the task"`
	ItemID      string   `json:"item_id,omitempty" jsonschema_description:"task id; required for update, delete and complete"`
	OpID        string   `json:"op_id,omitempty" jsonschema_description:"idempotency key; repeating a create with the same op_id returns the same task"`
	Title       string   `json:"title,omitempty" jsonschema_description:"short task title; required for create"`
	Description string   `json:"description,omitempty"`
	Due         string   `json:"due,omitempty" jsonschema_description:"ISO-8601 due time; naive values are in the user's timezone"`
	Status      string   `json:"status,omitempty" jsonschema:"enum=open,enum=pending,enum=completed,enum=deleted,enum=failed"`
	Focus       string   `json:"focus,omitempty" jsonschema:"enum=none,enum=working,enum=next,enum=waiting,enum=scheduled"`
	ParentID    string   `json:"parent_id,omitempty"`
	Context     string   `json:"context,omitempty"`
	Location    string   `json:"location,omitempty"`
	WaitingOn   string   `json:"waiting_on,omitempty"`
	BlockedBy   []string `json:"blocked_by,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	ListID      string   `json:"list_id,omitempty"`
	Position    *int     `json:"position,omitempty"`
}

func (a *TaskItem) Validate() *Result {
	switch a.Command {
	case "create":
		if strings.TrimSpace(a.Title) == "" {
			return Failure(CodeMissingTitle, "title is required to create a task")
		}
	case "update", "delete", "complete":
		if a.ItemID == "" {
			return Failure(CodeMissingItemID, "item_id is required for %s", a.Command)
		}
	default:
		return Failure(CodeUnknownCommand, "unknown task command %q", a.Command)
	}
	if a.Status != "" && !slices.Contains(taskStatuses, a.Status) {
		return Failure(CodeValidation, "invalid status %q", a.Status)
	}
	if a.Focus != "" && !slices.Contains(taskFocuses, a.Focus) {
		return Failure(CodeValidation, "invalid focus %q", a.Focus)
	}
	return nil
}

// TaskPatch is the partial update applied by bulk_update.
type TaskPatch struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Due         string `json:"due,omitempty"`
	Status      string `json:"status,omitempty" jsonschema:"enum=open,enum=pending,enum=completed,enum=deleted,enum=failed"`
	Focus       string `json:"focus,omitempty" jsonschema:"enum=none,enum=working,enum=next,enum=waiting,enum=scheduled"`
	Context     string `json:"context,omitempty"`
	Location    string `json:"location,omitempty"`
	WaitingOn   string `json:"waiting_on,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ListID      string `json:"list_id,omitempty"`
}

func (p TaskPatch) empty() bool { return p == TaskPatch{} }

// apply copies the set fields onto t.
func (p TaskPatch) apply(t *store.Task, loc *time.Location) *Result {
	if p.Due != "" {
		due, err := ParseDateTime(p.Due, loc)
		if err != nil {
			return Failure(CodeInvalidDatetime, "due %q is not ISO-8601", p.Due)
		}
		due = due.UTC()
		t.Due = &due
	}
	if p.Title != "" {
		t.Title = p.Title
	}
	if p.Description != "" {
		t.Description = p.Description
	}
	if p.Status != "" {
		t.SetStatus(p.Status)
	}
	if p.Focus != "" {
		t.Focus = p.Focus
	}
	if p.Context != "" {
		t.Context = p.Context
	}
	if p.Location != "" {
		t.Location = p.Location
	}
	if p.WaitingOn != "" {
		t.WaitingOn = p.WaitingOn
	}
	if p.Notes != "" {
		t.Notes = p.Notes
	}
	if p.ListID != "" {
		t.ListID = p.ListID
	}
	return nil
}

func (a TaskItem) patch() TaskPatch {
	return TaskPatch{
		Title: a.Title, Description: a.Description, Due: a.Due, Status: a.Status, Focus: a.Focus,
		Context: a.Context, Location: a.Location, WaitingOn: a.WaitingOn, Notes: a.Notes, ListID: a.ListID,
	}
}

func newProcessTaskTool(d Deps) Tool {
	return NewTool(ToolProcessTask,
		"Create, update, delete or complete a single task.",
		func(ctx context.Context, a TaskItem, sc *Scope) *Result {
			return processTask(ctx, d, a, sc)
		})
}

func processTask(ctx context.Context, d Deps, a TaskItem, sc *Scope) *Result {
	switch a.Command {
	case "create":
		t := &store.Task{
			UserID:    sc.UserID,
			ItemID:    store.NewItemID(sc.UserID, a.OpID),
			OpID:      a.OpID,
			ParentID:  a.ParentID,
			BlockedBy: a.BlockedBy,
		}
		if a.Position != nil {
			t.Position = *a.Position
		}
		if r := a.patch().apply(t, sc.Loc()); r != nil {
			return r
		}
		if t.Status == "" {
			t.SetStatus(store.StatusOpen)
		}
		created, err := d.Tasks.Create(ctx, t)
		if err != nil {
			return storeFailure(err, "task")
		}
		refreshTaskRuntime(ctx, d, sc, "")
		return Success(created.ItemID).With("title", created.Title).With("status", created.Status)

	case "update":
		t, err := d.Tasks.Get(ctx, sc.UserID, a.ItemID)
		if err != nil {
			return storeFailure(err, "task")
		}
		if r := a.patch().apply(t, sc.Loc()); r != nil {
			return r
		}
		if a.ParentID != "" {
			t.ParentID = a.ParentID
		}
		if a.BlockedBy != nil {
			t.BlockedBy = a.BlockedBy
		}
		if a.Position != nil {
			t.Position = *a.Position
		}
		if err := d.Tasks.Update(ctx, t); err != nil {
			return storeFailure(err, "task")
		}
		completed := ""
		if a.Status == store.StatusCompleted {
			completed = t.Title
		}
		refreshTaskRuntime(ctx, d, sc, completed)
		return Success(t.ItemID).With("title", t.Title).With("status", t.Status)

	case "delete":
		t, err := d.Tasks.Get(ctx, sc.UserID, a.ItemID)
		if err != nil {
			return storeFailure(err, "task")
		}
		if err := d.Tasks.Delete(ctx, sc.UserID, a.ItemID); err != nil {
			return storeFailure(err, "task")
		}
		refreshTaskRuntime(ctx, d, sc, "")
		return Success(a.ItemID).With("title", t.Title).With("status", store.StatusDeleted)

	case "complete":
		t, err := d.Tasks.Get(ctx, sc.UserID, a.ItemID)
		if err != nil {
			return storeFailure(err, "task")
		}
		if err := d.Tasks.UpdateStatus(ctx, sc.UserID, a.ItemID, store.StatusCompleted); err != nil {
			return storeFailure(err, "task")
		}
		refreshTaskRuntime(ctx, d, sc, t.Title)
		return Success(a.ItemID).With("title", t.Title).With("status", store.StatusCompleted).With("completed", true)
	}
	return Failure(CodeUnknownCommand, "unknown task command %q", a.Command)
}

const (
	defaultBulkLimit = 100
	maxBulkLimit     = 1000
)

// BulkTasksAction is the process_tasks argument record.
type BulkTasksAction struct {
	Command string     `json:"command" jsonschema:"required,enum=bulk_update,enum=bulk_delete"`
	ItemIDs []string   `json:"item_ids" jsonschema:"required" jsonschema_description:"tasks to change; at least one"`
	Patch   *TaskPatch `json:"patch,omitempty" jsonschema_description:"fields to set; required for bulk_update"`
	DryRun  bool       `json:"dry_run,omitempty" jsonschema_description:"report what would change without changing it"`
	Limit   int        `json:"limit,omitempty" jsonschema:"default=100" jsonschema_description:"maximum number of tasks this call may touch (1-1000)"`
}

func (a *BulkTasksAction) Validate() *Result {
	switch a.Command {
	case "bulk_update":
		if a.Patch == nil || a.Patch.empty() {
			return Failure(CodeBadInput, "bulk_update needs a non-empty patch")
		}
	case "bulk_delete":
	default:
		return Failure(CodeUnknownCommand, "unknown bulk command %q", a.Command)
	}
	if len(a.ItemIDs) == 0 {
		return Failure(CodeMissingItemID, "item_ids must list at least one task")
	}
	if a.Limit < 0 || a.Limit > maxBulkLimit {
		return Failure(CodeBadInput, "limit must be between 1 and %d", maxBulkLimit)
	}
	limit := a.Limit
	if limit == 0 {
		limit = defaultBulkLimit
	}
	if len(a.ItemIDs) > limit {
		return Failure(CodeBadInput, "%d item_ids exceed the limit of %d", len(a.ItemIDs), limit)
	}
	return nil
}

type bulkItemResult struct {
	ItemID string `json:"item_id"`
	OK     bool   `json:"ok"`
	Title  string `json:"title,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

func newProcessTasksTool(d Deps) Tool {
	return NewTool(ToolProcessTasks,
		"Update or delete several tasks at once by id.",
		func(ctx context.Context, a BulkTasksAction, sc *Scope) *Result {
			results := make([]bulkItemResult, 0, len(a.ItemIDs))
			failed := 0
			for _, id := range a.ItemIDs {
				r := bulkOne(ctx, d, a, id, sc)
				if !r.OK {
					failed++
				}
				results = append(results, r)
			}
			if !a.DryRun {
				refreshTaskRuntime(ctx, d, sc, "")
			}
			out := &Result{OK: failed == 0}
			if failed > 0 {
				out.Code = results[firstFailed(results)].Code
				out.Error = "some tasks could not be changed"
			}
			return out.With("results", results).With("dry_run", a.DryRun).With("failed", failed)
		})
}

func firstFailed(rs []bulkItemResult) int {
	for i, r := range rs {
		if !r.OK {
			return i
		}
	}
	return 0
}

func bulkOne(ctx context.Context, d Deps, a BulkTasksAction, id string, sc *Scope) bulkItemResult {
	t, err := d.Tasks.Get(ctx, sc.UserID, id)
	if err != nil {
		r := storeFailure(err, "task")
		return bulkItemResult{ItemID: id, Error: r.Error, Code: r.Code}
	}
	res := bulkItemResult{ItemID: id, OK: true, Title: t.Title}
	if a.DryRun {
		return res
	}
	switch a.Command {
	case "bulk_delete":
		err = d.Tasks.Delete(ctx, sc.UserID, id)
	case "bulk_update":
		if r := a.Patch.apply(t, sc.Loc()); r != nil {
			return bulkItemResult{ItemID: id, Error: r.Error, Code: r.Code}
		}
		err = d.Tasks.Update(ctx, t)
	}
	if err != nil {
		r := storeFailure(err, "task")
		return bulkItemResult{ItemID: id, Error: r.Error, Code: r.Code}
	}
	return res
}
