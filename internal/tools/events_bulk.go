package tools

import (
	"context"
)

const maxBulkEvents = 20

// BulkEventsAction is the process_events argument record.
type BulkEventsAction struct {
	Items []EventItem `json:"items" jsonschema:"required" jsonschema_description:"events to create, update or delete, in order (at most 20)"`
}

func (a *BulkEventsAction) Validate() *Result {
	switch {
	case len(a.Items) == 0:
		return Failure(CodeBadInput, "items must list at least one event")
	case len(a.Items) > maxBulkEvents:
		return Failure(CodeBadInput, "%d items exceed the limit of %d", len(a.Items), maxBulkEvents)
	}
	return nil
}

type bulkEventResult struct {
	Index     int        `json:"index"`
	OK        bool       `json:"ok"`
	ItemID    string     `json:"item_id,omitempty"`
	Error     string     `json:"error,omitempty"`
	Code      string     `json:"code,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

func newProcessEventsTool(d Deps) Tool {
	return NewTool(ToolProcessEvents,
		"Apply several process_event operations in one call. Each item is handled independently.",
		func(ctx context.Context, a BulkEventsAction, sc *Scope) *Result {
			results := make([]bulkEventResult, 0, len(a.Items))
			failed := 0
			for i, item := range a.Items {
				r := item.Validate()
				if r == nil {
					r = processEvent(ctx, d, item, sc)
				}
				br := bulkEventResult{Index: i, OK: r.OK, ItemID: r.ItemID, Error: r.Error, Code: r.Code}
				r.Field("conflicts", &br.Conflicts)
				if !r.OK {
					failed++
				}
				results = append(results, br)
			}
			out := &Result{OK: failed == 0}
			if failed > 0 {
				for _, r := range results {
					if !r.OK {
						out.Code = r.Code
						break
					}
				}
				out.Error = "some events could not be processed"
			}
			return out.With("results", results).With("failed", failed)
		})
}
