package tools

import (
	"context"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
)

const defaultCandidateLimit = 8

// RecipientInfoQuery is the get_candidates_recipient_info argument record.
type RecipientInfoQuery struct {
	Name                       string `json:"name" jsonschema:"required" jsonschema_description:"name as the user wrote it"`
	Limit                      int    `json:"limit,omitempty" jsonschema:"default=8"`
	IncludeEmailForEventInvite bool   `json:"include_email_for_event_invite,omitempty" jsonschema_description:"return emails, only when inviting to a calendar event"`
}

func (a *RecipientInfoQuery) Validate() *Result {
	if strings.TrimSpace(a.Name) == "" {
		return Failure(CodeBadInput, "name is required")
	}
	if a.Limit < 0 {
		return Failure(CodeBadInput, "limit must be positive")
	}
	return nil
}

func newRecipientInfoTool(d Deps) Tool {
	return NewTool(ToolRecipientInfo,
		"Look up contacts matching a person or group name. Returns scored candidates with chat ids.",
		func(ctx context.Context, a RecipientInfoQuery, sc *Scope) *Result {
			limit := a.Limit
			if limit == 0 {
				limit = defaultCandidateLimit
			}
			res := d.Matcher.FindCandidates(ctx, sc.UserID, a.Name, limit)
			cands := res.Candidates
			if !a.IncludeEmailForEventInvite {
				cands = stripEmails(cands)
			}
			if cands == nil {
				cands = []matcher.Candidate{}
			}
			return Success("").
				With("name", res.Name).
				With("candidates", cands).
				With("count", len(cands))
		})
}

func stripEmails(cs []matcher.Candidate) []matcher.Candidate {
	if cs == nil {
		return nil
	}
	out := make([]matcher.Candidate, len(cs))
	for i, c := range cs {
		c.Email = ""
		out[i] = c
	}
	return out
}
