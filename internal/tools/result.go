package tools

import (
	"encoding/json"
	"fmt"
)

// Error codes carried in Result.Code.
const (
	CodeValidation      = "validation_error"
	CodeMissingItemID   = "missing_item_id"
	CodeMissingTitle    = "missing_title"
	CodeMissingDatetime = "missing_datetime"
	CodeNotFound        = "not_found"
	CodeNoCreds         = "no_creds"
	CodeSlotTaken       = "slot_taken"
	CodeInvalidDatetime = "invalid_datetime_format"
	CodeUnknownCommand  = "unknown_command"
	CodeBadInput        = "bad_input"
	CodeFetchFailed     = "fetch_failed"
	CodeException       = "exception"
	CodeInternal        = "internal_error"
)

// Result is the uniform envelope every tool returns:
// {ok, item_id?, error?, code?, ...fields}. Fields are flattened into the
// top-level JSON object.
type Result struct {
	OK     bool
	ItemID string
	Error  string
	Code   string
	Fields map[string]any
}

func Success(itemID string) *Result {
	return &Result{OK: true, ItemID: itemID}
}

func Failure(code, format string, args ...any) *Result {
	return &Result{Code: code, Error: fmt.Sprintf(format, args...)}
}

// With sets a domain field and returns r.
func (r *Result) With(key string, value any) *Result {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
	return r
}

// Field decodes the named field into dst. Fields that went through a JSON
// round trip hold generic values, so this re-encodes before decoding.
func (r *Result) Field(key string, dst any) bool {
	if r == nil {
		return false
	}
	v, ok := r.Fields[key]
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["ok"] = r.OK
	if r.ItemID != "" {
		out["item_id"] = r.ItemID
	}
	if r.Error != "" {
		out["error"] = r.Error
	}
	if r.Code != "" {
		out["code"] = r.Code
	}
	return json.Marshal(out)
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*r = Result{}
	r.OK, _ = m["ok"].(bool)
	r.ItemID, _ = m["item_id"].(string)
	r.Error, _ = m["error"].(string)
	r.Code, _ = m["code"].(string)
	for _, k := range []string{"ok", "item_id", "error", "code"} {
		delete(m, k)
	}
	if len(m) > 0 {
		r.Fields = m
	}
	return nil
}
