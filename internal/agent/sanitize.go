package agent

import (
	"log/slog"
	"regexp"
	"strings"
)

// SanitizeReply cleans responder text before it is stored and sent:
// model artifacts (tool-call XML, thinking blocks, <final> wrappers, echoed
// system notes) are removed, repeated paragraphs collapsed and internal item
// ids masked. Hebrew text itself is carried verbatim.
func SanitizeReply(content string) string {
	if content == "" {
		return content
	}
	original := content

	content = stripGarbledToolXML(content)
	if content == "" {
		return ""
	}
	content = stripDowngradedToolCallText(content)
	content = stripThinkingTags(content)
	content = stripFinalTags(content)
	content = stripEchoedSystemNotes(content)
	content = collapseConsecutiveDuplicateBlocks(content)
	content = stripItemIDs(content)
	content = leadingBlankLinesPattern.ReplaceAllString(content, "")
	content = strings.TrimSpace(content)

	if content != original {
		slog.Debug("sanitized reply", "original_len", len(original), "cleaned_len", len(content))
	}
	return content
}

// garbledToolXMLPattern matches tool call markup some models emit as plain
// text instead of structured output.
var garbledToolXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|functioninvoke|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var garbledToolXMLIndicators = []string{
	"functioninvoke",
	"<parameter name=",
	"</parameter",
	"<function_call",
	"<tool_call",
	"<tool_use",
}

// stripGarbledToolXML drops the whole reply when it carries tool-call
// markup; what remains is never a sentence meant for the user.
func stripGarbledToolXML(content string) string {
	lower := strings.ToLower(content)
	for _, ind := range garbledToolXMLIndicators {
		if strings.Contains(lower, ind) {
			slog.Warn("dropped reply with tool call markup", "len", len(content))
			return ""
		}
	}
	return content
}

// stripDowngradedToolCallText removes "[Tool Call: ...]" and
// "[Tool Result ...]" blocks, line by line since Go regexp has no lookahead.
func stripDowngradedToolCallText(content string) string {
	if !strings.Contains(content, "[Tool Call:") && !strings.Contains(content, "[Tool Result") {
		return content
	}

	var out []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[Tool Call:") || strings.HasPrefix(trimmed, "[Tool Result") {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" || strings.HasPrefix(trimmed, "Arguments:") ||
				strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "}") {
				continue
			}
			skipping = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// No backreferences in Go regexp, so one pattern per tag.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return strings.TrimSpace(content)
}

var finalTagPattern = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)

// stripFinalTags removes <final> wrappers but keeps their content.
func stripFinalTags(content string) string {
	if !strings.Contains(strings.ToLower(content), "final") {
		return content
	}
	return finalTagPattern.ReplaceAllString(content, "")
}

// systemNotePrefixes are the markers ingest uses for system notes; a model
// echoing them back is stripped up to the next blank line.
var systemNotePrefixes = []string{"RESOLVED PERSON SELECTION", "INVALID PERSON SELECTION", "[System Message]"}

func stripEchoedSystemNotes(content string) string {
	found := false
	for _, p := range systemNotePrefixes {
		if strings.Contains(content, p) {
			found = true
			break
		}
	}
	if !found {
		return content
	}

	var out []string
	skipping := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if hasAnyPrefix(trimmed, systemNotePrefixes) {
			skipping = true
			continue
		}
		if skipping {
			if trimmed == "" {
				skipping = false
			}
			continue
		}
		out = append(out, line)
	}
	cleaned := strings.TrimSpace(strings.Join(out, "\n"))
	slog.Warn("stripped echoed system note from reply", "original_len", len(content), "cleaned_len", len(cleaned))
	return cleaned
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// collapseConsecutiveDuplicateBlocks removes a paragraph repeated right
// after itself.
func collapseConsecutiveDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var out []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(out) > 0 && trimmed == strings.TrimSpace(out[len(out)-1]) {
			continue
		}
		out = append(out, block)
	}
	return strings.Join(out, "\n\n")
}

// itemIDPattern matches the UUIDs used as item ids.
var itemIDPattern = regexp.MustCompile(`\(?\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b\)?`)

func stripItemIDs(content string) string {
	if !itemIDPattern.MatchString(content) {
		return content
	}
	content = itemIDPattern.ReplaceAllString(content, "")
	return multiSpacePattern.ReplaceAllString(content, " ")
}

var (
	multiSpacePattern        = regexp.MustCompile(`[ \t]{2,}`)
	leadingBlankLinesPattern = regexp.MustCompile(`^(?:[ \t]*\r?\n)+`)
)
