package agent

import (
	"fmt"
	"strings"

	"github.com/operantlabs/operant/pkg/models"
)

// Model output is XML-shaped but not XML: fields arrive as loose tag pairs
// with no escaping, and code bodies may themselves contain angle brackets.
// Everything here scans strings instead of feeding encoding/xml.

// tagContent returns the trimmed text between the first <tag> and its
// matching </tag>.
func tagContent(s, tag string) (string, bool) {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	start := strings.Index(s, open)
	if start < 0 {
		return "", false
	}
	start += len(open)
	end := strings.Index(s[start:], close)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(s[start : start+end]), true
}

// tagContents returns the trimmed text of every <tag> pair in order.
func tagContents(s, tag string) []string {
	var out []string
	rest := s
	for {
		inner, ok := tagContent(rest, tag)
		if !ok {
			break
		}
		out = append(out, inner)
		idx := strings.Index(rest, "</"+tag+">")
		rest = rest[idx+len(tag)+3:]
	}
	return out
}

// removeBlocks drops every <tag>...</tag> span, unclosed trailers included.
func removeBlocks(s, tag string) string {
	open := "<" + tag + ">"
	close := "</" + tag + ">"
	for {
		start := strings.Index(s, open)
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], close)
		if end < 0 {
			return s[:start]
		}
		s = s[:start] + s[start+end+len(close):]
	}
}

// StripThinkTags removes chain-of-thought spans that reasoning models emit
// before their actual answer.
func StripThinkTags(s string) string {
	for _, tag := range []string{"think", "thinking"} {
		s = removeBlocks(s, tag)
	}
	return strings.TrimSpace(s)
}

// cleanPlainText reduces a model response to its conversational text:
// think spans and stray action envelopes are removed.
func cleanPlainText(s string) string {
	s = StripThinkTags(s)
	s = removeBlocks(s, "action_response")
	return strings.TrimSpace(s)
}

// parseBool is lenient: anything that is not recognizably true is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	}
	return false
}

// ParseClassification extracts a request classification from model output.
// The parse never fails: missing or malformed fields take the defaults so
// a sloppy triage response degrades instead of aborting the turn.
func ParseClassification(text string) models.Classification {
	text = StripThinkTags(text)
	cls := models.DefaultClassification()

	if raw, ok := tagContent(text, "type"); ok {
		t := models.RequestType(strings.ToLower(raw))
		if t.Valid() {
			cls.Type = t
		}
	}
	if raw, ok := tagContent(text, "planning_required"); ok {
		cls.PlanningRequired = parseBool(raw)
	}
	if raw, ok := tagContent(text, "relative_effort"); ok {
		switch models.EffortLevel(strings.ToLower(raw)) {
		case models.EffortLow:
			cls.RelativeEffort = models.EffortLow
		case models.EffortMedium:
			cls.RelativeEffort = models.EffortMedium
		case models.EffortHigh:
			cls.RelativeEffort = models.EffortHigh
		}
	}
	if raw, ok := tagContent(text, "subject_change"); ok {
		cls.SubjectChange = parseBool(raw)
	}
	return cls
}

// parseAction maps the action tag's text onto a known action.
func parseAction(raw string) (models.Action, error) {
	switch models.Action(strings.ToUpper(strings.TrimSpace(raw))) {
	case models.ActionCode:
		return models.ActionCode, nil
	case models.ActionRead:
		return models.ActionRead, nil
	case models.ActionWrite:
		return models.ActionWrite, nil
	case models.ActionEdit:
		return models.ActionEdit, nil
	case models.ActionDone:
		return models.ActionDone, nil
	case models.ActionAsk:
		return models.ActionAsk, nil
	case models.ActionBye:
		return models.ActionBye, nil
	}
	return "", fmt.Errorf("unknown action %q, expected one of CODE, READ, WRITE, EDIT, DONE, ASK, BYE", strings.TrimSpace(raw))
}

// ParseActionResponse extracts the single action envelope from model
// output. Unlike classification, this parse is strict: a malformed
// envelope returns an error that the executor feeds back to the model
// for correction.
func ParseActionResponse(text string) (*models.ActionResponse, error) {
	text = StripThinkTags(text)

	if n := strings.Count(text, "<action_response>"); n == 0 {
		return nil, fmt.Errorf("no <action_response> tag found in the response, please provide exactly one action in the required XML format")
	} else if n > 1 {
		return nil, fmt.Errorf("found %d <action_response> tags, please provide exactly one action per response", n)
	}

	envelope, ok := tagContent(text, "action_response")
	if !ok {
		return nil, fmt.Errorf("the <action_response> tag is not closed, please provide the complete action XML")
	}

	// Free-text fields may legally contain angle brackets, so the
	// one-action check runs on the envelope with those spans removed.
	structural := envelope
	for _, tag := range []string{"code", "content", "learnings", "response", "replacements"} {
		structural = removeBlocks(structural, tag)
	}
	if n := strings.Count(structural, "<action>"); n == 0 {
		return nil, fmt.Errorf("no <action> tag found in the response, please specify exactly one action")
	} else if n > 1 {
		return nil, fmt.Errorf("found %d <action> tags, please specify exactly one action per response", n)
	}

	rawAction, _ := tagContent(structural, "action")
	action, err := parseAction(rawAction)
	if err != nil {
		return nil, err
	}

	resp := &models.ActionResponse{Action: action}
	if v, ok := tagContent(envelope, "learnings"); ok {
		resp.Learnings = v
	}
	if v, ok := tagContent(envelope, "response"); ok {
		resp.Response = v
	}
	if v, ok := tagContent(envelope, "code"); ok {
		resp.Code = v
	}
	if v, ok := tagContent(envelope, "content"); ok {
		resp.Content = v
	}
	if v, ok := tagContent(envelope, "file_path"); ok {
		resp.FilePath = v
	}
	for _, f := range tagContents(envelope, "mentioned_files") {
		if f != "" {
			resp.MentionedFiles = append(resp.MentionedFiles, f)
		}
	}

	if block, ok := tagContent(envelope, "replacements"); ok {
		finds := tagContents(block, "find")
		replaces := tagContents(block, "replace")
		if len(finds) != len(replaces) {
			return nil, fmt.Errorf("replacements must contain matching <find> and <replace> pairs, got %d find and %d replace tags", len(finds), len(replaces))
		}
		for i := range finds {
			resp.Replacements = append(resp.Replacements, models.Replacement{
				Find:    finds[i],
				Replace: replaces[i],
			})
		}
	}

	if err := validateActionFields(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// validateActionFields enforces the per-action required fields up front so
// dispatch never sees a half-formed envelope.
func validateActionFields(resp *models.ActionResponse) error {
	switch resp.Action {
	case models.ActionCode:
		if strings.TrimSpace(resp.Code) == "" {
			return fmt.Errorf("the CODE action requires a non-empty <code> field")
		}
	case models.ActionRead:
		if strings.TrimSpace(resp.FilePath) == "" {
			return fmt.Errorf("the READ action requires a <file_path> field")
		}
	case models.ActionWrite:
		if strings.TrimSpace(resp.FilePath) == "" {
			return fmt.Errorf("the WRITE action requires a <file_path> field")
		}
	case models.ActionEdit:
		if strings.TrimSpace(resp.FilePath) == "" {
			return fmt.Errorf("the EDIT action requires a <file_path> field")
		}
		if len(resp.Replacements) == 0 {
			return fmt.Errorf("the EDIT action requires at least one <find>/<replace> pair in <replacements>")
		}
	}
	return nil
}
