package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DisplaySpec describes how one tool invocation is rendered for humans:
// the headline label and which argument fields are worth surfacing.
type DisplaySpec struct {
	Emoji      string
	Label      string
	DetailKeys []string
}

// displaySpecs covers the built-in tools. Tools registered from
// elsewhere fall back to a humanized name.
var displaySpecs = map[string]DisplaySpec{
	"search_web": {
		Emoji:      "🔎",
		Label:      "Web search",
		DetailKeys: []string{"query", "search_engine"},
	},
	"get_page_text_content": {
		Emoji:      "🌐",
		Label:      "Read page text",
		DetailKeys: []string{"url"},
	},
	"get_page_html_content": {
		Emoji:      "🌐",
		Label:      "Read page HTML",
		DetailKeys: []string{"url"},
	},
	"generate_image": {
		Emoji:      "🎨",
		Label:      "Generate image",
		DetailKeys: []string{"prompt", "size"},
	},
	"generate_altered_image": {
		Emoji:      "🎨",
		Label:      "Alter image",
		DetailKeys: []string{"prompt", "image_path", "size"},
	},
	"list_working_directory": {
		Emoji:      "📂",
		Label:      "List working directory",
		DetailKeys: []string{"max_depth"},
	},
	"execute_wsl_command": {
		Emoji:      "🐧",
		Label:      "Run WSL command",
		DetailKeys: []string{"command", "distribution"},
	},
}

// detailLabels renames argument keys whose json names read poorly in a
// headline.
var detailLabels = map[string]string{
	"search_engine": "engine",
	"max_depth":     "depth",
	"max_results":   "results",
	"output_path":   "path",
	"image_path":    "source",
	"distribution":  "distro",
}

// maxDetailEntries caps how many argument fields a headline shows.
const maxDetailEntries = 4

// maxDetailValueLen caps the rendered length of one argument value.
const maxDetailValueLen = 80

// SpecFor returns the display spec for a tool name, falling back to a
// humanized version of the name itself.
func SpecFor(name string) DisplaySpec {
	if spec, ok := displaySpecs[name]; ok {
		return spec
	}
	return DisplaySpec{Label: humanizeName(name)}
}

// Describe renders a one-line human headline for a tool invocation,
// e.g. `🔎 Web search: golang fsnotify`. Arguments that are not a valid
// JSON object are ignored.
func Describe(name string, input json.RawMessage) string {
	spec := SpecFor(name)

	var sb strings.Builder
	if spec.Emoji != "" {
		sb.WriteString(spec.Emoji)
		sb.WriteString(" ")
	}
	sb.WriteString(spec.Label)

	details := describeDetails(spec, input)
	if len(details) > 0 {
		sb.WriteString(": ")
		sb.WriteString(strings.Join(details, ", "))
	}
	return sb.String()
}

// describeDetails picks the headline's argument fragments. Keys named
// by the spec come first, in spec order, with the first one unlabeled;
// any remaining arguments follow labeled, alphabetically.
func describeDetails(spec DisplaySpec, input json.RawMessage) []string {
	if len(input) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(input, &args); err != nil {
		return nil
	}

	var details []string
	seen := make(map[string]bool)
	for i, key := range spec.DetailKeys {
		value := detailValue(args[key])
		seen[key] = true
		if value == "" {
			continue
		}
		if i == 0 {
			details = append(details, value)
		} else {
			details = append(details, detailLabel(key)+"="+value)
		}
	}

	var rest []string
	for key := range args {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		value := detailValue(args[key])
		if value == "" {
			continue
		}
		details = append(details, detailLabel(key)+"="+value)
	}

	if len(details) > maxDetailEntries {
		details = details[:maxDetailEntries]
	}
	return details
}

func detailLabel(key string) string {
	if label, ok := detailLabels[key]; ok {
		return label
	}
	return strings.ReplaceAll(key, "_", " ")
}

// detailValue renders a scalar argument value; composites and empty
// values render as nothing.
func detailValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = strings.TrimSpace(val)
	case bool:
		s = fmt.Sprintf("%t", val)
	case float64:
		if val == float64(int64(val)) {
			s = fmt.Sprintf("%d", int64(val))
		} else {
			s = fmt.Sprintf("%g", val)
		}
	default:
		return ""
	}
	if len(s) > maxDetailValueLen {
		s = s[:maxDetailValueLen-3] + "..."
	}
	return s
}

// humanizeName turns a snake_case tool name into a readable label.
func humanizeName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		if i == 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
