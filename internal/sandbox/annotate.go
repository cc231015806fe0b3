package sandbox

import (
	"fmt"
	"strings"
)

// Stream placeholders used when a captured stream is empty.
const (
	NoOutput       = "[No output]"
	NoErrorOutput  = "[No error output]"
	NoLoggerOutput = "[No logger output]"
)

// AnnotateCode renders code with line numbers and line lengths for the
// model to reason about. When errLine is positive, that line carries an
// error marker and every line gains a marker column:
//
//	 err >> |    2 |   21 | result = undefined_var
//	        |    3 |    0 |
func AnnotateCode(code string, errLine int) string {
	if code == "" {
		return ""
	}

	lines := strings.Split(strings.TrimSuffix(code, "\n"), "\n")
	var b strings.Builder

	for i, line := range lines {
		n := i + 1
		marker := ""
		if errLine > 0 {
			if n == errLine {
				marker = " err >> | "
			} else {
				marker = "        | "
			}
		}
		fmt.Fprintf(&b, "%s%4d | %4d | %s\n", marker, n, len(line), line)
	}
	return b.String()
}

// StripFences removes a wrapping markdown code fence, including any
// language tag on the opening fence. Unfenced payloads pass through.
func StripFences(code string) string {
	trimmed := strings.TrimSpace(code)
	if !strings.HasPrefix(trimmed, "```") {
		return code
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) == 1 {
		// A bare fence line carries no code.
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
	}

	// Drop the opening fence line (``` or ```sh).
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// FormatOutputMessage renders an execution's streams as the user-role
// record appended after every code action. Empty streams render as their
// placeholders.
func FormatOutputMessage(result *Result) string {
	stdout := result.Stdout
	if stdout == "" {
		stdout = NoOutput
	}
	stderr := result.Stderr
	if stderr == "" {
		stderr = NoErrorOutput
	}
	logging := result.Logging
	if logging == "" {
		logging = NoLoggerOutput
	}

	return "Here are the outputs of your last code execution:\n" +
		fmt.Sprintf("<stdout>\n%s\n</stdout>\n", stdout) +
		fmt.Sprintf("<stderr>\n%s\n</stderr>\n", stderr) +
		fmt.Sprintf("<logger>\n%s\n</logger>\n", logging) +
		"Please review the outputs, reflect, and determine next steps."
}
