package safety

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ConfirmFunc asks the operator whether a flagged action may proceed.
// It receives the reviewer's analysis for display.
type ConfirmFunc func(analysis string) bool

const confirmWarning = "\n\x1b[1;33m⚠️  Warning: Potentially dangerous operation detected. Proceed? (y/n): \x1b[0m"

// TerminalConfirm returns a ConfirmFunc that prompts on the given streams.
// Only an explicit "y" or "yes" proceeds; read errors decline.
func TerminalConfirm(in io.Reader, out io.Writer) ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(analysis string) bool {
		if analysis != "" {
			fmt.Fprintln(out, analysis)
		}
		fmt.Fprint(out, confirmWarning)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		line = strings.TrimSpace(strings.ToLower(line))
		return line == "y" || line == "yes"
	}
}

// StdinIsTerminal reports whether the process can prompt an operator.
// Headless callers fall back to conversation-mode audits.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
