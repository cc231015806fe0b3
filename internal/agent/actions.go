package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/operantlabs/operant/internal/agent/providers"
	"github.com/operantlabs/operant/internal/sandbox"
	"github.com/operantlabs/operant/internal/safety"
	"github.com/operantlabs/operant/internal/tools"
	"github.com/operantlabs/operant/pkg/models"
)

// MaxReadSize is the largest file the READ action will load verbatim.
// Larger files must be sampled with CODE instead.
const MaxReadSize = 24 * 1024

// loopSignal tells the turn loop what to do after a dispatched action.
type loopSignal int

const (
	// signalContinue proceeds to reflection and the next step.
	signalContinue loopSignal = iota
	// signalRespond runs the final response phase and ends the turn.
	signalRespond
	// signalStop ends the turn with the dispatched result as-is.
	signalStop
)

// dispatch routes one validated action envelope. Mutating actions pass
// the safety gate first.
func (e *Executor) dispatch(ctx context.Context, step int, action *models.ActionResponse, em *emitter) (*models.ExecutionResult, loopSignal, error) {
	if action.Action.Mutating() {
		blocked, err := e.auditAction(ctx, step, action, em)
		if err != nil {
			return nil, signalStop, err
		}
		if blocked != nil {
			return blocked, signalStop, nil
		}
	}

	switch action.Action {
	case models.ActionCode:
		return e.executeCode(ctx, step, action, em)

	case models.ActionRead:
		return e.readFile(action, em), signalContinue, nil

	case models.ActionWrite:
		return e.writeFile(action, em), signalContinue, nil

	case models.ActionEdit:
		return e.editFile(action, em), signalContinue, nil

	case models.ActionDone, models.ActionAsk:
		result := e.newResult(action.Action, models.ExecutionAction, models.StatusSuccess)
		result.Content = action.Response
		result.Files = append([]string(nil), action.MentionedFiles...)
		e.record(result, em)
		return result, signalRespond, nil

	case models.ActionBye:
		e.endSession()
		e.store.PurgeEphemeral()
		result := e.newResult(models.ActionBye, models.ExecutionSystem, models.StatusSuccess)
		result.Message = "Session ended"
		e.record(result, em)
		return result, signalStop, nil
	}

	// ParseActionResponse admits only the actions above.
	return nil, signalStop, turnError(KindValidation, PhaseAction, step, fmt.Sprintf("unsupported action %q", action.Action), nil)
}

// auditAction runs the safety gate over a mutating action. A nil result
// clears the action for dispatch; a non-nil result blocked it and ends
// the turn.
func (e *Executor) auditAction(ctx context.Context, step int, action *models.ActionResponse, em *emitter) (*models.ExecutionResult, error) {
	if e.auditor == nil {
		return nil, nil
	}

	payload := auditPayload(action)
	var decision safety.Decision
	var err error
	if e.confirm != nil {
		decision, err = e.auditor.CheckResponse(ctx, payload)
	} else {
		decision, err = e.auditor.CheckConversation(ctx, e.store.History(), payload)
	}
	if err != nil {
		return nil, turnError(providerKind(err), PhaseAction, step, "safety audit failed", err)
	}
	e.recordUsage(decision.Usage)

	switch decision.Verdict {
	case safety.VerdictSafe:
		return nil, nil

	case safety.VerdictOverride:
		e.log.Warn("code safety override applied based on the agent's security prompt",
			"agent_id", e.agentID, "action", action.Action)
		result := e.newResult(action.Action, models.ExecutionSecurityCheck, models.StatusSuccess)
		result.Message = decision.Analysis
		e.record(result, em)
		return nil, nil
	}

	// Unsafe. With an operator present, ask on the spot.
	if e.confirm != nil {
		if e.confirm(decision.Analysis) {
			return nil, nil
		}

		guidance := models.NewRecord(models.RoleUser, safety.DeclinedGuidance)
		guidance.ShouldSummarize = true
		e.store.Append(guidance)

		result := e.newResult(action.Action, models.ExecutionSystem, models.StatusCancelled)
		result.Code = action.Code
		result.Message = sandbox.CancelledMessage
		e.record(result, em)
		return result, nil
	}

	// Headless: relay the risk through the conversation and pause until
	// the user weighs in. An acknowledgement in the next message lets the
	// conversation-mode audit override on the retry.
	feedback := models.NewRecord(models.RoleUser, safety.DenialFeedback(decision.Analysis))
	feedback.ShouldSummarize = true
	e.store.Append(feedback)

	resp, err := e.invoke(ctx, PhaseAction, step, e.store.History(), false)
	if err != nil {
		return nil, err
	}

	relay := cleanPlainText(resp.Content)
	assistant := models.NewRecord(models.RoleAssistant, relay)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	result := e.newResult(action.Action, models.ExecutionSecurityCheck, models.StatusConfirmationRequired)
	result.Code = action.Code
	result.Content = relay
	result.Message = decision.Analysis
	e.record(result, em)
	return result, nil
}

// auditPayload serializes the pending action the way the reviewer sees it.
func auditPayload(action *models.ActionResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "action: %s\n", action.Action)
	if action.FilePath != "" {
		fmt.Fprintf(&b, "file_path: %s\n", action.FilePath)
	}
	if action.Code != "" {
		fmt.Fprintf(&b, "code:\n%s\n", action.Code)
	}
	if action.Content != "" {
		fmt.Fprintf(&b, "content:\n%s\n", action.Content)
	}
	for _, r := range action.Replacements {
		fmt.Fprintf(&b, "replacement:\n<find>\n%s\n</find>\n<replace>\n%s\n</replace>\n", r.Find, r.Replace)
	}
	return strings.TrimSpace(b.String())
}

// executeCode runs a CODE action. A failed run records the annotated
// error and asks the model for corrected code, up to the retry cap; the
// turn continues either way so the model can reflect and adjust.
func (e *Executor) executeCode(ctx context.Context, step int, action *models.ActionResponse, em *emitter) (*models.ExecutionResult, loopSignal, error) {
	code := action.Code
	attempts := e.maxCodeRetries + 1

	var execResult *sandbox.Result
	for attempt := 0; attempt < attempts; attempt++ {
		var err error
		execResult, err = e.sandbox.Run(ctx, code)
		if err != nil {
			return nil, signalStop, turnError(KindCodeExecution, PhaseExecution, step, "sandbox run failed", err)
		}

		if execResult.Cancelled {
			result := e.newResult(models.ActionCode, models.ExecutionSystem, models.StatusCancelled)
			result.Code = code
			result.Message = sandbox.CancelledMessage
			e.record(result, em)
			return result, signalStop, nil
		}

		if !execFailed(execResult) {
			formatted := sandbox.FormatOutputMessage(execResult)
			output := models.NewRecord(models.RoleUser, formatted)
			output.ShouldSummarize = true
			e.store.Append(output)

			result := e.newResult(models.ActionCode, models.ExecutionAction, models.StatusSuccess)
			result.Code = code
			result.Stdout = execResult.Stdout
			result.Stderr = execResult.Stderr
			result.Logging = execResult.Logging
			result.FormattedPrint = formatted
			result.Files = append([]string(nil), action.MentionedFiles...)
			e.record(result, em)
			return result, signalContinue, nil
		}

		info := execErrorInfo(code, execResult)
		feedback := retryExecErrorFeedback(attempt+1, info)
		if attempt == 0 {
			feedback = initialExecErrorFeedback(info)
		}
		rec := models.NewRecord(models.RoleUser, feedback)
		rec.ShouldSummarize = true
		e.store.Append(rec)
		e.log.Warn("code execution failed",
			"agent_id", e.agentID, "step", step, "attempt", attempt+1, "exit_code", execResult.ExitCode)

		if attempt+1 >= attempts {
			break
		}

		corrected, err := e.correctedCode(ctx, step)
		if err != nil {
			return nil, signalStop, err
		}
		if corrected == "" {
			break
		}
		code = corrected
	}

	result := e.newResult(models.ActionCode, models.ExecutionAction, models.StatusError)
	result.Code = code
	result.Stdout = execResult.Stdout
	result.Stderr = execResult.Stderr
	result.Logging = execResult.Logging
	result.Message = execErrorMessage(execResult)
	e.record(result, em)
	return result, signalContinue, nil
}

// correctedCode asks the model for a fixed CODE envelope after a failed
// run. An unusable reply ends the retry, not the turn.
func (e *Executor) correctedCode(ctx context.Context, step int) (string, error) {
	e.refreshContext()

	resp, err := e.invoke(ctx, PhaseExecution, step, e.store.History(), false)
	if err != nil {
		return "", err
	}

	assistant := models.NewRecord(models.RoleAssistant, resp.Content)
	assistant.ShouldSummarize = true
	e.store.Append(assistant)

	action, perr := ParseActionResponse(resp.Content)
	if perr != nil {
		e.log.Warn("corrected code envelope rejected", "step", step, "error", perr)
		return "", nil
	}
	if action.Action != models.ActionCode || strings.TrimSpace(action.Code) == "" {
		return "", nil
	}
	if action.Learnings != "" {
		e.store.AddLearning(action.Learnings)
	}
	return action.Code, nil
}

// readFile loads a file and appends its annotated contents for the model.
func (e *Executor) readFile(action *models.ActionResponse, em *emitter) *models.ExecutionResult {
	path := resolvePath(e.sandbox.WorkDir(), action.FilePath)

	info, err := os.Stat(path)
	if err != nil {
		return e.fileError(models.ActionRead, action, err, em)
	}
	if info.Size() > MaxReadSize {
		msg := readTooLargeMessage(action.FilePath)
		rec := models.NewRecord(models.RoleUser, msg)
		rec.ShouldSummarize = true
		e.store.Append(rec)

		result := e.newResult(models.ActionRead, models.ExecutionAction, models.StatusError)
		result.FilePath = action.FilePath
		result.Message = msg
		e.record(result, em)
		return result
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return e.fileError(models.ActionRead, action, err, em)
	}

	rec := models.NewRecord(models.RoleUser, readContentsMessage(action.FilePath, annotateOrEmpty(string(data))))
	rec.ShouldSummarize = true
	rec.ShouldCache = true
	e.store.Append(rec)

	result := e.newResult(models.ActionRead, models.ExecutionAction, models.StatusSuccess)
	result.FilePath = action.FilePath
	result.Stdout = "Successfully read file: " + action.FilePath
	result.Files = []string{action.FilePath}
	e.record(result, em)
	return result
}

// writeFile replaces a file's contents with the envelope's payload.
func (e *Executor) writeFile(action *models.ActionResponse, em *emitter) *models.ExecutionResult {
	path := resolvePath(e.sandbox.WorkDir(), action.FilePath)

	content := action.Content
	if strings.TrimSpace(content) == "" {
		// Models sometimes put the payload in the code field.
		content = action.Code
	}
	content = sandbox.StripFences(content)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return e.fileError(models.ActionWrite, action, err, em)
	}

	rec := models.NewRecord(models.RoleUser, writeConfirmMessage(action.FilePath))
	rec.ShouldSummarize = true
	e.store.Append(rec)

	result := e.newResult(models.ActionWrite, models.ExecutionAction, models.StatusSuccess)
	result.FilePath = action.FilePath
	result.Content = content
	result.Stdout = "Successfully wrote to file: " + action.FilePath
	result.Files = []string{action.FilePath}
	e.record(result, em)
	return result
}

// editFile applies find/replace pairs, first occurrence only, and shows
// the model the edited file for review.
func (e *Executor) editFile(action *models.ActionResponse, em *emitter) *models.ExecutionResult {
	path := resolvePath(e.sandbox.WorkDir(), action.FilePath)

	data, err := os.ReadFile(path)
	if err != nil {
		return e.fileError(models.ActionEdit, action, err, em)
	}

	content := string(data)
	for _, r := range action.Replacements {
		if !strings.Contains(content, r.Find) {
			return e.fileError(models.ActionEdit, action,
				fmt.Errorf("Find string '%s' not found in file %s", r.Find, action.FilePath), em)
		}
		content = strings.Replace(content, r.Find, r.Replace, 1)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return e.fileError(models.ActionEdit, action, err, em)
	}

	rec := models.NewRecord(models.RoleUser, editConfirmMessage(action.FilePath, annotateOrEmpty(content)))
	rec.ShouldSummarize = true
	e.store.Append(rec)

	result := e.newResult(models.ActionEdit, models.ExecutionAction, models.StatusSuccess)
	result.FilePath = action.FilePath
	result.Replacements = append([]models.Replacement(nil), action.Replacements...)
	result.Stdout = "Successfully edited file: " + action.FilePath
	result.Files = []string{action.FilePath}
	e.record(result, em)
	return result
}

// fileError feeds a file action failure back to the model and records it.
func (e *Executor) fileError(act models.Action, action *models.ActionResponse, err error, em *emitter) *models.ExecutionResult {
	rec := models.NewRecord(models.RoleUser, actionErrorFeedback(err))
	rec.ShouldSummarize = true
	e.store.Append(rec)

	result := e.newResult(act, models.ExecutionAction, models.StatusError)
	result.FilePath = action.FilePath
	result.Message = err.Error()
	e.record(result, em)
	e.log.Warn("file action failed", "action", act, "path", action.FilePath, "error", err)
	return result
}

// handleToolCalls executes native tool invocations and feeds the results
// back as conversation turns.
func (e *Executor) handleToolCalls(ctx context.Context, resp *providers.Response, em *emitter) {
	if text := cleanPlainText(resp.Content); text != "" {
		assistant := models.NewRecord(models.RoleAssistant, text)
		assistant.ShouldSummarize = true
		e.store.Append(assistant)
	}

	for _, call := range resp.ToolCalls {
		out, err := e.tools.Execute(ctx, call.Name, call.Input)

		status := models.StatusSuccess
		var content string
		switch {
		case err != nil:
			status = models.StatusError
			content = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
		case out.IsError:
			status = models.StatusError
			content = out.Content
		default:
			content = out.Content
		}

		rec := models.NewRecord(models.RoleUser, toolResultFeedback(call.Name, content))
		rec.ShouldSummarize = true
		if out != nil {
			rec.Files = append([]string(nil), out.Files...)
		}
		e.store.Append(rec)

		result := e.newResult(models.ActionNone, models.ExecutionAction, status)
		result.Message = tools.Describe(call.Name, call.Input)
		result.Stdout = content
		if out != nil {
			result.Files = append([]string(nil), out.Files...)
		}
		e.record(result, em)

		e.log.Info("tool executed", "tool", call.Name, "status", status)
	}
}

func execFailed(r *sandbox.Result) bool {
	return r.ExitCode != 0 || r.TimedOut || r.Error != ""
}

func execErrorMessage(r *sandbox.Result) string {
	if r.Error != "" {
		return r.Error
	}
	return fmt.Sprintf("command exited with status %d", r.ExitCode)
}

// shellErrLine matches the line references POSIX shells print in
// diagnostics: bash's ": line 3:" and dash's "sh: 3:".
var shellErrLine = regexp.MustCompile(`(?m)(?::\s*line\s+(\d+):|sh:\s*(\d+):)`)

// extractErrorLine pulls the failing line number out of shell stderr, 0
// when none is named.
func extractErrorLine(stderr string) int {
	m := shellErrLine.FindStringSubmatch(stderr)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g != "" {
			n, err := strconv.Atoi(g)
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// execErrorInfo renders a failed run for the model: the error, the raw
// stderr, and the code annotated with the failing line when stderr names
// one.
func execErrorInfo(code string, r *sandbox.Result) string {
	annotated := sandbox.AnnotateCode(code, extractErrorLine(r.Stderr))

	var b strings.Builder
	b.WriteString("<error_message>\n")
	b.WriteString(execErrorMessage(r))
	b.WriteString("\n</error_message>\n<error_traceback>\n")
	b.WriteString(orPlaceholder(r.Stderr, sandbox.NoErrorOutput))
	b.WriteString("\n</error_traceback>\n<agent_generated_code>\n<legend>\nError Indicator | Line | Length | Content\n</legend>\n<code_block>\n")
	b.WriteString(strings.TrimRight(annotated, "\n"))
	b.WriteString("\n</code_block>\n</agent_generated_code>\n")
	return b.String()
}

func annotateOrEmpty(content string) string {
	if content == "" {
		return "[File is empty]"
	}
	return sandbox.AnnotateCode(content, 0)
}

// Feedback texts appended as user records so the model sees what the
// system did with its last action.

const (
	// interruptNotice is appended when the user interrupts a running turn.
	interruptNotice = "Let's stop this task for now, I will provide further instructions shortly."
	// interruptMessage labels the interrupted execution result.
	interruptMessage = "Task interrupted by user"
)

func actionErrorFeedback(err error) string {
	return fmt.Sprintf("There was an error encountered while trying to execute your action:\n\n%v\n\nPlease adjust your response to fix the issue.", err)
}

func initialExecErrorFeedback(info string) string {
	return fmt.Sprintf("The initial execution failed with an error.\n%s\nDebug the code you submitted and make all necessary corrections to fix the error and run successfully.", info)
}

func retryExecErrorFeedback(attempt int, info string) string {
	return fmt.Sprintf("The code execution failed with an error (attempt %d).\n%s\nDebug the code you submitted and make all necessary corrections to fix the error and run successfully. Pick up from where you left off and try to avoid re-running code that has already succeeded. Use the environment details to determine which variables are available and correct, which are not. After fixing the issue please continue with the tasks according to the plan.", attempt, info)
}

func readTooLargeMessage(path string) string {
	return fmt.Sprintf("File is too large to use read action on: %s\nPlease use code action to summarize and extract key features from the file instead.", path)
}

func readContentsMessage(path, annotated string) string {
	return fmt.Sprintf("Here are the contents of %s with line numbers and lengths:\n\nLine | Length | Content\n----------------------\nBEGIN\n%s\nEND",
		path, strings.TrimRight(annotated, "\n")+"\n")
}

func writeConfirmMessage(path string) string {
	return fmt.Sprintf("The content that you requested has been written to %s.", path)
}

func editConfirmMessage(path, annotated string) string {
	return fmt.Sprintf("Your edits have been applied to the file: %s\n\nHere are the contents of the edited file with line numbers and lengths, please review and determine if your edit worked as expected:\n\nLine | Length | Content\n----------------------\nBEGIN\n%s\nEND",
		path, strings.TrimRight(annotated, "\n")+"\n")
}

func toolResultFeedback(name, content string) string {
	if strings.TrimSpace(content) == "" {
		content = "[No output]"
	}
	return fmt.Sprintf("Here are the results of the %s tool call:\n\n%s\n\nPlease review the results and continue with the task.", name, content)
}
