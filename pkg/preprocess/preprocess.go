// Package preprocess transforms a raw skill body into the initial LLM
// system prompt, substituting variables and executing dynamic command
// injections under the skill's allowed-tools scope. Pure and
// deterministic apart from the command-injection step and the variable
// values supplied by the caller.
package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/skillcore/engine/pkg/skill"
	"github.com/skillcore/engine/pkg/tool"
)

// Variables bundles the built-in substitution values every skill body may
// reference.
type Variables struct {
	Arguments       string
	SessionID       string
	SkillDir        string
	Workspace       string
	User            string
	Date            string // YYYY-MM-DD
	Custom          map[string]string
}

// LoadedContext is the Preprocessor's output: the fully substituted and
// injected body, ready to seed the LLM's system prompt, plus the
// inventory of supporting files the LLM may request later via the read
// tool (progressive disclosure).
type LoadedContext struct {
	Body            string
	LineCount       int
	AvailableFiles  map[string]skill.FileReference
	UndefinedVars   []string
}

// CommandInjectionDenied is returned when a `` !`cmd` `` fragment's command
// is not permitted by the skill's allowed-tools bash scope, or contains a
// rejected shell metacharacter. Execution continues with a placeholder;
// this error is returned to the caller only via the audit log, never as a
// hard failure of Run.
type CommandInjectionDenied struct {
	Command string
	Reason  string
}

func (e *CommandInjectionDenied) Error() string {
	return fmt.Sprintf("command injection denied: %q: %s", e.Command, e.Reason)
}

// Options configures one Run call.
type Options struct {
	// AppendRequestSection controls whether a trailing "## Request" block
	// is appended when $ARGUMENTS never appears in the body. Defaults to
	// true; set false to disable.
	AppendTrailingRequest bool
	// AllowedTools gates `` !`cmd` `` injection: the command's first token
	// must satisfy a bash(prefix:*) pattern in this set.
	AllowedTools tool.PatternSet
	// Logger receives the audit record for every injection attempt. If
	// nil, slog.Default() is used.
	Logger *slog.Logger
	// TenantID is threaded into audit log records only; the preprocessor
	// performs no tenant-scoped behavior itself.
	TenantID string
	SkillName string
}

var (
	bracedVarRe = regexp.MustCompile(`\$\{([A-Z_]+)\}`)
	bareVarRe   = regexp.MustCompile(`\$([A-Z_]+)\b`)
	injectionRe = regexp.MustCompile("!`([^`]*)`")

	rejectedMetachars = []string{";", "&&", "||", "|", ">", "<", "`", "$(", "\n"}
)

const (
	injectionTimeout    = 10 * time.Second
	injectionMaxStdout  = 256 * 1024
)

// Run executes the full preprocessing pipeline over body: variable
// substitution, then dynamic command injection, then supporting-file
// extraction.
func Run(ctx context.Context, body string, vars Variables, opts Options) LoadedContext {
	substituted, undefined := substitute(body, vars)
	injected := injectCommands(ctx, substituted, opts)

	if opts.AppendTrailingRequest && !strings.Contains(body, "$ARGUMENTS") && !strings.Contains(body, "${ARGUMENTS}") {
		injected = injected + "\n\n## Request\n" + vars.Arguments
	}

	files := skill.ExtractSupportingFiles(injected)
	fileMap := make(map[string]skill.FileReference, len(files))
	for _, f := range files {
		fileMap[f.RelativePath] = f
	}

	return LoadedContext{
		Body:           injected,
		LineCount:      strings.Count(injected, "\n") + 1,
		AvailableFiles: fileMap,
		UndefinedVars:  undefined,
	}
}

// substitute performs single-pass, left-to-right variable substitution.
// The ${...} form is checked before the bare $NAME form at every position
// so "${ARGUMENTS}" is never partially matched by the bare pattern.
func substitute(body string, vars Variables) (string, []string) {
	values := builtinValues(vars)
	for k, v := range vars.Custom {
		values[k] = v
	}

	var undefined []string
	seen := make(map[string]bool)
	recordUndefined := func(name string) {
		if !seen[name] {
			seen[name] = true
			undefined = append(undefined, name)
		}
	}

	// Substitute ${NAME} first, leaving unresolved ones literal.
	out := bracedVarRe.ReplaceAllStringFunc(body, func(m string) string {
		name := bracedVarRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		recordUndefined(name)
		return m // leave literal
	})

	out = bareVarRe.ReplaceAllStringFunc(out, func(m string) string {
		name := bareVarRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		recordUndefined(name)
		return m
	})

	return out, undefined
}

func builtinValues(vars Variables) map[string]string {
	m := map[string]string{
		"ARGUMENTS":         vars.Arguments,
		"CLAUDE_SESSION_ID": vars.SessionID,
		"SESSION_ID":        vars.SessionID,
		"SKILL_DIR":         vars.SkillDir,
		"WORKSPACE":         vars.Workspace,
		"USER":              vars.User,
		"DATE":              vars.Date,
	}
	return m
}

// injectCommands replaces every `` !`cmd` `` fragment with the command's
// stdout, subject to the allowed-tools bash scope and shell-metacharacter
// rejection.
func injectCommands(ctx context.Context, body string, opts Options) string {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return injectionRe.ReplaceAllStringFunc(body, func(m string) string {
		cmd := injectionRe.FindStringSubmatch(m)[1]

		if reason := rejectedMetachar(cmd); reason != "" {
			logAudit(logger, opts, cmd, false, -1)
			return "[command rejected: not permitted by allowed-tools]"
		}

		firstTok := tool.FirstArgToken(cmd)
		if !opts.AllowedTools.Permits("bash", firstTok) {
			logAudit(logger, opts, cmd, false, -1)
			return "[command rejected: not permitted by allowed-tools]"
		}

		out, exitCode, err := runCommand(ctx, cmd)
		logAudit(logger, opts, cmd, true, exitCode)
		if err != nil {
			return fmt.Sprintf("[command failed: %s]", err)
		}
		return out
	})
}

func rejectedMetachar(cmd string) string {
	for _, m := range rejectedMetachars {
		if strings.Contains(cmd, m) {
			return fmt.Sprintf("contains rejected metacharacter %q", m)
		}
	}
	return ""
}

func runCommand(ctx context.Context, cmd string) (string, int, error) {
	runCtx, cancel := context.WithTimeout(ctx, injectionTimeout)
	defer cancel()

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", -1, fmt.Errorf("empty command")
	}

	c := exec.CommandContext(runCtx, fields[0], fields[1:]...)
	var stdout bytes.Buffer
	c.Stdout = &stdout
	err := c.Run()

	out := stdout.String()
	truncated := false
	if len(out) > injectionMaxStdout {
		out = out[:injectionMaxStdout]
		truncated = true
	}
	if truncated {
		out += "\n[output truncated at 256 KiB]"
	}

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil {
		exitCode = -1
	}

	if err != nil {
		return out, exitCode, err
	}
	return out, exitCode, nil
}

func logAudit(logger *slog.Logger, opts Options, command string, allowed bool, exitCode int) {
	logger.Info("dynamic command injection",
		"skill_name", opts.SkillName,
		"tenant_id", opts.TenantID,
		"command", command,
		"allowed", allowed,
		"exit_code", exitCode,
	)
}
