// Package claude invokes the claude CLI in non-interactive mode and parses
// its JSON output.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/claudegram/claudegram/exec"
	"github.com/claudegram/claudegram/logger"
	"github.com/claudegram/claudegram/store"
)

// DefaultBinary is the executable name used unless overridden.
const DefaultBinary = "claude"

// maxTurns caps agentic tool-use loops within a single invocation.
const maxTurns = 50

// Options configures a Runner.
type Options struct {
	// Binary is the claude executable. Defaults to DefaultBinary.
	Binary string

	// WorkingDir is the directory the subprocess runs in. Empty inherits
	// the parent's.
	WorkingDir string

	// DefaultModel is used when the session has no model override.
	DefaultModel string

	// AllowedTools restricts tool use when non-empty.
	AllowedTools []string

	// Timeout bounds each invocation.
	Timeout time.Duration
}

// Runner executes claude with arguments derived from session state.
type Runner struct {
	executor exec.CommandExecutor
	opts     Options
	log      *slog.Logger
}

// NewRunner creates a Runner using the given executor.
func NewRunner(executor exec.CommandExecutor, opts Options) *Runner {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	return &Runner{
		executor: executor,
		opts:     opts,
		log:      logger.WithComponent("runner"),
	}
}

// BuildArgs constructs the CLI argument list for one exchange.
func (r *Runner) BuildArgs(prompt string, sess *store.Session) []string {
	args := []string{"-p", "--output-format", "json"}

	// First message creates the session, later ones resume it.
	if sess.MessageCount == 0 {
		args = append(args, "--session-id", sess.SessionID)
	} else {
		args = append(args, "--resume", sess.SessionID)
	}

	model := sess.Model
	if model == "" {
		model = r.opts.DefaultModel
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if len(r.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools")
		args = append(args, r.opts.AllowedTools...)
	}

	// Auto-deny tools outside the allow-list instead of prompting;
	// there is no human at the subprocess's terminal.
	args = append(args, "--permission-mode", "dontAsk")
	args = append(args, "--max-turns", fmt.Sprintf("%d", maxTurns))

	args = append(args, prompt)
	return args
}

// childEnv returns the subprocess environment with the CLAUDECODE marker
// removed, so a bot running under Claude Code doesn't spawn children that
// believe they are nested agents.
func childEnv() []string {
	parent := os.Environ()
	env := make([]string, 0, len(parent))
	for _, kv := range parent {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

// Run sends a prompt to claude and returns the parsed response. Every
// failure is folded into the Response's Err field; Run never panics or
// returns a Go error past this boundary.
func (r *Runner) Run(ctx context.Context, prompt string, sess *store.Session) *Response {
	args := r.BuildArgs(prompt, sess)
	r.log.Info("running claude",
		"sessionID", sess.SessionID,
		"resume", sess.MessageCount > 0,
		"promptLen", len(prompt))

	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	stdout, stderr, err := r.executor.Run(runCtx, r.opts.WorkingDir, childEnv(), r.opts.Binary, args...)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		r.log.Error("claude timed out", "timeout", r.opts.Timeout)
		return &Response{Err: fmt.Sprintf("Claude timed out after %ds", int(r.opts.Timeout.Seconds()))}
	}

	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = "unknown error"
		}
		r.log.Error("claude CLI error", "error", err, "stderr", msg)
		return &Response{Err: fmt.Sprintf("Claude CLI error: %s", msg)}
	}

	raw := strings.TrimSpace(string(stdout))
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		// The CLI may print plain text; treat it as the reply.
		r.log.Warn("claude output is not JSON, using raw text", "len", len(raw))
		return &Response{Result: textResult(raw)}
	}

	r.log.Info("claude finished",
		"sessionID", resp.SessionID,
		"numTurns", resp.NumTurns,
		"hasCost", resp.CostUSD != nil)
	return &resp
}
