package claude

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/claudegram/claudegram/exec"
	"github.com/claudegram/claudegram/logger"
	"github.com/claudegram/claudegram/store"
)

func newTestRunner(t *testing.T, opts Options) (*Runner, *exec.MockExecutor) {
	t.Helper()
	logger.Reset()
	t.Cleanup(logger.Reset)

	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	mock := exec.NewMockExecutor()
	return NewRunner(mock, opts), mock
}

func TestBuildArgs_NewSession(t *testing.T) {
	r, _ := newTestRunner(t, Options{})
	sess := &store.Session{SessionID: "sid-1", MessageCount: 0}

	args := r.BuildArgs("hello", sess)
	want := []string{
		"-p", "--output-format", "json",
		"--session-id", "sid-1",
		"--permission-mode", "dontAsk",
		"--max-turns", "50",
		"hello",
	}
	assertArgs(t, args, want)
}

func TestBuildArgs_ResumeSession(t *testing.T) {
	r, _ := newTestRunner(t, Options{})
	sess := &store.Session{SessionID: "sid-1", MessageCount: 3}

	args := r.BuildArgs("hello", sess)
	if args[3] != "--resume" || args[4] != "sid-1" {
		t.Errorf("expected --resume sid-1, got %v", args[3:5])
	}
}

func TestBuildArgs_ModelSelection(t *testing.T) {
	r, _ := newTestRunner(t, Options{DefaultModel: "claude-sonnet-4-5"})

	// Session override wins
	args := r.BuildArgs("x", &store.Session{SessionID: "s", Model: "claude-opus-4-1"})
	assertContainsPair(t, args, "--model", "claude-opus-4-1")

	// Fall back to the default
	args = r.BuildArgs("x", &store.Session{SessionID: "s"})
	assertContainsPair(t, args, "--model", "claude-sonnet-4-5")
}

func TestBuildArgs_NoModel(t *testing.T) {
	r, _ := newTestRunner(t, Options{})
	args := r.BuildArgs("x", &store.Session{SessionID: "s"})

	for _, a := range args {
		if a == "--model" {
			t.Error("--model should be omitted when no model is configured")
		}
	}
}

func TestBuildArgs_AllowedTools(t *testing.T) {
	r, _ := newTestRunner(t, Options{AllowedTools: []string{"Read", "Bash"}})
	args := r.BuildArgs("x", &store.Session{SessionID: "s"})

	idx := indexOf(args, "--allowedTools")
	if idx == -1 {
		t.Fatal("--allowedTools missing")
	}
	if args[idx+1] != "Read" || args[idx+2] != "Bash" {
		t.Errorf("tools = %v", args[idx+1:idx+3])
	}
	// Permission mode follows the tool list
	if args[idx+3] != "--permission-mode" || args[idx+4] != "dontAsk" {
		t.Errorf("expected --permission-mode dontAsk after tools, got %v", args[idx+3:idx+5])
	}
}

func TestBuildArgs_PromptIsLast(t *testing.T) {
	r, _ := newTestRunner(t, Options{AllowedTools: []string{"Read"}, DefaultModel: "m"})
	args := r.BuildArgs("do the thing", &store.Session{SessionID: "s"})

	if args[len(args)-1] != "do the thing" {
		t.Errorf("prompt should be the final argument, got %q", args[len(args)-1])
	}
}

func TestRun_Success(t *testing.T) {
	r, mock := newTestRunner(t, Options{WorkingDir: "/work"})
	mock.AddNameMatch("claude", exec.MockResponse{
		Stdout: []byte(`{"result": "hi there", "cost_usd": 0.05, "session_id": "s", "num_turns": 1}`),
	})

	resp := r.Run(context.Background(), "hello", &store.Session{SessionID: "s"})
	if resp.Err != "" {
		t.Fatalf("unexpected error: %s", resp.Err)
	}
	if got := ExtractText(resp); got != "hi there" {
		t.Errorf("text = %q", got)
	}
	if resp.CostUSD == nil || *resp.CostUSD != 0.05 {
		t.Errorf("cost = %v", resp.CostUSD)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].Name != "claude" {
		t.Errorf("binary = %q", calls[0].Name)
	}
	if calls[0].Dir != "/work" {
		t.Errorf("dir = %q", calls[0].Dir)
	}
}

func TestRun_StripsClaudeCodeMarker(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")

	r, mock := newTestRunner(t, Options{})
	mock.AddNameMatch("claude", exec.MockResponse{Stdout: []byte(`{"result": "ok"}`)})

	r.Run(context.Background(), "x", &store.Session{SessionID: "s"})

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	for _, kv := range calls[0].Env {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			t.Error("CLAUDECODE should be stripped from the child environment")
		}
	}
}

func TestRun_Timeout(t *testing.T) {
	r, mock := newTestRunner(t, Options{Timeout: 50 * time.Millisecond})
	mock.AddNameMatch("claude", exec.MockResponse{Block: true})

	resp := r.Run(context.Background(), "slow", &store.Session{SessionID: "s"})
	if resp.Err != "Claude timed out after 0s" {
		t.Errorf("Err = %q", resp.Err)
	}
	if got := ExtractText(resp); !strings.HasPrefix(got, "Error: Claude timed out") {
		t.Errorf("text = %q", got)
	}
}

func TestRun_CLIError(t *testing.T) {
	r, mock := newTestRunner(t, Options{})
	mock.AddNameMatch("claude", exec.MockResponse{
		Stderr: []byte("invalid session\n"),
		Err:    errors.New("exit status 1"),
	})

	resp := r.Run(context.Background(), "x", &store.Session{SessionID: "s"})
	if resp.Err != "Claude CLI error: invalid session" {
		t.Errorf("Err = %q", resp.Err)
	}
}

func TestRun_CLIErrorEmptyStderr(t *testing.T) {
	r, mock := newTestRunner(t, Options{})
	mock.AddNameMatch("claude", exec.MockResponse{Err: errors.New("exit status 2")})

	resp := r.Run(context.Background(), "x", &store.Session{SessionID: "s"})
	if resp.Err != "Claude CLI error: unknown error" {
		t.Errorf("Err = %q", resp.Err)
	}
}

func TestRun_NonJSONOutputDegrades(t *testing.T) {
	r, mock := newTestRunner(t, Options{})
	mock.AddNameMatch("claude", exec.MockResponse{
		Stdout: []byte("plain text answer\n"),
	})

	resp := r.Run(context.Background(), "x", &store.Session{SessionID: "s"})
	if resp.Err != "" {
		t.Fatalf("unexpected error: %s", resp.Err)
	}
	if got := ExtractText(resp); got != "plain text answer" {
		t.Errorf("text = %q", got)
	}
	if FormatCost(resp) != "" {
		t.Error("degraded response should carry no cost")
	}
}

func assertArgs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func assertContainsPair(t *testing.T, args []string, flag, value string) {
	t.Helper()
	idx := indexOf(args, flag)
	if idx == -1 || idx+1 >= len(args) {
		t.Fatalf("%s missing from %v", flag, args)
	}
	if args[idx+1] != value {
		t.Errorf("%s = %q, want %q", flag, args[idx+1], value)
	}
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}
