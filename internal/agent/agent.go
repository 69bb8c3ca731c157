// Package agent invokes the external code-fixing agent. The agent is an
// opaque CLI tool: it receives a report snapshot, attempts a fix in the
// target repository, runs verification, and prints a result object as its
// last line of JSON on stdout.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/pixelforge/remedy/internal/types"
)

// Outcome classifies what the agent reported back
type Outcome string

const (
	// OutcomeSuccess means a fix was produced and its verification passed
	OutcomeSuccess Outcome = "success"
	// OutcomeVerificationFailed means a fix was produced but verification
	// did not pass
	OutcomeVerificationFailed Outcome = "verification_failed"
	// OutcomeHardFailure means no usable fix: crash, timeout, or output
	// the engine could not interpret
	OutcomeHardFailure Outcome = "hard_failure"
)

// IsValid checks if the outcome is one of the known values
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeVerificationFailed, OutcomeHardFailure:
		return true
	}
	return false
}

// Result is the interpreted outcome of one agent invocation
type Result struct {
	Outcome     Outcome       `json:"outcome"`
	FixRef      string        `json:"fix_ref,omitempty"`      // Branch, commit, or patch identifier
	TestSummary string        `json:"test_summary,omitempty"` // Verification evidence
	Reason      string        `json:"reason,omitempty"`       // Failure explanation
	Duration    time.Duration `json:"-"`
	ExitCode    int           `json:"-"`
	SessionLog  string        `json:"-"` // Captured stdout/stderr for the audit trail
}

// Client is the boundary between the remediation worker and whatever
// actually fixes code. Invoke never returns a nil result on a nil error.
type Client interface {
	Invoke(ctx context.Context, report *types.BugReport) (*Result, error)
}

// snapshot is the JSON document handed to the agent on stdin
type snapshot struct {
	ReportID     string `json:"report_id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ErrorMessage string `json:"error_message"`
	StackTrace   string `json:"stack_trace,omitempty"`
	Route        string `json:"route,omitempty"`
	Environment  string `json:"environment,omitempty"`
	Severity     string `json:"severity"`
	AttemptCount int    `json:"attempt_count"`
}

const (
	// DefaultTimeout bounds a single agent invocation
	DefaultTimeout = 30 * time.Minute

	// maxOutputLines caps captured agent output to keep session logs and
	// memory bounded on runaway agents
	maxOutputLines = 2000
)

// SubprocessConfig configures the external agent command
type SubprocessConfig struct {
	Command    string        // Agent binary, e.g. "claude"
	Args       []string      // Fixed arguments prepended before the prompt
	WorkingDir string        // Repository checkout the agent operates in
	Timeout    time.Duration // Zero uses DefaultTimeout
}

// SubprocessClient runs the agent as a child process. The report snapshot
// goes to the agent's stdin as JSON; the last parseable JSON object on
// stdout is the result. Anything else - crash, timeout, garbage output -
// is interpreted as a hard failure rather than an error, so the worker
// always has an outcome to act on.
type SubprocessClient struct {
	config SubprocessConfig
}

// NewSubprocessClient creates a client for the given agent command
func NewSubprocessClient(cfg SubprocessConfig) (*SubprocessClient, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &SubprocessClient{config: cfg}, nil
}

// Invoke spawns the agent for one report and waits for it to finish.
// Returns an error only when the process could not be started; every
// in-flight failure mode maps to a hard_failure result instead.
func (c *SubprocessClient) Invoke(ctx context.Context, report *types.BugReport) (*Result, error) {
	snap := snapshot{
		ReportID:     report.ID,
		Title:        report.Title,
		Description:  report.Description,
		ErrorMessage: report.ErrorMessage,
		StackTrace:   report.StackTrace,
		Route:        report.Route,
		Environment:  report.Environment,
		Severity:     string(report.Severity),
		AttemptCount: report.AttemptCount,
	}
	input, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode report snapshot: %w", err)
	}

	cmd := exec.Command(c.config.Command, c.config.Args...)
	cmd.Dir = c.config.WorkingDir
	cmd.Stdin = strings.NewReader(string(input))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent: %w", err)
	}

	var mu sync.Mutex
	var outLines, errLines []string
	var wg sync.WaitGroup
	capture := func(r *bufio.Scanner, dst *[]string) {
		defer wg.Done()
		r.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for r.Scan() {
			mu.Lock()
			if len(*dst) < maxOutputLines {
				*dst = append(*dst, r.Text())
			} else if len(*dst) == maxOutputLines {
				*dst = append(*dst, "[... output truncated: limit reached ...]")
			}
			mu.Unlock()
		}
	}
	wg.Add(2)
	go capture(bufio.NewScanner(stdout), &outLines)
	go capture(bufio.NewScanner(stderr), &errLines)

	timeoutCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		wg.Wait()
		errCh <- cmd.Wait()
	}()

	var waitErr error
	timedOut := false
	select {
	case <-timeoutCtx.Done():
		timedOut = true
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		waitErr = <-errCh
	case waitErr = <-errCh:
	}

	mu.Lock()
	sessionLog := formatSessionLog(outLines, errLines)
	result := interpret(outLines)
	mu.Unlock()

	result.Duration = time.Since(startTime)
	result.SessionLog = sessionLog

	if timedOut {
		result.Outcome = OutcomeHardFailure
		result.Reason = fmt.Sprintf("agent timed out after %v", c.config.Timeout)
		return result, nil
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		}
		// A nonzero exit with a well-formed non-success result is still a
		// valid answer; anything else is a crash
		if result.Outcome == OutcomeSuccess || !result.Outcome.IsValid() {
			result.Outcome = OutcomeHardFailure
			result.Reason = fmt.Sprintf("agent exited with error: %v", waitErr)
		}
	}
	return result, nil
}

// interpret extracts the agent's result from its stdout. The contract is
// that the last JSON object the agent prints is its answer; scanning from
// the end tolerates progress chatter above it. Absent or malformed output
// is a hard failure, never a success.
func interpret(stdoutLines []string) *Result {
	for i := len(stdoutLines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(stdoutLines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var result Result
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			continue
		}
		if !result.Outcome.IsValid() {
			continue
		}
		if result.Outcome == OutcomeSuccess && result.FixRef == "" {
			// A success claim without a fix reference is not actionable
			return &Result{
				Outcome: OutcomeHardFailure,
				Reason:  "agent reported success without a fix reference",
			}
		}
		return &result
	}
	return &Result{
		Outcome: OutcomeHardFailure,
		Reason:  "agent produced no parseable result",
	}
}

func formatSessionLog(outLines, errLines []string) string {
	var b strings.Builder
	for _, line := range outLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(errLines) > 0 {
		b.WriteString("--- stderr ---\n")
		for _, line := range errLines {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}
