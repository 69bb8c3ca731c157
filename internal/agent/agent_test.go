package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelforge/remedy/internal/types"
)

func testReport() *types.BugReport {
	return &types.BugReport{
		ID:           "rpt-1",
		Title:        "upscale request returns 500",
		ErrorMessage: "TypeError: cannot read property 'width' of undefined",
		StackTrace:   "at resizeImage (image.js:42)",
		Route:        "/api/upscale",
		Environment:  `{"browser":"firefox"}`,
		Severity:     types.SeverityHigh,
		Status:       types.StatusInProgress,
	}
}

// scriptClient builds a client that runs an inline shell script as the agent
func scriptClient(t *testing.T, script string, timeout time.Duration) *SubprocessClient {
	t.Helper()
	client, err := NewSubprocessClient(SubprocessConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Timeout: timeout,
	})
	require.NoError(t, err)
	return client
}

func TestInvokeSuccess(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo '{"outcome":"success","fix_ref":"fix/rpt-1-null-width","test_summary":"12 passed"}'`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "fix/rpt-1-null-width", result.FixRef)
	assert.Equal(t, "12 passed", result.TestSummary)
	assert.Equal(t, 0, result.ExitCode)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestInvokeLastJSONObjectWins(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo 'Analyzing stack trace...'
echo '{"progress":"editing image.js"}'
echo 'Running tests...'
echo '{"outcome":"verification_failed","reason":"2 tests still failing"}'`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationFailed, result.Outcome)
	assert.Equal(t, "2 tests still failing", result.Reason)
	assert.Contains(t, result.SessionLog, "Analyzing stack trace...")
}

func TestInvokeGarbageOutputIsHardFailure(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo 'everything went fine, probably'`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHardFailure, result.Outcome)
	assert.Contains(t, result.Reason, "no parseable result")
}

func TestInvokeSuccessWithoutFixRefIsHardFailure(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo '{"outcome":"success"}'`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHardFailure, result.Outcome)
}

func TestInvokeCrashIsHardFailure(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo 'boom' >&2
exit 3`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHardFailure, result.Outcome)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, result.SessionLog, "boom")
}

func TestInvokeNonzeroExitKeepsFailureResult(t *testing.T) {
	// Agents may exit nonzero after honestly reporting a failed fix; the
	// reported outcome stands as long as it is not a success claim
	client := scriptClient(t, `cat >/dev/null
echo '{"outcome":"verification_failed","reason":"regression in resize suite"}'
exit 1`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationFailed, result.Outcome)
	assert.Equal(t, 1, result.ExitCode)
}

func TestInvokeNonzeroExitCannotClaimSuccess(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
echo '{"outcome":"success","fix_ref":"fix/bogus"}'
exit 2`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHardFailure, result.Outcome)
}

func TestInvokeTimeoutIsHardFailure(t *testing.T) {
	client := scriptClient(t, `cat >/dev/null
sleep 30`, 200*time.Millisecond)

	start := time.Now()
	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHardFailure, result.Outcome)
	assert.Contains(t, result.Reason, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second, "timed-out agent must be killed, not awaited")
}

func TestInvokeReceivesSnapshotOnStdin(t *testing.T) {
	client := scriptClient(t, `in=$(cat)
case "$in" in
*'"report_id":"rpt-1"'*) echo '{"outcome":"success","fix_ref":"fix/from-stdin"}' ;;
*) echo '{"outcome":"hard_failure","reason":"snapshot missing"}' ;;
esac`, 10*time.Second)

	result, err := client.Invoke(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, result.Outcome, "agent did not receive the report snapshot")
}

func TestNewSubprocessClientRequiresCommand(t *testing.T) {
	_, err := NewSubprocessClient(SubprocessConfig{})
	assert.Error(t, err)
}

func TestInterpret(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		outcome Outcome
	}{
		{"empty output", nil, OutcomeHardFailure},
		{"valid success", []string{`{"outcome":"success","fix_ref":"fix/x"}`}, OutcomeSuccess},
		{"unknown outcome value", []string{`{"outcome":"partial"}`}, OutcomeHardFailure},
		{"malformed then valid earlier", []string{`{"outcome":"verification_failed"}`, `{broken`}, OutcomeVerificationFailed},
		{"whitespace around object", []string{`   {"outcome":"hard_failure","reason":"oom"}   `}, OutcomeHardFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := interpret(tt.lines)
			assert.Equal(t, tt.outcome, result.Outcome)
		})
	}
}
