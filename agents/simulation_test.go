package agents

import (
	"context"
	"testing"
	"time"

	"github.com/hypatia-sci/hypatia/llm"
	"github.com/hypatia-sci/hypatia/sandbox"
	"github.com/hypatia-sci/hypatia/testutil/fixtures"
	"github.com/hypatia-sci/hypatia/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const workingScript = `rows = ["a,b"]
for i in range(3):
    rows.append(str(i) + "," + str(i * 2))
finish("\n".join(rows), "three rows of paired values")`

// Calls finish with a number, which the sandbox rejects.
const brokenScript = `finish(42, "ok")`

func fastSimConfig() SimulationConfig {
	return SimulationConfig{
		MaxIterations:  4,
		IterationDelay: time.Millisecond,
		UseSimplifier:  true,
	}
}

func newTestSession(t *testing.T) *sandbox.Session {
	t.Helper()
	s := sandbox.NewSession(sandbox.DefaultConfig(), zap.NewNop())
	t.Cleanup(s.Close)
	return s
}

func TestSimulationSeedScriptSucceeds(t *testing.T) {
	provider := mocks.NewScriptedProvider()
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	result, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), workingScript, state)
	require.NoError(t, err)

	assert.Equal(t, workingScript, result.Code)
	assert.Contains(t, result.Data, "a,b")
	assert.Contains(t, result.Data, "2,4")
	assert.Equal(t, "three rows of paired values", result.Summary)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, StatusSuccess, state.Status())
	assert.Zero(t, provider.Calls(), "a working seed script needs no generation")
}

func TestSimulationRepairsBrokenScript(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply("```python\n" + workingScript + "\n```")
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	result, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), brokenScript, state)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Iterations, "one failure, one repaired success")
	assert.Equal(t, workingScript, result.Code)
	assert.Equal(t, 1, provider.Calls(), "exactly one debugger call")
	assert.Contains(t, provider.Request(0).Prompt, brokenScript, "the repair prompt embeds the failing code")
	assert.Contains(t, provider.Request(0).Prompt, "must be a string", "the repair prompt embeds the error text")
}

func TestSimulationGeneratesInitialCode(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply("condensed data requirements").
		Reply("```\n" + workingScript + "\n```")
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	result, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), "", state)
	require.NoError(t, err)

	assert.Equal(t, workingScript, result.Code)
	require.Equal(t, 2, provider.Calls(), "simplifier then coder")
	assert.Contains(t, provider.Request(0).Prompt, "output of step 4", "the simplifier sees the methodology")
	assert.Contains(t, provider.Request(1).Prompt, "condensed data requirements", "the coder works from the condensed intent")
}

func TestSimulationExhaustsIterations(t *testing.T) {
	// The debugger keeps returning the same broken script.
	provider := mocks.NewScriptedProvider().Reply(brokenScript)
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	_, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), brokenScript, state)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "no working script after 4 attempts")
	assert.Equal(t, StatusFailed, state.Status())
	assert.Equal(t, 4, state.Snapshot().Iterations)
	assert.Equal(t, 3, provider.Calls(), "no repair call after the final attempt")
}

func TestSimulationDebuggerFailureAborts(t *testing.T) {
	provider := mocks.NewScriptedProvider().Err(&llm.Error{
		Code:     llm.ErrUnauthorized,
		Message:  "invalid api key",
		Provider: "scripted",
	})
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	_, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), brokenScript, state)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "debugger call failed")
	assert.Equal(t, StatusFailed, state.Status())
	assert.Equal(t, 1, provider.Calls(), "credential failures are not retried")
}

func TestSimulationCompletedWithoutFinish(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		Reply("```\n" + workingScript + "\n```")
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	state := NewRunState(1, 4)
	result, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), `x = 1 + 1`, state)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Iterations)
	assert.Contains(t, provider.Request(0).Prompt, "without ever calling finish")
}

func TestSimulationStreamsExecutorLogs(t *testing.T) {
	provider := mocks.NewScriptedProvider()
	agent := NewSimulationAgent(newTestGateway(provider), newTestSession(t), fastSimConfig(), nil)

	script := `log("starting")
log("halfway")
finish("a,b\n1,2", "done")`

	state := NewRunState(1, 4)
	_, err := agent.Run(context.Background(), fixtures.ReadyForAcquisition(), script, state)
	require.NoError(t, err)

	var lines []string
	for _, e := range state.Snapshot().Logs {
		if e.Agent == "Executor" {
			lines = append(lines, e.Message)
		}
	}
	assert.Contains(t, lines, "starting")
	assert.Contains(t, lines, "halfway")
}
