package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/tools"
)

func TestRunResearch_SingleQuestionNoSynthesis(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"Thought: answer\nAction: Final Answer\nAction Input: Paris is the capital of France",
	}}
	registry := tools.NewRegistry()
	newLoop := func() *Loop { return NewLoop(chatter, registry, researchPrompt, 5, "m") }

	result := RunResearch(context.Background(), chatter, newLoop, []string{"capital of France?"}, true, "m")
	require.Len(t, result.Answers, 1)
	assert.Empty(t, result.Synthesis)
}

func TestRunResearch_MultiQuerySynthesizes(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"Thought: a1\nAction: Final Answer\nAction Input: answer one",
		"Thought: a2\nAction: Final Answer\nAction Input: answer two",
		"final synthesis text",
	}}
	registry := tools.NewRegistry()
	newLoop := func() *Loop { return NewLoop(chatter, registry, researchPrompt, 5, "m") }

	result := RunResearch(context.Background(), chatter, newLoop, []string{"q1", "q2"}, true, "m")
	require.Len(t, result.Answers, 2)
	assert.Equal(t, "final synthesis text", result.Synthesis)
}

type fakeSandbox struct {
	outputs  []string
	statuses []string
	call     int
	lastVars map[string]any
}

func (f *fakeSandbox) Execute(_ context.Context, _ string, vars map[string]any) (string, string, error) {
	f.lastVars = vars
	i := f.call
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	f.call++
	return f.outputs[i], f.statuses[i], nil
}

func TestRunCode_SucceedsFirstTry(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"print(1+1)", "prints the sum of 1 and 1"}}
	sandbox := &fakeSandbox{outputs: []string{"2"}, statuses: []string{"success"}}

	result := RunCode(context.Background(), chatter, sandbox, tools.NewValidator(), "m", "add two numbers", 3)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "2", result.TestOutput)
}

func TestRunCode_RegeneratesOnFailureThenSucceeds(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"broken code",
		"fixed code",
		"explanation",
	}}
	sandbox := &fakeSandbox{outputs: []string{"NameError", "4"}, statuses: []string{"error", "success"}}

	result := RunCode(context.Background(), chatter, sandbox, tools.NewValidator(), "m", "compute", 3)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
}

func TestRunCode_ExhaustsAttempts(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"a", "b", "c"}}
	sandbox := &fakeSandbox{outputs: []string{"err", "err", "err"}, statuses: []string{"error", "error", "error"}}

	result := RunCode(context.Background(), chatter, sandbox, tools.NewValidator(), "m", "compute", 3)
	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestRunCode_BlockedByValidatorRegeneratesWithoutExecuting(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"import os\nos.system('rm -rf /')",
		"print(1)",
		"explanation",
	}}
	sandbox := &fakeSandbox{outputs: []string{"1"}, statuses: []string{"success"}}

	result := RunCode(context.Background(), chatter, sandbox, tools.NewValidator(), "m", "compute", 3)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, sandbox.call)
}
