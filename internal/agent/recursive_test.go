package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/tools"
)

// fakeRegistrar is a CallbackRegistrar that records the one function it was
// asked to publish and hands back a fixed token, so tests can assert both
// that registration happened and that release runs.
type fakeRegistrar struct {
	registered AskLLMFunc
	token      string
	released   bool
}

func (f *fakeRegistrar) Register(fn AskLLMFunc) (string, func()) {
	f.registered = fn
	if f.token == "" {
		f.token = "tok-1"
	}
	return f.token, func() { f.released = true }
}

func TestRecursiveLMTool_InvokeBlocksInvalidCode(t *testing.T) {
	validator := tools.NewValidator()
	sandbox := &fakeSandbox{outputs: []string{"unused"}, statuses: []string{"success"}}
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", validator, sandbox, "corpus text", 5, nil, "")

	out := tool.Invoke(context.Background(), "print('unterminated")
	assert.Contains(t, out, "Error")
	assert.Equal(t, 0, sandbox.call)
}

func TestRecursiveLMTool_InvokeRejectsEmptyCode(t *testing.T) {
	validator := tools.NewValidator()
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", validator, &fakeSandbox{}, "corpus", 5, nil, "")
	out := tool.Invoke(context.Background(), "   ")
	assert.Equal(t, "Error: empty code", out)
}

func TestRecursiveLMTool_InvokeExecutesValidCode(t *testing.T) {
	validator := tools.NewValidator()
	sandbox := &fakeSandbox{outputs: []string{"42"}, statuses: []string{"success"}}
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", validator, sandbox, "corpus", 5, nil, "")

	out := tool.Invoke(context.Background(), "result = 1 + 1")
	assert.Equal(t, "42", out)
	assert.Equal(t, 1, sandbox.call)
}

func TestRecursiveLMTool_InvokeReportsNonSuccessStatus(t *testing.T) {
	validator := tools.NewValidator()
	sandbox := &fakeSandbox{outputs: []string{"boom"}, statuses: []string{"error"}}
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", validator, sandbox, "corpus", 5, nil, "")

	out := tool.Invoke(context.Background(), "raise Exception('boom')")
	assert.Contains(t, out, "status=error")
	assert.Contains(t, out, "boom")
}

func TestRecursiveLMTool_InvokeNoSandboxConfigured(t *testing.T) {
	validator := tools.NewValidator()
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", validator, nil, "corpus", 5, nil, "")
	out := tool.Invoke(context.Background(), "x = 1")
	assert.Contains(t, out, "unavailable")
}

func TestRecursiveLMTool_InvokeInjectsCorpusAndCallbackURL(t *testing.T) {
	sandbox := &fakeSandbox{outputs: []string{"ok"}, statuses: []string{"success"}}
	registrar := &fakeRegistrar{token: "abc123"}
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", tools.NewValidator(), sandbox, "the corpus", 5,
		registrar, "http://host/internal/ask_llm/")

	tool.Invoke(context.Background(), "print(CORPUS)")

	require.NotNil(t, sandbox.lastVars)
	assert.Equal(t, "the corpus", sandbox.lastVars["CORPUS"])
	assert.Equal(t, "http://host/internal/ask_llm/abc123", sandbox.lastVars["ask_llm_callback_url"])
	assert.NotNil(t, registrar.registered)
	assert.True(t, registrar.released)
}

func TestRecursiveLMTool_AskLLMEnforcesRecursionCap(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"r1", "r2", "r3"}}
	tool := NewRecursiveLMTool(chatter, "m", tools.NewValidator(), &fakeSandbox{}, "corpus", 3, nil, "")

	for i := 0; i < 3; i++ {
		resp, err := tool.AskLLM(context.Background(), "sub-question")
		require.NoError(t, err)
		assert.NotEmpty(t, resp)
	}

	_, err := tool.AskLLM(context.Background(), "one too many")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "recursion cap"))
}

func TestNewRecursiveLMTool_DefaultsAskCap(t *testing.T) {
	tool := NewRecursiveLMTool(&scriptedChatter{}, "m", tools.NewValidator(), &fakeSandbox{}, "corpus", 0, nil, "")
	assert.EqualValues(t, defaultAskLLMCap, tool.askCap)
}
