package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/logging"
	"github.com/archive-ai/orchestrator/internal/tools"
)

const (
	defaultMaxIterations = 10
	hardIterationCap     = 50
	iterationLLMTimeout  = 60 * time.Second
	iterationToolTimeout = 30 * time.Second
)

// Chatter is the slice of *llm.Client the ReAct loop depends on.
type Chatter interface {
	Chat(ctx context.Context, msgs []llm.Message, opts llm.ChatOptions) (string, llm.Usage, error)
}

// Result is the full outcome of a ReAct run, returned to API callers.
type Result struct {
	FinalAnswer string `json:"final_answer"`
	Steps       []Step `json:"steps"`
	Success     bool   `json:"success"`
}

// Loop drives the thought/action/observation cycle described in
// spec.md §4.4.3, grounded on the teacher's internal/agent.Engine shape
// (system prompt + registry + bounded iteration) but replacing native
// tool-calling with tolerant free-text parsing, since that is this
// deployment's LLM-agnostic contract.
type Loop struct {
	llm           Chatter
	registry      *tools.Registry
	systemPrompt  string
	maxIterations int
	model         string
}

// NewLoop builds a ReAct loop. maxIterations is clamped to
// [1, hardIterationCap]; 0 means the spec's default of 10.
func NewLoop(client Chatter, registry *tools.Registry, systemPrompt string, maxIterations int, model string) *Loop {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	if maxIterations > hardIterationCap {
		maxIterations = hardIterationCap
	}
	return &Loop{llm: client, registry: registry, systemPrompt: systemPrompt, maxIterations: maxIterations, model: model}
}

// Run executes the loop until a final answer, iteration cap, or ctx
// cancellation.
func (l *Loop) Run(ctx context.Context, userMessage string) Result {
	var history []Step
	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		spanCtx, endSpan := logging.StartSpan(ctx, "react.iteration", map[string]string{
			"iteration": fmt.Sprintf("%d", iteration),
		})
		step, raw, err := l.step(spanCtx, userMessage, history, iteration)
		endSpan(err)
		if err != nil {
			history = append(history, Step{
				StepNumber:  iteration,
				Observation: fmt.Sprintf("Error: LLM call failed: %v", err),
			})
			continue
		}

		if !raw.ok {
			step.Observation = "Error: could not parse an Action from the model's response; reply with Thought/Action/Action Input"
			step.ToolOK = false
			history = append(history, step)
			continue
		}

		if isFinalAnswer(raw.Action) {
			step.Action = "Final Answer"
			step.Observation = raw.ActionInput
			step.ToolOK = true
			step.FinalAnswer = true
			history = append(history, step)
			return Result{FinalAnswer: raw.ActionInput, Steps: history, Success: true}
		}

		toolCtx, cancel := context.WithTimeout(ctx, iterationToolTimeout)
		observation := l.registry.Invoke(toolCtx, raw.Action, raw.ActionInput)
		cancel()

		step.Observation = observation
		step.ToolOK = !strings.HasPrefix(observation, "Error:") && !strings.HasPrefix(observation, "Validation Error:")
		history = append(history, step)
	}

	return synthesizeFromHistory(history)
}

func (l *Loop) step(ctx context.Context, userMessage string, history []Step, iteration int) (Step, parsed, error) {
	prompt := l.buildPrompt(userMessage, history)
	llmCtx, cancel := context.WithTimeout(ctx, iterationLLMTimeout)
	defer cancel()

	text, _, err := l.llm.Chat(llmCtx, []llm.Message{
		{Role: "system", Content: l.systemPrompt},
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{Model: l.model, Temperature: 0.3, MaxTokens: 1024})
	if err != nil {
		return Step{}, parsed{}, err
	}

	p := parseReaction(text)
	if !p.ok {
		log.Debug().Str("raw", text).Msg("react_loop_unparsable_response")
		p.Thought = text
	}
	step := Step{
		StepNumber:  iteration,
		Thought:     p.Thought,
		Action:      p.Action,
		ActionInput: p.ActionInput,
	}
	return step, p, nil
}

// buildPrompt renders the tool-registry summary and prior history, per
// spec.md §4.4.3 step 1.
func (l *Loop) buildPrompt(userMessage string, history []Step) string {
	var b strings.Builder
	b.WriteString("Available tools:\n")
	b.WriteString(l.registry.Summary())
	b.WriteString("\nQuestion: ")
	b.WriteString(userMessage)
	b.WriteString("\n")
	for _, s := range history {
		fmt.Fprintf(&b, "Thought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n", s.Thought, s.Action, s.ActionInput, s.Observation)
	}
	return b.String()
}

// synthesizeFromHistory builds a best-effort final answer from the last
// observation when the iteration cap is hit before a Final Answer (spec.md
// §4.4.3 step 5).
func synthesizeFromHistory(history []Step) Result {
	answer := "No final answer reached within the iteration budget."
	if len(history) > 0 {
		answer = history[len(history)-1].Observation
	}
	return Result{FinalAnswer: answer, Steps: history, Success: false}
}
