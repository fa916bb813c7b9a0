package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/tools"
)

// ResearchResult is the response shape for the research agent (spec.md
// §4.4.4): one synthesized answer per question, plus a final synthesis
// section when multi_query is set.
type ResearchResult struct {
	Answers   []QuestionAnswer `json:"answers"`
	Synthesis string           `json:"synthesis,omitempty"`
}

// QuestionAnswer pairs a question with its ReAct-produced answer and steps.
type QuestionAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Steps    []Step `json:"steps"`
}

// RunResearch answers each of questions independently via the research
// agent's loop, then — if multi is set and there is more than one question —
// asks the LLM to synthesize a combined answer across them.
func RunResearch(ctx context.Context, client Chatter, newLoop func() *Loop, questions []string, multi bool, model string) ResearchResult {
	var result ResearchResult
	for _, q := range questions {
		loop := newLoop()
		r := loop.Run(ctx, q)
		result.Answers = append(result.Answers, QuestionAnswer{Question: q, Answer: r.FinalAnswer, Steps: r.Steps})
	}
	if multi && len(result.Answers) > 1 {
		result.Synthesis = synthesize(ctx, client, model, result.Answers)
	}
	return result
}

func synthesize(ctx context.Context, client Chatter, model string, answers []QuestionAnswer) string {
	var b strings.Builder
	b.WriteString("Synthesize the following question/answer pairs into one coherent summary with [Source N] citations matching their order:\n")
	for i, qa := range answers {
		fmt.Fprintf(&b, "[Source %d] Q: %s\nA: %s\n", i+1, qa.Question, qa.Answer)
	}
	text, _, err := client.Chat(ctx, []llm.Message{
		{Role: "user", Content: b.String()},
	}, llm.ChatOptions{Model: model, Temperature: 0.4, MaxTokens: 768})
	if err != nil {
		return "synthesis unavailable: " + err.Error()
	}
	return text
}

// CodeResult is the response shape for the code agent (spec.md §4.4.4).
type CodeResult struct {
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
	TestOutput  string `json:"test_output"`
	Success     bool   `json:"success"`
	Attempts    int    `json:"attempts"`
}

// Sandbox is the slice of tools.Sandbox the code agent depends on.
type Sandbox interface {
	Execute(ctx context.Context, code string, vars map[string]any) (output string, status string, err error)
}

// RunCode implements the generate→test→regenerate loop (spec.md §4.4.4):
// ask the LLM for code, validate it, test it in the sandbox, and on failure
// regenerate with the error included, up to maxAttempts (default 3).
// Validation runs before every submission, per spec.md §4.4.2.
func RunCode(ctx context.Context, client Chatter, sandbox Sandbox, validator *tools.Validator, model, task string, maxAttempts int) CodeResult {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	prompt := fmt.Sprintf("Write a self-contained code snippet to accomplish: %s\nRespond with the code only, no explanation.", task)
	var lastCode, lastOutput string
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, _, err := client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.ChatOptions{Model: model, Temperature: 0.2, MaxTokens: 768})
		if err != nil {
			return CodeResult{Attempts: attempt, Success: false, TestOutput: "LLM error: " + err.Error()}
		}
		lastCode = strings.TrimSpace(code)

		if result := validator.Validate(lastCode); result.Blocked {
			lastOutput = result.Error
			lastErr = nil
			prompt = fmt.Sprintf("The previous attempt failed with: %s\nPrevious code:\n%s\nFix it and respond with the corrected code only, no explanation.", result.Error, lastCode)
			continue
		}

		output, status, err := sandbox.Execute(ctx, lastCode, nil)
		lastOutput = output
		lastErr = err
		if err == nil && status == "success" {
			explanation, _, _ := client.Chat(ctx, []llm.Message{
				{Role: "user", Content: "Briefly explain what this code does:\n" + lastCode},
			}, llm.ChatOptions{Model: model, Temperature: 0.3, MaxTokens: 256})
			return CodeResult{Code: lastCode, Explanation: explanation, TestOutput: output, Success: true, Attempts: attempt}
		}

		failureDetail := output
		if err != nil {
			failureDetail = err.Error()
		}
		prompt = fmt.Sprintf("The previous attempt failed with: %s\nPrevious code:\n%s\nFix it and respond with the corrected code only, no explanation.", failureDetail, lastCode)
	}

	finalOutput := lastOutput
	if lastErr != nil {
		finalOutput = lastErr.Error()
	}
	return CodeResult{Code: lastCode, TestOutput: finalOutput, Success: false, Attempts: maxAttempts}
}
