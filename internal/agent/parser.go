// Package agent implements the ReAct loop (C4): it builds prompts from a
// tool registry and running history, calls the LLM, parses the tolerant
// Thought/Action/Action-Input grammar, and dispatches to tools until a
// final answer or the iteration cap is reached.
package agent

import (
	"regexp"
	"strings"
)

// Step is one thought/action/observation triple, returned verbatim in the
// API response (spec.md's "Agent step").
type Step struct {
	StepNumber  int    `json:"step_number"`
	Thought     string `json:"thought"`
	Action      string `json:"action"`
	ActionInput string `json:"action_input"`
	Observation string `json:"observation,omitempty"`
	ToolOK      bool   `json:"tool_ok"`
	FinalAnswer bool   `json:"-"`
}

// finalAnswerAction is the sentinel action name that ends the loop.
const finalAnswerAction = "final answer"

var (
	thoughtPattern = regexp.MustCompile(`(?is)Thought:\s*(.*?)\s*(?:Action:|$)`)
	actionPattern  = regexp.MustCompile(`(?is)Action:\s*(.*?)\s*(?:Action Input:|$)`)
	inputPattern   = regexp.MustCompile(`(?is)Action Input:\s*(.*)`)
	codeFence      = regexp.MustCompile("(?s)```(?:\\w+)?\\s*(.*?)\\s*```")
)

// parsed is the raw parse of one LLM turn, before tool resolution.
type parsed struct {
	Thought     string
	Action      string
	ActionInput string
	ok          bool
}

// parseReaction tolerantly parses an LLM completion into Thought/Action/
// Action Input, per spec.md §4.4.3: extra whitespace is trimmed, Action
// Input may be wrapped in a code fence (stripped), and the action name is
// matched to tools case-insensitively by the caller.
func parseReaction(text string) parsed {
	var p parsed
	if m := thoughtPattern.FindStringSubmatch(text); m != nil {
		p.Thought = strings.TrimSpace(m[1])
	}
	if m := actionPattern.FindStringSubmatch(text); m != nil {
		p.Action = strings.TrimSpace(m[1])
	}
	if m := inputPattern.FindStringSubmatch(text); m != nil {
		p.ActionInput = strings.TrimSpace(m[1])
	}
	if p.ActionInput != "" {
		if fence := codeFence.FindStringSubmatch(p.ActionInput); fence != nil {
			p.ActionInput = strings.TrimSpace(fence[1])
		}
	}
	p.ok = p.Action != ""
	return p
}

// isFinalAnswer reports whether the parsed action is the Final Answer
// sentinel, matched case-insensitively.
func isFinalAnswer(action string) bool {
	return strings.EqualFold(strings.TrimSpace(action), "Final Answer") ||
		strings.EqualFold(strings.TrimSpace(action), finalAnswerAction)
}
