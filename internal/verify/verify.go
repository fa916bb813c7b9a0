// Package verify implements the chain-of-verification pipeline (spec.md
// §4.5): a four-step sequence — draft, plan verification questions, answer
// each independently (one call per question), then revise — aimed at catching unsupported factual
// claims before they reach the caller. The shape mirrors
// internal/agent.RunResearch's sequential-Chat-calls-at-varying-temperature
// style, generalized to a fixed four-step pipeline instead of a dynamic
// question list.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/logging"
)

// Chatter is the slice of llm.Client the chain depends on.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, llm.Usage, error)
}

// QA pairs a planned verification question with its independently produced
// answer.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Trace is the full verification trace returned to callers (spec.md's
// "Verification trace" data model entry).
type Trace struct {
	Initial   string   `json:"initial_response"`
	Questions []string `json:"verification_questions"`
	QA        []QA     `json:"verification_qa"`
	Final     string   `json:"final_response"`
	Revised   bool     `json:"revised"`
}

const (
	maxQuestions    = 3
	draftTemp       = 0.7
	planTemp        = 0.3
	answerTemp      = 0.3
	reviseTemp      = 0.5
	draftMaxTokens  = 768
	planMaxTokens   = 256
	answerMaxTokens = 512
	reviseMaxTokens = 1024
)

// Chain runs the four-step pipeline against one configured model.
type Chain struct {
	llm   Chatter
	model string
}

// NewChain builds a Chain bound to client, using model for every call.
func NewChain(client Chatter, model string) *Chain {
	return &Chain{llm: client, model: model}
}

// Run executes the chain for question. Any step failure returns a
// best-effort partial trace: Final falls back to Initial (or empty, if the
// draft itself failed) and Revised is false — per spec.md §4.5's failure
// handling note.
func (c *Chain) Run(ctx context.Context, question string) Trace {
	var trace Trace

	draftCtx, endDraft := logging.StartSpan(ctx, "verify.draft", nil)
	initial, err := c.draft(draftCtx, question)
	endDraft(err)
	if err != nil {
		log.Warn().Err(err).Msg("verify: draft step failed")
		return trace
	}
	trace.Initial = initial
	trace.Final = initial

	planCtx, endPlan := logging.StartSpan(ctx, "verify.plan_questions", nil)
	questions, err := c.planQuestions(planCtx, question, initial)
	endPlan(err)
	if err != nil {
		log.Warn().Err(err).Msg("verify: plan-questions step failed")
		return trace
	}
	trace.Questions = questions
	if len(questions) == 0 {
		return trace
	}

	answerCtx, endAnswer := logging.StartSpan(ctx, "verify.answer_questions", nil)
	qa := c.answerQuestions(answerCtx, questions)
	endAnswer(nil)
	trace.QA = qa

	reviseCtx, endRevise := logging.StartSpan(ctx, "verify.revise", nil)
	final, err := c.revise(reviseCtx, question, initial, qa)
	endRevise(err)
	if err != nil {
		log.Warn().Err(err).Msg("verify: revise step failed")
		return trace
	}

	trace.Final = final
	trace.Revised = normalize(final) != normalize(initial)
	return trace
}

func (c *Chain) draft(ctx context.Context, question string) (string, error) {
	text, _, err := c.llm.Chat(ctx, []llm.Message{
		{Role: "user", Content: question},
	}, llm.ChatOptions{Model: c.model, Temperature: draftTemp, MaxTokens: draftMaxTokens})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

var numberedLine = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s*(.+)$`)

func (c *Chain) planQuestions(ctx context.Context, question, initial string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Original question: %s\n\nDraft answer:\n%s\n\n"+
			"List 2-3 specific verification questions that check the factual claims made "+
			"in the draft answer above. One question per line, no preamble.",
		question, initial)
	text, _, err := c.llm.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{Model: c.model, Temperature: planTemp, MaxTokens: planMaxTokens})
	if err != nil {
		return nil, err
	}
	return parseQuestions(text), nil
}

// parseQuestions splits the model's free-text response into individual
// questions: strips numbering/bullet markers, trims, drops blanks,
// deduplicates (case-insensitive), and caps at maxQuestions.
func parseQuestions(text string) []string {
	lines := strings.Split(text, "\n")
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := numberedLine.FindStringSubmatch(line); m != nil {
			line = strings.TrimSpace(m[1])
		}
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, line)
		if len(out) >= maxQuestions {
			break
		}
	}
	return out
}

// answerQuestions answers each planned question independently, in fresh
// context (no initial draft included, per spec.md §4.5 step 3). A
// per-question failure yields an empty answer rather than aborting the
// whole batch.
func (c *Chain) answerQuestions(ctx context.Context, questions []string) []QA {
	qa := make([]QA, 0, len(questions))
	for _, q := range questions {
		text, _, err := c.llm.Chat(ctx, []llm.Message{
			{Role: "user", Content: q},
		}, llm.ChatOptions{Model: c.model, Temperature: answerTemp, MaxTokens: answerMaxTokens})
		if err != nil {
			log.Warn().Err(err).Str("question", q).Msg("verify: answer step failed")
			qa = append(qa, QA{Question: q, Answer: ""})
			continue
		}
		qa = append(qa, QA{Question: q, Answer: strings.TrimSpace(text)})
	}
	return qa
}

// revise includes the original question alongside initial and qa, per
// spec.md §9's resolution of the "must the revision call see the original
// question" ambiguity (yes).
func (c *Chain) revise(ctx context.Context, question, initial string, qa []QA) (string, error) {
	var b strings.Builder
	b.WriteString("Original question: ")
	b.WriteString(question)
	b.WriteString("\n\nOriginal draft answer:\n")
	b.WriteString(initial)
	b.WriteString("\n\nVerification questions and independently-researched answers:\n")
	for i, pair := range qa {
		if pair.Answer == "" {
			continue
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". Q: ")
		b.WriteString(pair.Question)
		b.WriteString("\n   A: ")
		b.WriteString(pair.Answer)
		b.WriteString("\n")
	}
	b.WriteString("\nUsing the verification answers, correct any factual errors in the draft. " +
		"Respond with the corrected final answer only, no preamble or meta-commentary.")

	text, _, err := c.llm.Chat(ctx, []llm.Message{
		{Role: "user", Content: b.String()},
	}, llm.ChatOptions{Model: c.model, Temperature: reviseTemp, MaxTokens: reviseMaxTokens})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// normalize collapses whitespace runs so revise's equality check isn't
// tripped up by incidental formatting differences between drafts.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
