package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/llm"
)

type scriptedChatter struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedChatter) Chat(_ context.Context, _ []llm.Message, _ llm.ChatOptions) (string, llm.Usage, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", llm.Usage{}, err
	}
	if i >= len(s.responses) {
		return "", llm.Usage{}, nil
	}
	return s.responses[i], llm.Usage{}, nil
}

func TestChain_RunFullPipelineRevises(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"The Eiffel Tower was built in 1887.",
		"1. When was the Eiffel Tower completed?\n2. Who designed it?",
		"The Eiffel Tower was completed in 1889.",
		"It was designed by Gustave Eiffel's company.",
		"The Eiffel Tower was built in 1889, designed by Gustave Eiffel's company.",
	}}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "When was the Eiffel Tower built?")

	require.Len(t, trace.Questions, 2)
	require.Len(t, trace.QA, 2)
	assert.Equal(t, "When was the Eiffel Tower completed?", trace.Questions[0])
	assert.True(t, trace.Revised)
	assert.Equal(t, "The Eiffel Tower was built in 1889, designed by Gustave Eiffel's company.", trace.Final)
	assert.Equal(t, 5, chatter.calls)
}

func TestChain_RunNoRevisionWhenUnchanged(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"Paris is the capital of France.",
		"1. Is Paris the capital of France?",
		"Yes, Paris is the capital of France.",
		"Paris is the capital of France.",
	}}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "What is the capital of France?")

	assert.False(t, trace.Revised)
	assert.Equal(t, trace.Initial, trace.Final)
}

func TestChain_RunDraftFailureReturnsEmptyTrace(t *testing.T) {
	chatter := &scriptedChatter{errs: []error{errors.New("upstream unavailable")}}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "anything")

	assert.Empty(t, trace.Initial)
	assert.Empty(t, trace.Final)
	assert.False(t, trace.Revised)
}

func TestChain_RunPlanFailureFallsBackToInitial(t *testing.T) {
	chatter := &scriptedChatter{
		responses: []string{"draft answer"},
		errs:      []error{nil, errors.New("planning failed")},
	}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "anything")

	assert.Equal(t, "draft answer", trace.Initial)
	assert.Equal(t, "draft answer", trace.Final)
	assert.False(t, trace.Revised)
	assert.Empty(t, trace.Questions)
}

func TestChain_RunNoQuestionsParsedStopsEarly(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"draft answer",
		"   \n  \n",
	}}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "anything")

	assert.Equal(t, "draft answer", trace.Final)
	assert.Empty(t, trace.Questions)
	assert.Empty(t, trace.QA)
	assert.Equal(t, 2, chatter.calls)
}

func TestChain_RunReviseFailureFallsBackToInitial(t *testing.T) {
	chatter := &scriptedChatter{
		responses: []string{
			"draft answer",
			"1. question one",
			"answer one",
		},
		errs: []error{nil, nil, nil, errors.New("revise failed")},
	}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "anything")

	assert.Equal(t, "draft answer", trace.Final)
	assert.False(t, trace.Revised)
	require.Len(t, trace.QA, 1)
	assert.Equal(t, "answer one", trace.QA[0].Answer)
}

func TestChain_AnswerQuestionsToleratesPerQuestionFailure(t *testing.T) {
	chatter := &scriptedChatter{
		responses: []string{
			"draft answer",
			"1. question one\n2. question two",
			"",
			"answer to question two",
		},
		errs: []error{nil, nil, errors.New("answer one failed"), nil},
	}
	chain := NewChain(chatter, "test-model")
	trace := chain.Run(context.Background(), "anything")

	require.Len(t, trace.QA, 2)
	assert.Empty(t, trace.QA[0].Answer)
	assert.NotEmpty(t, trace.QA[1].Answer)
}

func TestParseQuestions_DedupesAndCaps(t *testing.T) {
	text := "1. What year?\n2. what year?\n3. Who built it?\n4. Where is it located?\n5. How tall is it?"
	qs := parseQuestions(text)
	require.Len(t, qs, maxQuestions)
	assert.Equal(t, "What year?", qs[0])
	assert.Equal(t, "Who built it?", qs[1])
}

func TestParseQuestions_StripsBulletsAndBlankLines(t *testing.T) {
	text := "- First question?\n\n* Second question?\n"
	qs := parseQuestions(text)
	assert.Equal(t, []string{"First question?", "Second question?"}, qs)
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, normalize("a  b\n c"), normalize("a b c"))
}
