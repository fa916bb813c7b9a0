package orchestrator

import (
	"regexp"
	"strings"
)

// intentName is one of the three intents spec.md §4.6 names for /chat's
// lightweight pattern matcher.
type intentName string

const (
	intentHelp         intentName = "help"
	intentSearchMemory intentName = "search_memory"
	intentChat         intentName = "chat"
)

// intent is the result of routing a user message: a name, a confidence
// score, and intent-specific params (only search_memory populates Query).
type intent struct {
	Name       intentName
	Confidence float64
	Query      string
}

var helpPattern = regexp.MustCompile(`(?i)^\s*(help|\?|what can you do)\s*[.!?]?\s*$`)

// searchMemoryPatterns pairs a trigger regex with the portion of the match
// to strip, so the residue left over is the actual query.
var searchMemoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*what did i say about\s+(.+)$`),
	regexp.MustCompile(`(?i)^\s*remember\s+(.+)$`),
	regexp.MustCompile(`(?i)^\s*recall\s+(.+)$`),
	regexp.MustCompile(`(?i)^\s*find my\s+(.+)$`),
}

// fillerPrefixes are stripped from the residue of a search_memory match, since
// triggers like "what did I say about" often leave a leading article or
// preposition behind.
var fillerPrefixes = []string{"about ", "that ", "the "}

// routeIntent classifies message into help, search_memory, or chat
// (default), per spec.md §4.6.
func routeIntent(message string) intent {
	trimmed := strings.TrimSpace(message)

	if helpPattern.MatchString(trimmed) {
		return intent{Name: intentHelp, Confidence: 0.9}
	}

	for _, p := range searchMemoryPatterns {
		if m := p.FindStringSubmatch(trimmed); m != nil {
			query := strings.TrimSpace(m[1])
			for _, prefix := range fillerPrefixes {
				if strings.HasPrefix(strings.ToLower(query), prefix) {
					query = strings.TrimSpace(query[len(prefix):])
				}
			}
			return intent{Name: intentSearchMemory, Confidence: 0.9, Query: query}
		}
	}

	return intent{Name: intentChat, Confidence: 0.8}
}

const helpResponse = `I can chat, answer questions using my long-term memory, run a ReAct agent with tools (calculator, code execution, date/time, JSON, web search), verify answers through a chain-of-verification pass, and do research or code-assist tasks. Ask me something, or say "recall <topic>" to search memory.`
