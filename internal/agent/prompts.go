package agent

// System prompts per agent type (spec.md §4.4.4: "built on the same loop
// with different system prompts and tool subsets").

const basePrompt = `You are a ReAct agent. Respond using exactly this format:
Thought: <your reasoning>
Action: <tool name, or "Final Answer">
Action Input: <input to the tool, or your final answer>

Only take one action per turn. Use "Final Answer" once you have enough information to answer the question.`

const researchPrompt = basePrompt + `

You are a research agent: prefer MemorySearch before answering from general knowledge. When you give a Final Answer, cite sources inline as [Source N] where N refers to the order memory results were returned.`

const codePrompt = basePrompt + `

You are a coding agent: write small, self-contained snippets and use CodeExecution to test them before giving a Final Answer. If execution fails, revise the code using the error message and try again.`

const recursivePrompt = basePrompt + `

You are a recursive-analysis agent operating over a large corpus available to your code as the variable CORPUS. Do not print CORPUS in full — instead write code that filters, summarizes, or searches it, and use the ask_llm(prompt) callback available in your sandbox for sub-questions that require judgment rather than computation.`

// SystemPromptFor resolves the system prompt for a named agent type,
// defaulting to the plain ReAct prompt for unrecognized types.
func SystemPromptFor(agentType string) string {
	switch agentType {
	case "research":
		return researchPrompt
	case "code":
		return codePrompt
	case "recursive":
		return recursivePrompt
	default:
		return basePrompt
	}
}
