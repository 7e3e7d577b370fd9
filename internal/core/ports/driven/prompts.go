package driven

// Prompt names used with PromptStore.Load.
const (
	// PromptRAGAnswer composes an answer from retrieved chunks.
	// Placeholders: %s (context), %s (question).
	PromptRAGAnswer = "rag_answer"

	// PromptSummarise condenses content to a character budget.
	// Placeholders: %d (max chars), %s (content).
	PromptSummarise = "summarise"

	// PromptSubAgentSystem is the system prompt framing the sub-agent
	// reasoning loop. Placeholders: %s (signature description).
	PromptSubAgentSystem = "subagent_system"
)

// PromptStore loads prompt templates by name.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	Load(name string) (string, error)

	// Reload clears any caches, forcing fresh loads.
	Reload()
}
