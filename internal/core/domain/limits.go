package domain

// Default sub-agent budgets.
const (
	DefaultMaxIterations  = 20
	DefaultMaxLLMCalls    = 50
	DefaultMaxOutputChars = 10000
)

// RunLimits bounds a sub-agent run. Zero fields take the defaults.
type RunLimits struct {
	// MaxIterations bounds the reasoning loop count.
	MaxIterations int `json:"max_iterations,omitempty"`

	// MaxLLMCalls bounds main-model and sub-model calls combined.
	MaxLLMCalls int `json:"max_llm_calls,omitempty"`

	// MaxOutputChars truncates each kernel execution's captured output.
	MaxOutputChars int `json:"max_output_chars,omitempty"`
}

// WithDefaults fills zero fields with the default budgets.
func (l RunLimits) WithDefaults() RunLimits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultMaxIterations
	}
	if l.MaxLLMCalls <= 0 {
		l.MaxLLMCalls = DefaultMaxLLMCalls
	}
	if l.MaxOutputChars <= 0 {
		l.MaxOutputChars = DefaultMaxOutputChars
	}
	return l
}
