package domain

import "time"

// TurnKind identifies one step of a sub-agent trajectory.
type TurnKind string

// Trajectory turn kinds.
const (
	TurnLLMCall    TurnKind = "llm_call"
	TurnExecution  TurnKind = "execution"
	TurnOutput     TurnKind = "output"
	TurnSubmission TurnKind = "submission"
)

// Turn is a single entry in a sub-agent trajectory: one language-model
// call, one kernel execution, its captured output, or the terminal
// submission.
type Turn struct {
	Kind    TurnKind  `json:"kind"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// RunResult is the terminal shape of a sub-agent run.
type RunResult struct {
	Outputs    map[string]any `json:"outputs,omitempty"`
	Trajectory []Turn         `json:"trajectory"`
	Iterations int            `json:"iterations"`
	Usage      Usage          `json:"usage"`
}
