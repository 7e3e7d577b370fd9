package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sandbridge/internal/callback"
	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driving"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

const (
	execTimeout  = 60 * time.Second
	probeTimeout = 10 * time.Second
)

var codeBlockRe = regexp.MustCompile("(?s)```(?:python|py)?\n(.*?)```")

// probeCode checks whether kernel code called submit() during the last
// execution.
const probeCode = `import json as _json
if "_sub_agent_result" in globals():
    print(_json.dumps(_sub_agent_result, default=str))
else:
    print("__pending__")
`

// Runner drives bounded sub-agent loops: a main-model reasoning turn
// produces code, the kernel executes it, and the captured output feeds
// the next turn until submit() is called or a budget runs out. Runs are
// serialized; the kernel namespace is a shared resource.
type Runner struct {
	kernel  driving.KernelService
	llm     driven.LLMService
	ledger  *callback.Ledger
	prompts driven.PromptStore

	mu sync.Mutex
}

// NewRunner wires a sub-agent runner. llm is the main reasoning model;
// the ledger is shared with the callback server so llm_query() calls
// from kernel code count against the same budget.
func NewRunner(kernel driving.KernelService, llm driven.LLMService, ledger *callback.Ledger, prompts driven.PromptStore) *Runner {
	return &Runner{kernel: kernel, llm: llm, ledger: ledger, prompts: prompts}
}

// Run executes one sub-agent with the given signature (registered name
// or string shorthand) and inputs. The result carries the trajectory
// even when a budget error terminates the run.
func (r *Runner) Run(ctx context.Context, signature string, inputs map[string]any, limits domain.RunLimits) (domain.RunResult, error) {
	if r.llm == nil {
		return domain.RunResult{}, fmt.Errorf("%w: sub-agents need a main model", domain.ErrLLMUnavailable)
	}

	sig, err := ResolveSignature(signature)
	if err != nil {
		return domain.RunResult{}, err
	}
	if err := checkInputs(sig, inputs); err != nil {
		return domain.RunResult{}, err
	}
	limits = limits.WithDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	usageBefore := r.ledger.Snapshot()

	if err := r.bindInputs(ctx, inputs); err != nil {
		return domain.RunResult{}, err
	}

	systemPrompt, err := r.systemPrompt(sig)
	if err != nil {
		return domain.RunResult{}, err
	}
	messages := []driven.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "The input variables are bound in the kernel. Begin."},
	}

	result := domain.RunResult{}
	outputNames := fieldNames(sig.Outputs)

	for iteration := 1; iteration <= limits.MaxIterations; iteration++ {
		result.Iterations = iteration

		llmCalls := r.ledger.Snapshot().Calls - usageBefore.Calls
		if llmCalls >= int64(limits.MaxLLMCalls) {
			return r.finish(result, usageBefore), fmt.Errorf("%w: %d LLM calls used", domain.ErrSandboxLimit, llmCalls)
		}

		completion, err := r.llm.Chat(ctx, messages, driven.ChatOptions{})
		if err != nil {
			if domain.KindOf(err) == domain.KindRateLimited {
				return r.finish(result, usageBefore), fmt.Errorf("%w: sub-agent turn %d", domain.ErrRateLimited, iteration)
			}
			return r.finish(result, usageBefore), fmt.Errorf("sub-agent turn %d: %w", iteration, err)
		}
		if err := r.ledger.Add(r.llm.ModelName(), completion.InputTokens, completion.OutputTokens); err != nil {
			logger.Warn("Recording usage: %v", err)
		}

		result.Trajectory = append(result.Trajectory, turn(domain.TurnLLMCall, completion.Text))
		messages = append(messages, driven.ChatMessage{Role: "assistant", Content: completion.Text})

		code := extractCode(completion.Text)
		if code == "" {
			// No code: accept an inline JSON submission, otherwise nudge.
			if outputs, ok := parseInlineSubmission(completion.Text, outputNames); ok {
				if err := r.storeResult(ctx, outputs); err != nil {
					return r.finish(result, usageBefore), err
				}
				result.Outputs = outputs
				result.Trajectory = append(result.Trajectory, turn(domain.TurnSubmission, mustJSON(outputs)))
				return r.finish(result, usageBefore), nil
			}
			messages = append(messages, driven.ChatMessage{
				Role:    "user",
				Content: "Respond with a Python code block to run, or call submit() with every declared output.",
			})
			continue
		}

		execResult, err := r.kernel.Exec(ctx, code, execTimeout)
		if err != nil {
			return r.finish(result, usageBefore), fmt.Errorf("sub-agent execution: %w", err)
		}

		output := execResult.Output
		if execResult.Stderr != "" {
			// Tracebacks stay in the trajectory so the model can correct
			// itself on the next turn.
			if output != "" {
				output += "\n"
			}
			output += "[stderr] " + execResult.Stderr
		}
		output = truncateOutput(output, limits.MaxOutputChars)

		result.Trajectory = append(result.Trajectory,
			turn(domain.TurnExecution, code),
			turn(domain.TurnOutput, output))
		messages = append(messages, driven.ChatMessage{Role: "user", Content: "Output:\n" + output})

		outputs, done, err := r.probeSubmission(ctx, outputNames)
		if err != nil {
			return r.finish(result, usageBefore), err
		}
		if done {
			result.Outputs = outputs
			result.Trajectory = append(result.Trajectory, turn(domain.TurnSubmission, mustJSON(outputs)))
			return r.finish(result, usageBefore), nil
		}
	}

	return r.finish(result, usageBefore), fmt.Errorf("%w: %d iterations used", domain.ErrSandboxLimit, limits.MaxIterations)
}

func (r *Runner) finish(result domain.RunResult, before domain.Usage) domain.RunResult {
	result.Usage = r.ledger.Snapshot().Sub(before)
	return result
}

// bindInputs assigns each input as a kernel variable and clears any
// stale submission from a previous run.
func (r *Runner) bindInputs(ctx context.Context, inputs map[string]any) error {
	var b strings.Builder
	b.WriteString("import json as _json\n")
	b.WriteString("globals().pop('_sub_agent_result', None)\n")

	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value, err := json.Marshal(inputs[name])
		if err != nil {
			return fmt.Errorf("%w: input %q: %v", domain.ErrInvalidInput, name, err)
		}
		literal, err := json.Marshal(string(value))
		if err != nil {
			return fmt.Errorf("encoding input %q: %w", name, err)
		}
		fmt.Fprintf(&b, "%s = _json.loads(%s)\n", name, literal)
	}

	result, err := r.kernel.Exec(ctx, b.String(), execTimeout)
	if err != nil {
		return fmt.Errorf("binding inputs: %w", err)
	}
	if result.Stderr != "" {
		return fmt.Errorf("%w: binding inputs: %s", domain.ErrKernelRuntime, result.Stderr)
	}
	return nil
}

// probeSubmission checks the kernel for a submit() call and validates
// that every declared output arrived.
func (r *Runner) probeSubmission(ctx context.Context, outputNames []string) (map[string]any, bool, error) {
	probe, err := r.kernel.Exec(ctx, probeCode, probeTimeout)
	if err != nil {
		return nil, false, fmt.Errorf("checking submission: %w", err)
	}

	raw := strings.TrimSpace(probe.Output)
	if raw == "" || raw == "__pending__" {
		return nil, false, nil
	}

	var outputs map[string]any
	if err := json.Unmarshal([]byte(raw), &outputs); err != nil {
		return nil, false, nil
	}
	for _, name := range outputNames {
		if _, ok := outputs[name]; !ok {
			// Partial submission: drop it and let the model retry.
			_, _ = r.kernel.Exec(ctx, "globals().pop('_sub_agent_result', None)", probeTimeout)
			return nil, false, nil
		}
	}
	return outputs, true, nil
}

// storeResult records an inline JSON submission in the kernel, matching
// what submit() would have left behind.
func (r *Runner) storeResult(ctx context.Context, outputs map[string]any) error {
	value, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}
	literal, err := json.Marshal(string(value))
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}
	code := fmt.Sprintf("import json as _json\n_sub_agent_result = _json.loads(%s)", literal)
	if _, err := r.kernel.Exec(ctx, code, probeTimeout); err != nil {
		return fmt.Errorf("storing submission: %w", err)
	}
	return nil
}

func (r *Runner) systemPrompt(sig domain.Signature) (string, error) {
	tpl, err := r.prompts.Load(driven.PromptSubAgentSystem)
	if err != nil {
		return "", fmt.Errorf("loading sub-agent prompt: %w", err)
	}
	return fmt.Sprintf(tpl, describeSignature(sig)), nil
}

func checkInputs(sig domain.Signature, inputs map[string]any) error {
	declared := map[string]bool{}
	for _, f := range sig.Inputs {
		declared[f.Name] = true
		if _, ok := inputs[f.Name]; !ok {
			return fmt.Errorf("%w: missing input %q", domain.ErrInvalidInput, f.Name)
		}
	}
	for name := range inputs {
		if !declared[name] {
			return fmt.Errorf("%w: unknown input %q", domain.ErrInvalidInput, name)
		}
	}
	return nil
}

func fieldNames(fields []domain.SignatureField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// extractCode returns the first fenced code block, if any.
func extractCode(text string) string {
	m := codeBlockRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// parseInlineSubmission accepts a bare JSON object carrying every
// declared output field.
func parseInlineSubmission(text string, outputNames []string) (map[string]any, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var outputs map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &outputs); err != nil {
		return nil, false
	}
	for _, name := range outputNames {
		if _, ok := outputs[name]; !ok {
			return nil, false
		}
	}
	return outputs, true
}

func truncateOutput(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return domain.Truncate(s, maxChars) + "\n... [output truncated]"
}

func turn(kind domain.TurnKind, content string) domain.Turn {
	return domain.Turn{Kind: kind, Content: content, At: time.Now().UTC()}
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
