package subagent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sandbridge/internal/callback"
	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/core/ports/driven"
)

// fakeKernel scripts kernel behaviour: code containing submit(...)
// marks the run submitted, and the probe reports it.
type fakeKernel struct {
	mu        sync.Mutex
	execCodes []string
	execOut   string
	execErr   string
	submitted string
}

func (f *fakeKernel) Exec(ctx context.Context, code string, timeout time.Duration) (domain.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCodes = append(f.execCodes, code)

	if strings.Contains(code, "__pending__") {
		if f.submitted == "" {
			return domain.ExecResult{Output: "__pending__\n"}, nil
		}
		return domain.ExecResult{Output: f.submitted + "\n"}, nil
	}
	if strings.Contains(code, "pop('_sub_agent_result'") && !strings.Contains(code, "=") {
		f.submitted = ""
		return domain.ExecResult{}, nil
	}
	if idx := strings.Index(code, "submit_json:"); idx >= 0 {
		f.submitted = strings.TrimSpace(code[idx+len("submit_json:"):])
		return domain.ExecResult{Output: "submitted\n"}, nil
	}
	if strings.Contains(code, "_sub_agent_result = _json.loads(") {
		f.submitted = "stored"
		return domain.ExecResult{}, nil
	}
	return domain.ExecResult{Output: f.execOut, Stderr: f.execErr}, nil
}

func (f *fakeKernel) LoadFile(ctx context.Context, path, varName string) (int, error) {
	return 0, nil
}

func (f *fakeKernel) GetVar(ctx context.Context, name, query string) (string, error) {
	return "", nil
}

func (f *fakeKernel) Vars(ctx context.Context) ([]domain.VarInfo, error) { return nil, nil }
func (f *fakeKernel) Reset(ctx context.Context) error                   { return nil }

// fakeMainLLM replays a scripted sequence of completions, repeating the
// last one when the script runs out.
type fakeMainLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
}

func (f *fakeMainLLM) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (driven.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return driven.Completion{}, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return driven.Completion{Text: f.responses[idx], InputTokens: 100, OutputTokens: 50}, nil
}

func (f *fakeMainLLM) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (driven.Completion, error) {
	return f.Chat(ctx, nil, driven.ChatOptions{})
}

func (f *fakeMainLLM) ModelName() string              { return "fake-sonnet" }
func (f *fakeMainLLM) Ping(ctx context.Context) error { return nil }
func (f *fakeMainLLM) Close() error                   { return nil }

type fakePrompts struct{}

func (fakePrompts) Load(name string) (string, error) { return "Agent task:\n%s", nil }
func (fakePrompts) Reload()                          {}

func newTestRunner(t *testing.T, kernel *fakeKernel, llm driven.LLMService) (*Runner, *callback.Ledger) {
	t.Helper()
	ledger, err := callback.OpenLedger(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return NewRunner(kernel, llm, ledger, fakePrompts{}), ledger
}

func codeBlock(code string) string {
	return "Let me try this.\n```python\n" + code + "\n```"
}

func TestResolveSignature_Named(t *testing.T) {
	for _, name := range []string{"search", "extract", "classify", "summarize", "deep_reasoning", "deep_reasoning_multi"} {
		sig, err := ResolveSignature(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, sig.Name)
		assert.NotEmpty(t, sig.Inputs)
		assert.NotEmpty(t, sig.Outputs)
	}

	sig, err := ResolveSignature("deep_reasoning")
	require.NoError(t, err)
	assert.Contains(t, sig.Instructions, "Phase 1")
	assert.Contains(t, sig.Instructions, "Phase 3")
}

func TestResolveSignature_Shorthand(t *testing.T) {
	sig, err := ResolveSignature("context, query -> answer: str, sources: list")
	require.NoError(t, err)
	require.Len(t, sig.Inputs, 2)
	require.Len(t, sig.Outputs, 2)
	assert.Equal(t, "answer", sig.Outputs[0].Name)
	assert.Equal(t, "str", sig.Outputs[0].Type)
}

func TestResolveSignature_CommaInType(t *testing.T) {
	sig, err := ResolveSignature("text -> counts: dict[str, int], pairs: list[tuple[str, float]]")
	require.NoError(t, err)
	require.Len(t, sig.Inputs, 1)
	require.Len(t, sig.Outputs, 2)
	assert.Equal(t, "counts", sig.Outputs[0].Name)
	assert.Equal(t, "dict[str, int]", sig.Outputs[0].Type)
	assert.Equal(t, "pairs", sig.Outputs[1].Name)
	assert.Equal(t, "list[tuple[str, float]]", sig.Outputs[1].Type)
}

func TestResolveSignature_Invalid(t *testing.T) {
	for _, s := range []string{"", "no arrow here", "a -> 1bad", "x -> x"} {
		_, err := ResolveSignature(s)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "signature %q", s)
	}
}

func TestStubs(t *testing.T) {
	llm := LLMStub("http://127.0.0.1:8081")
	assert.Contains(t, llm, "def llm_query(prompt):")
	assert.Contains(t, llm, "def llm_query_batch(prompts):")
	assert.Contains(t, llm, `"http://127.0.0.1:8081/llm_query"`)
	assert.Contains(t, llm, "min(len(prompts), 8)")

	tools := ToolStubs("http://host.docker.internal:8081")
	assert.Contains(t, tools, `"http://host.docker.internal:8081/tool_call"`)
	for name := range SandboxTools {
		assert.Contains(t, tools, "def "+name+"(")
	}
	assert.Contains(t, tools, "def search_knowledge(query, top_k=10):")

	submit := SubmitStub()
	assert.Contains(t, submit, "def submit(**kwargs):")
	assert.Contains(t, submit, "_sub_agent_result")
}

func TestRunner_SubmitViaKernel(t *testing.T) {
	kernel := &fakeKernel{execOut: "inspected\n"}
	llm := &fakeMainLLM{responses: []string{
		codeBlock("print(len(context))"),
		codeBlock(`# submit_json: {"answer": "42"}`),
	}}
	runner, _ := newTestRunner(t, kernel, llm)

	result, err := runner.Run(t.Context(), "search",
		map[string]any{"context": "the answer is 42", "query": "what is the answer"},
		domain.RunLimits{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"answer": "42"}, result.Outputs)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, int64(2), result.Usage.Calls)
	assert.Equal(t, int64(200), result.Usage.InputTokens)

	kinds := make([]domain.TurnKind, len(result.Trajectory))
	for i, tr := range result.Trajectory {
		kinds[i] = tr.Kind
	}
	assert.Equal(t, []domain.TurnKind{
		domain.TurnLLMCall, domain.TurnExecution, domain.TurnOutput,
		domain.TurnLLMCall, domain.TurnExecution, domain.TurnOutput,
		domain.TurnSubmission,
	}, kinds)

	// The first kernel call binds the inputs.
	assert.Contains(t, kernel.execCodes[0], "context = _json.loads(")
	assert.Contains(t, kernel.execCodes[0], "query = _json.loads(")
}

func TestRunner_InlineJSONSubmission(t *testing.T) {
	kernel := &fakeKernel{}
	llm := &fakeMainLLM{responses: []string{
		`The document is short enough to answer directly: {"summary": "it is about ducks"}`,
	}}
	runner, _ := newTestRunner(t, kernel, llm)

	result, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "ducks are birds"}, domain.RunLimits{})
	require.NoError(t, err)

	assert.Equal(t, "it is about ducks", result.Outputs["summary"])
	assert.Equal(t, 1, result.Iterations)

	// The inline submission is mirrored into the kernel namespace.
	var stored bool
	for _, code := range kernel.execCodes {
		if strings.Contains(code, "_sub_agent_result = _json.loads(") {
			stored = true
		}
	}
	assert.True(t, stored)
}

func TestRunner_MissingInput(t *testing.T) {
	runner, _ := newTestRunner(t, &fakeKernel{}, &fakeMainLLM{responses: []string{"x"}})

	_, err := runner.Run(t.Context(), "search", map[string]any{"context": "text"}, domain.RunLimits{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunner_UnknownInput(t *testing.T) {
	runner, _ := newTestRunner(t, &fakeKernel{}, &fakeMainLLM{responses: []string{"x"}})

	_, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text", "bonus": 1}, domain.RunLimits{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunner_IterationLimit(t *testing.T) {
	kernel := &fakeKernel{execOut: "still working\n"}
	llm := &fakeMainLLM{responses: []string{codeBlock("print('loop')")}}
	runner, _ := newTestRunner(t, kernel, llm)

	result, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"},
		domain.RunLimits{MaxIterations: 3})

	require.ErrorIs(t, err, domain.ErrSandboxLimit)
	assert.Equal(t, 3, result.Iterations)
	assert.NotEmpty(t, result.Trajectory, "budget errors still carry the trajectory")
}

func TestRunner_LLMCallLimit(t *testing.T) {
	kernel := &fakeKernel{execOut: "ok\n"}
	llm := &fakeMainLLM{responses: []string{codeBlock("print('x')")}}
	runner, _ := newTestRunner(t, kernel, llm)

	_, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"},
		domain.RunLimits{MaxLLMCalls: 1, MaxIterations: 10})

	require.ErrorIs(t, err, domain.ErrSandboxLimit)
	assert.Equal(t, 1, llm.calls)
}

func TestRunner_SubCallsCountAgainstBudget(t *testing.T) {
	kernel := &fakeKernel{execOut: "ok\n"}
	llm := &fakeMainLLM{responses: []string{codeBlock("print('x')")}}
	runner, ledger := newTestRunner(t, kernel, llm)

	// Simulate llm_query() traffic recorded by the callback server
	// before the run starts budget at 0, then the kernel "makes" calls.
	require.NoError(t, ledger.Add("fake-haiku", 10, 10))
	require.NoError(t, ledger.Add("fake-haiku", 10, 10))

	result, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"},
		domain.RunLimits{MaxLLMCalls: 2, MaxIterations: 10})

	// Pre-run calls are outside the diff; the budget applies per run.
	require.ErrorIs(t, err, domain.ErrSandboxLimit)
	assert.Equal(t, int64(2), result.Usage.Calls)
}

func TestRunner_RateLimited(t *testing.T) {
	llm := &fakeMainLLM{err: fmt.Errorf("%w: 429 from api", domain.ErrRateLimited)}
	runner, _ := newTestRunner(t, &fakeKernel{}, llm)

	_, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"}, domain.RunLimits{})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRunner_StderrStaysInTrajectory(t *testing.T) {
	kernel := &fakeKernel{execErr: "NameError: name 'oops' is not defined"}
	llm := &fakeMainLLM{responses: []string{
		codeBlock("print(oops)"),
		`Fixing it: {"summary": "done"}`,
	}}
	runner, _ := newTestRunner(t, kernel, llm)

	result, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"}, domain.RunLimits{})
	require.NoError(t, err)

	var sawError bool
	for _, tr := range result.Trajectory {
		if tr.Kind == domain.TurnOutput && strings.Contains(tr.Content, "[stderr] NameError") {
			sawError = true
		}
	}
	assert.True(t, sawError, "the traceback feeds the next turn instead of failing the run")
	assert.Equal(t, "done", result.Outputs["summary"])
}

func TestRunner_OutputTruncation(t *testing.T) {
	kernel := &fakeKernel{execOut: strings.Repeat("x", 500)}
	llm := &fakeMainLLM{responses: []string{
		codeBlock("print('x' * 500)"),
		`{"summary": "long"}`,
	}}
	runner, _ := newTestRunner(t, kernel, llm)

	result, err := runner.Run(t.Context(), "summarize",
		map[string]any{"document": "text"},
		domain.RunLimits{MaxOutputChars: 100})
	require.NoError(t, err)

	for _, tr := range result.Trajectory {
		if tr.Kind == domain.TurnOutput {
			assert.LessOrEqual(t, len(tr.Content), 100+len("\n... [output truncated]"))
			assert.Contains(t, tr.Content, "[output truncated]")
		}
	}
}

func TestRunner_NoLLM(t *testing.T) {
	ledger, err := callback.OpenLedger(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer ledger.Close()
	runner := NewRunner(&fakeKernel{}, nil, ledger, fakePrompts{})

	_, err = runner.Run(t.Context(), "summarize", map[string]any{"document": "x"}, domain.RunLimits{})
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "print(1)", extractCode("```python\nprint(1)\n```"))
	assert.Equal(t, "print(1)", extractCode("prose\n```\nprint(1)\n```\nmore"))
	assert.Equal(t, "", extractCode("no code here"))
}
