package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// ExecInput is the input schema for the exec tool.
type ExecInput struct {
	Code           string `json:"code" jsonschema:"Python code to execute in the kernel"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" jsonschema:"execution timeout in seconds (default 30)"`
}

// ExecOutput is the output schema for the exec tool.
type ExecOutput struct {
	Output string   `json:"output"`
	Stderr string   `json:"stderr,omitempty"`
	Vars   []string `json:"vars,omitempty"`
}

// LoadInput is the input schema for the load tool.
type LoadInput struct {
	Path    string `json:"path" jsonschema:"host file path to read"`
	VarName string `json:"var_name" jsonschema:"kernel variable name to bind the content to"`
}

// LoadOutput is the output schema for the load tool.
type LoadOutput struct {
	VarName   string `json:"var_name"`
	SizeBytes int    `json:"size_bytes"`
}

// GetInput is the input schema for the get tool.
type GetInput struct {
	Name  string `json:"name" jsonschema:"kernel variable name"`
	Query string `json:"query,omitempty" jsonschema:"optional Python expression evaluated instead of returning the whole value"`
}

// GetOutput is the output schema for the get tool.
type GetOutput struct {
	Value string `json:"value"`
}

// VarsOutput is the output schema for the vars tool.
type VarsOutput struct {
	Vars  []domain.VarInfo `json:"vars"`
	Count int              `json:"count"`
}

// ResetOutput is the output schema for the reset tool.
type ResetOutput struct {
	Reset bool `json:"reset"`
}

// SubAgentInput is the input schema for the sub_agent tool.
type SubAgentInput struct {
	Signature      string         `json:"signature" jsonschema:"registered signature name or shorthand like 'context, query -> answer: str'"`
	Inputs         map[string]any `json:"inputs" jsonschema:"values for each declared input field"`
	MaxIterations  int            `json:"max_iterations,omitempty" jsonschema:"reasoning loop budget (default 20)"`
	MaxLLMCalls    int            `json:"max_llm_calls,omitempty" jsonschema:"combined main and sub model call budget (default 50)"`
	MaxOutputChars int            `json:"max_output_chars,omitempty" jsonschema:"per-execution output cap (default 10000)"`
}

// SubAgentOutput is the output schema for the sub_agent tool.
type SubAgentOutput struct {
	Outputs    map[string]any `json:"outputs,omitempty"`
	Trajectory []domain.Turn  `json:"trajectory"`
	Iterations int            `json:"iterations"`
	Usage      domain.Usage   `json:"usage"`
}

// UsageInput is the input schema for the usage tool.
type UsageInput struct {
	Reset bool `json:"reset,omitempty" jsonschema:"zero the counters after reading them"`
}

func (s *Server) registerKernelTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_exec",
		Description: "Execute Python code in the persistent kernel. Variables survive between calls.",
	}, s.handleExec)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_load",
		Description: "Read a host file and bind its content to a kernel variable. Credential paths are refused.",
	}, s.handleLoad)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_get",
		Description: "Return a kernel variable's value, or evaluate a drill-down expression against it.",
	}, s.handleGet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_vars",
		Description: "List user-defined kernel variables with type summaries.",
	}, s.handleVars)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_reset",
		Description: "Clear the kernel namespace and drop the saved session snapshot.",
	}, s.handleReset)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_sub_agent",
		Description: "Run a bounded sub-agent loop in the kernel with a typed signature.",
	}, s.handleSubAgent)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "sb_usage",
		Description: "Report cumulative LLM token usage, optionally resetting the counters.",
	}, s.handleUsage)
}

func (s *Server) handleExec(ctx context.Context, _ *mcp.CallToolRequest, input ExecInput) (*mcp.CallToolResult, ExecOutput, error) {
	timeout := time.Duration(input.TimeoutSeconds) * time.Second

	result, err := s.ports.Kernel.Exec(ctx, input.Code, timeout)
	if err != nil {
		return failure(err), ExecOutput{}, nil
	}
	return nil, ExecOutput{Output: result.Output, Stderr: result.Stderr, Vars: result.Vars}, nil
}

func (s *Server) handleLoad(ctx context.Context, _ *mcp.CallToolRequest, input LoadInput) (*mcp.CallToolResult, LoadOutput, error) {
	size, err := s.ports.Kernel.LoadFile(ctx, input.Path, input.VarName)
	if err != nil {
		return failure(err), LoadOutput{}, nil
	}
	return nil, LoadOutput{VarName: input.VarName, SizeBytes: size}, nil
}

func (s *Server) handleGet(ctx context.Context, _ *mcp.CallToolRequest, input GetInput) (*mcp.CallToolResult, GetOutput, error) {
	value, err := s.ports.Kernel.GetVar(ctx, input.Name, input.Query)
	if err != nil {
		return failure(err), GetOutput{}, nil
	}
	return nil, GetOutput{Value: value}, nil
}

func (s *Server) handleVars(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, VarsOutput, error) {
	vars, err := s.ports.Kernel.Vars(ctx)
	if err != nil {
		return failure(err), VarsOutput{}, nil
	}
	return nil, VarsOutput{Vars: vars, Count: len(vars)}, nil
}

func (s *Server) handleReset(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ResetOutput, error) {
	if err := s.ports.Kernel.Reset(ctx); err != nil {
		return failure(err), ResetOutput{}, nil
	}
	return nil, ResetOutput{Reset: true}, nil
}

func (s *Server) handleSubAgent(ctx context.Context, _ *mcp.CallToolRequest, input SubAgentInput) (*mcp.CallToolResult, SubAgentOutput, error) {
	if s.ports.SubAgent == nil {
		return failure(fmt.Errorf("%w: sub-agents are not configured", domain.ErrLLMUnavailable)), SubAgentOutput{}, nil
	}

	limits := domain.RunLimits{
		MaxIterations:  input.MaxIterations,
		MaxLLMCalls:    input.MaxLLMCalls,
		MaxOutputChars: input.MaxOutputChars,
	}

	result, err := s.ports.SubAgent.Run(ctx, input.Signature, input.Inputs, limits)
	if err != nil {
		// Budget exhaustion still reports the trajectory so the caller
		// can see how far the run got.
		out := SubAgentOutput{
			Trajectory: result.Trajectory,
			Iterations: result.Iterations,
			Usage:      result.Usage,
		}
		return failure(err), out, nil
	}
	return nil, SubAgentOutput{
		Outputs:    result.Outputs,
		Trajectory: result.Trajectory,
		Iterations: result.Iterations,
		Usage:      result.Usage,
	}, nil
}

func (s *Server) handleUsage(ctx context.Context, _ *mcp.CallToolRequest, input UsageInput) (*mcp.CallToolResult, domain.Usage, error) {
	if s.ports.Usage == nil {
		return failure(fmt.Errorf("%w: usage ledger is not configured", domain.ErrLLMUnavailable)), domain.Usage{}, nil
	}
	usage, err := s.ports.Usage.Usage(ctx, input.Reset)
	if err != nil {
		return failure(err), domain.Usage{}, nil
	}
	return nil, usage, nil
}
