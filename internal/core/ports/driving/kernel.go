package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// KernelService exposes the lifecycle-managed code kernel. The kernel is
// started lazily: the first call on any of these methods triggers
// startup, helper injection and snapshot restore.
type KernelService interface {
	// Exec runs code in the kernel and returns captured output.
	// A kernel-runtime failure is reported inside the result, not as an
	// error; errors cover transport and protocol failures only.
	Exec(ctx context.Context, code string, timeout time.Duration) (domain.ExecResult, error)

	// LoadFile reads a host file and binds its content to a kernel
	// variable. Paths under the credential denylist are refused.
	LoadFile(ctx context.Context, path, varName string) (int, error)

	// GetVar returns a variable's value. When query is non-empty it is
	// executed as an expression instead.
	GetVar(ctx context.Context, name, query string) (string, error)

	// Vars lists all user-defined kernel variables.
	Vars(ctx context.Context) ([]domain.VarInfo, error)

	// Reset clears the kernel namespace and re-injects helpers.
	Reset(ctx context.Context) error
}

// SubAgentService runs bounded recursive reasoning loops against the
// kernel. Runs are serialized per kernel.
type SubAgentService interface {
	// Run executes a sub-agent with the given signature (a registered
	// name or string shorthand) and inputs.
	Run(ctx context.Context, signature string, inputs map[string]any, limits domain.RunLimits) (domain.RunResult, error)
}

// UsageService reads (and optionally resets) the callback server's
// cumulative usage ledger.
type UsageService interface {
	Usage(ctx context.Context, reset bool) (domain.Usage, error)
}
