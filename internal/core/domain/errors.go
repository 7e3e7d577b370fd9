package domain

import (
	"context"
	"errors"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBlocked indicates a URL or host was refused by policy.
	ErrBlocked = errors.New("blocked by policy")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("timed out")

	// ErrTransport indicates a network-level failure (connection refused,
	// reset, DNS) talking to the kernel or a remote host.
	ErrTransport = errors.New("transport failure")

	// ErrKernelRuntime indicates the kernel accepted the code but the
	// execution itself failed. The captured traceback travels with the
	// wrapping error.
	ErrKernelRuntime = errors.New("kernel runtime error")

	// ErrProtocol indicates the kernel returned a body we cannot parse.
	ErrProtocol = errors.New("protocol error")

	// ErrOverloaded indicates the kernel reported it is busy.
	ErrOverloaded = errors.New("kernel overloaded")

	// ErrSandboxLimit indicates a sub-agent run exhausted one of its
	// iteration or call budgets.
	ErrSandboxLimit = errors.New("sandbox limit exhausted")

	// ErrRateLimited indicates the language model API rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	// Features requiring LLM (RAG answers, sub-agents) are disabled.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not
	// configured. Vector/semantic search degrades to lexical.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrConflict indicates a concurrent-writer conflict on a project.
	ErrConflict = errors.New("conflicting writer")

	// ErrKernelUnavailable indicates the kernel could not be started or
	// is not responding to health checks.
	ErrKernelUnavailable = errors.New("kernel unavailable")
)

// ErrorKind is the machine-readable failure classification every tool
// result carries. Kinds are normalized across tools: lower layers surface
// the most specific kind and the tool surface maps anything unclassified
// to KindInternal.
type ErrorKind string

// Normalized error kinds.
const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindBlocked       ErrorKind = "blocked"
	KindTimeout       ErrorKind = "timeout"
	KindTransport     ErrorKind = "transport"
	KindKernelRuntime ErrorKind = "kernel_runtime"
	KindSandboxLimit  ErrorKind = "sandbox_limit"
	KindRateLimited   ErrorKind = "rate_limited"
	KindUnavailable   ErrorKind = "unavailable"
	KindConflict      ErrorKind = "conflict"
	KindInternal      ErrorKind = "internal"
)

// KindOf classifies an error into its normalized kind.
// Unrecognized errors map to KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrBlocked):
		return KindBlocked
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrKernelRuntime):
		return KindKernelRuntime
	case errors.Is(err, ErrSandboxLimit):
		return KindSandboxLimit
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrLLMUnavailable),
		errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrKernelUnavailable),
		errors.Is(err, ErrOverloaded):
		return KindUnavailable
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
