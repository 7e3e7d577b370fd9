package subagent

import (
	"fmt"
	"strings"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

const deepReasoningInstructions = `Use a 3-phase reasoning strategy to answer the query from the provided context.

Phase 1 - Recon: Read the full context. Note its size and format. Identify
chunk boundaries (e.g. paragraph breaks, section headers, numbered items).
Determine which sections are likely relevant to the query.

Phase 2 - Filter: Split the context along the boundaries identified in Phase 1.
For each chunk, apply a keyword or regex check against the query terms. For
chunks that pass the filter, call llm_query() to extract relevant information.
Discard chunks that clearly don't relate to the query.

Phase 3 - Aggregate: Collect the llm_query() results from Phase 2. Call
llm_query() once more to synthesize them into a single coherent answer.
Return that synthesized answer as the output.`

const deepReasoningMultiInstructions = `Use a 3-phase reasoning strategy to answer the query across multiple documents.

Phase 1 - Recon: Read all documents. Note each document's size, format, and
chunk boundaries (paragraph breaks, section headers, numbered items). Identify
which documents and sections are likely relevant to the query.

Phase 2 - Filter: For each document, split along its boundaries. Apply a
keyword or regex check against query terms. For chunks that pass, call
llm_query() to extract relevant information. Discard irrelevant chunks.

Phase 3 - Aggregate: Collect all llm_query() results from Phase 2 across all
documents. Call llm_query() once more to synthesize them into a single
coherent answer. Return that synthesized answer as the output.`

// namedSignatures are the pre-built signatures addressable by name.
var namedSignatures = map[string]domain.Signature{
	"search": {
		Name: "search",
		Inputs: []domain.SignatureField{
			{Name: "context", Desc: "source text to search"},
			{Name: "query", Desc: "what to look for"},
		},
		Outputs: []domain.SignatureField{
			{Name: "answer", Type: "str", Desc: "answer grounded in the context"},
		},
	},
	"extract": {
		Name: "extract",
		Inputs: []domain.SignatureField{
			{Name: "document", Desc: "source document"},
			{Name: "fields", Desc: "field names to extract"},
		},
		Outputs: []domain.SignatureField{
			{Name: "extracted", Type: "dict", Desc: "extracted field values"},
		},
	},
	"classify": {
		Name: "classify",
		Inputs: []domain.SignatureField{
			{Name: "text", Desc: "text to classify"},
			{Name: "categories", Desc: "candidate categories"},
		},
		Outputs: []domain.SignatureField{
			{Name: "category", Type: "str", Desc: "chosen category"},
			{Name: "confidence", Type: "float", Desc: "confidence between 0 and 1"},
		},
	},
	"summarize": {
		Name: "summarize",
		Inputs: []domain.SignatureField{
			{Name: "document", Desc: "document to summarize"},
		},
		Outputs: []domain.SignatureField{
			{Name: "summary", Type: "str", Desc: "concise summary"},
		},
	},
	"deep_reasoning": {
		Name: "deep_reasoning",
		Inputs: []domain.SignatureField{
			{Name: "context", Desc: "source text to reason over"},
			{Name: "query", Desc: "the question to answer"},
		},
		Outputs: []domain.SignatureField{
			{Name: "answer", Type: "str", Desc: "synthesized answer from phased reasoning"},
		},
		Instructions: deepReasoningInstructions,
	},
	"deep_reasoning_multi": {
		Name: "deep_reasoning_multi",
		Inputs: []domain.SignatureField{
			{Name: "documents", Desc: "newline-separated documents to reason over"},
			{Name: "query", Desc: "the question to answer"},
		},
		Outputs: []domain.SignatureField{
			{Name: "answer", Type: "str", Desc: "synthesized answer from phased reasoning across all documents"},
		},
		Instructions: deepReasoningMultiInstructions,
	},
}

// NamedSignatures lists the registered signature names, for tool docs.
func NamedSignatures() []string {
	names := make([]string, 0, len(namedSignatures))
	for name := range namedSignatures {
		names = append(names, name)
	}
	return names
}

// ResolveSignature turns a registered name or a string shorthand
// ("a, b -> out: type") into a validated signature.
func ResolveSignature(s string) (domain.Signature, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Signature{}, fmt.Errorf("%w: empty signature", domain.ErrInvalidInput)
	}
	if sig, ok := namedSignatures[s]; ok {
		return sig, nil
	}
	return domain.ParseSignature(s)
}

// describeSignature renders a signature for the system prompt.
func describeSignature(sig domain.Signature) string {
	var b strings.Builder
	if sig.Name != "" {
		fmt.Fprintf(&b, "Task: %s\n", sig.Name)
	}

	b.WriteString("Inputs (pre-bound as Python variables):\n")
	for _, f := range sig.Inputs {
		writeField(&b, f)
	}
	b.WriteString("Outputs (pass each one to submit()):\n")
	for _, f := range sig.Outputs {
		writeField(&b, f)
	}

	if sig.Instructions != "" {
		b.WriteString("\n")
		b.WriteString(sig.Instructions)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, f domain.SignatureField) {
	b.WriteString("  - ")
	b.WriteString(f.Name)
	if f.Type != "" {
		fmt.Fprintf(b, ": %s", f.Type)
	}
	if f.Desc != "" {
		fmt.Fprintf(b, " (%s)", f.Desc)
	}
	b.WriteString("\n")
}
