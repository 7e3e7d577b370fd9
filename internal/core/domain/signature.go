package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// SignatureField is one named input or output slot of a sub-agent
// signature. Type is advisory (a Python-style annotation such as "str"
// or "list[str]") and travels into the prompt verbatim.
type SignatureField struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Desc string `json:"desc,omitempty"`
}

// Signature declares the contract of a bounded sub-agent run: which
// input fields the caller supplies and which output fields the final
// submission must carry. Named signatures additionally embed task
// instructions.
type Signature struct {
	Name         string           `json:"name,omitempty"`
	Inputs       []SignatureField `json:"inputs"`
	Outputs      []SignatureField `json:"outputs"`
	Instructions string           `json:"instructions,omitempty"`
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks field naming and input/output disjointness.
func (s Signature) Validate() error {
	if len(s.Inputs) == 0 {
		return fmt.Errorf("%w: signature needs at least one input field", ErrInvalidInput)
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("%w: signature needs at least one output field", ErrInvalidInput)
	}
	seen := make(map[string]bool, len(s.Inputs))
	for _, f := range s.Inputs {
		if !identRe.MatchString(f.Name) {
			return fmt.Errorf("%w: invalid field name %q", ErrInvalidInput, f.Name)
		}
		seen[f.Name] = true
	}
	for _, f := range s.Outputs {
		if !identRe.MatchString(f.Name) {
			return fmt.Errorf("%w: invalid field name %q", ErrInvalidInput, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: field %q appears in both input and output", ErrInvalidInput, f.Name)
		}
	}
	return nil
}

// ParseSignature parses the string shorthand
// "input_a, input_b -> output: type" into a Signature. Named signatures
// are resolved by the caller before reaching here.
func ParseSignature(s string) (Signature, error) {
	parts := strings.SplitN(s, "->", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("%w: signature %q has no \"->\"", ErrInvalidInput, s)
	}
	inputs, err := parseFieldList(parts[0])
	if err != nil {
		return Signature{}, err
	}
	outputs, err := parseFieldList(parts[1])
	if err != nil {
		return Signature{}, err
	}
	sig := Signature{Inputs: inputs, Outputs: outputs}
	if err := sig.Validate(); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

func parseFieldList(s string) ([]SignatureField, error) {
	var fields []SignatureField
	for _, part := range splitFields(s) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ := part, ""
		if idx := strings.Index(part, ":"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			typ = strings.TrimSpace(part[idx+1:])
		}
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrInvalidInput, name)
		}
		fields = append(fields, SignatureField{Name: name, Type: typ})
	}
	return fields, nil
}

// splitFields splits a field list on top-level commas only, so commas
// inside bracketed type annotations like dict[str, int] stay put.
func splitFields(s string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
