package domain

// ModelUsage is the per-model slice of the usage ledger.
type ModelUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Calls        int64 `json:"calls"`
}

// Usage is the cumulative usage ledger maintained by the callback
// server. Counters never decrease except through an explicit reset.
type Usage struct {
	InputTokens  int64                 `json:"input_tokens"`
	OutputTokens int64                 `json:"output_tokens"`
	Calls        int64                 `json:"calls"`
	ByModel      map[string]ModelUsage `json:"calls_by_model"`
}

// Sub subtracts an earlier snapshot from u, producing the per-run delta.
func (u Usage) Sub(before Usage) Usage {
	diff := Usage{
		InputTokens:  u.InputTokens - before.InputTokens,
		OutputTokens: u.OutputTokens - before.OutputTokens,
		Calls:        u.Calls - before.Calls,
		ByModel:      make(map[string]ModelUsage, len(u.ByModel)),
	}
	for model, after := range u.ByModel {
		prev := before.ByModel[model]
		d := ModelUsage{
			InputTokens:  after.InputTokens - prev.InputTokens,
			OutputTokens: after.OutputTokens - prev.OutputTokens,
			Calls:        after.Calls - prev.Calls,
		}
		if d.Calls != 0 || d.InputTokens != 0 || d.OutputTokens != 0 {
			diff.ByModel[model] = d
		}
	}
	return diff
}

// Clone returns a deep copy of the ledger snapshot.
func (u Usage) Clone() Usage {
	c := u
	c.ByModel = make(map[string]ModelUsage, len(u.ByModel))
	for model, mu := range u.ByModel {
		c.ByModel[model] = mu
	}
	return c
}
