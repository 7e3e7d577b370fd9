package domain

import "time"

// SnapshotSchemaVersion is bumped when the snapshot wire format changes.
// Restore refuses mismatched manifests and starts the kernel clean.
const SnapshotSchemaVersion = 1

// SnapshotManifest accompanies every serialized kernel namespace on disk.
type SnapshotManifest struct {
	SessionID     string    `json:"session_id"`
	SavedAt       time.Time `json:"saved_at"`
	SchemaVersion int       `json:"schema_version"`
}

// VarInfo describes one kernel variable as reported by the vars listing.
type VarInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// ExecResult is the kernel's response to a code execution.
type ExecResult struct {
	Output string   `json:"output"`
	Stderr string   `json:"stderr"`
	Vars   []string `json:"vars"`
}

// RestoreResult reports which variables a snapshot restore brought back
// and which were skipped because their values failed serialization.
type RestoreResult struct {
	Restored []string `json:"restored"`
	Skipped  []string `json:"skipped"`
}
