package kernel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
	"github.com/custodia-labs/sandbridge/internal/logger"
)

const (
	// SnapshotExpiry is how long a saved session stays restorable.
	SnapshotExpiry = 7 * 24 * time.Hour

	// AutoSaveInterval is how often the running kernel is snapshotted.
	AutoSaveInterval = 5 * time.Minute
)

// SnapshotStore persists serialized kernel namespaces per session.
// Each session gets a <session>.snapshot payload and a
// <session>.manifest.json sidecar.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the sessions directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating sessions dir: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".snapshot")
}

func (s *SnapshotStore) manifestPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".manifest.json")
}

// Save writes the snapshot payload and its manifest atomically.
func (s *SnapshotStore) Save(sessionID, snapshot string) error {
	manifest := domain.SnapshotManifest{
		SessionID:     sessionID,
		SavedAt:       time.Now().UTC(),
		SchemaVersion: domain.SnapshotSchemaVersion,
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := writeAtomic(s.snapshotPath(sessionID), []byte(snapshot)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := writeAtomic(s.manifestPath(sessionID), raw); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Load returns the snapshot payload for a session. Missing, expired and
// schema-mismatched snapshots are deleted; a corrupt manifest is renamed
// aside with a .corrupt suffix so it can be inspected. All four cases
// report domain.ErrNotFound so the caller starts fresh.
func (s *SnapshotStore) Load(sessionID string) (string, error) {
	raw, err := os.ReadFile(s.manifestPath(sessionID))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w: no snapshot for session %s", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("reading manifest: %w", err)
	}

	var manifest domain.SnapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		logger.Warn("Quarantining corrupt snapshot manifest for session %s: %v", sessionID, err)
		s.quarantine(sessionID)
		return "", fmt.Errorf("%w: corrupt snapshot for session %s", domain.ErrNotFound, sessionID)
	}

	switch {
	case manifest.SchemaVersion != domain.SnapshotSchemaVersion:
		logger.Warn("Discarding snapshot for session %s: schema version %d, want %d",
			sessionID, manifest.SchemaVersion, domain.SnapshotSchemaVersion)
		s.Delete(sessionID)
		return "", fmt.Errorf("%w: snapshot schema mismatch for session %s", domain.ErrNotFound, sessionID)
	case time.Since(manifest.SavedAt) > SnapshotExpiry:
		logger.Info("Discarding expired snapshot for session %s (saved %s)",
			sessionID, manifest.SavedAt.Format(time.RFC3339))
		s.Delete(sessionID)
		return "", fmt.Errorf("%w: snapshot expired for session %s", domain.ErrNotFound, sessionID)
	}

	payload, err := os.ReadFile(s.snapshotPath(sessionID))
	if os.IsNotExist(err) {
		s.Delete(sessionID)
		return "", fmt.Errorf("%w: snapshot payload missing for session %s", domain.ErrNotFound, sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("reading snapshot: %w", err)
	}
	return string(payload), nil
}

// quarantine moves a session's files aside instead of deleting them.
func (s *SnapshotStore) quarantine(sessionID string) {
	_ = os.Rename(s.snapshotPath(sessionID), s.snapshotPath(sessionID)+".corrupt")
	_ = os.Rename(s.manifestPath(sessionID), s.manifestPath(sessionID)+".corrupt")
}

// Delete removes a session's snapshot and manifest, tolerating absence.
func (s *SnapshotStore) Delete(sessionID string) {
	_ = os.Remove(s.snapshotPath(sessionID))
	_ = os.Remove(s.manifestPath(sessionID))
}

// CleanupExpired removes every snapshot older than SnapshotExpiry.
// Returns how many sessions were purged.
func (s *SnapshotStore) CleanupExpired() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing sessions: %w", err)
	}

	purged := 0
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".manifest.json") {
			continue
		}
		sessionID := strings.TrimSuffix(name, ".manifest.json")

		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var manifest domain.SnapshotManifest
		if err := json.Unmarshal(raw, &manifest); err != nil || time.Since(manifest.SavedAt) > SnapshotExpiry {
			s.Delete(sessionID)
			purged++
		}
	}
	return purged, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
