package fetcher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/sandbridge/internal/core/domain"
)

// FreshnessTTL is how long cached raw docs stay fresh.
const FreshnessTTL = 7 * 24 * time.Hour

// RawStore is the on-disk cache of fetched markdown. Each document is a
// .md file with a .meta.json sidecar under
// <dataDir>/<project_id>/raw/<library>/<url-path>.md.
type RawStore struct {
	dataDir string
}

// NewRawStore creates a raw-doc store rooted at dataDir. If dataDir is
// empty, defaults to ~/.sandbridge/knowledge.
func NewRawStore(dataDir string) (*RawStore, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".sandbridge", "knowledge")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating knowledge directory: %w", err)
	}
	return &RawStore{dataDir: dataDir}, nil
}

// ProjectDir returns the raw-doc root for a project.
func (s *RawStore) ProjectDir(projectID string) string {
	return filepath.Join(s.dataDir, projectID, "raw")
}

// DocPath returns the absolute path for a URL's raw doc in a project.
// The result always stays under the project's raw directory; a URL
// that would resolve outside it falls back to unknown/index.md.
func (s *RawStore) DocPath(projectID, rawURL string) string {
	root := s.ProjectDir(projectID)
	docPath := filepath.Join(root, filepath.FromSlash(URLToRelPath(rawURL)))

	rel, err := filepath.Rel(root, docPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Join(root, "unknown", "index.md")
	}
	return docPath
}

func metaPath(docPath string) string {
	return strings.TrimSuffix(docPath, ".md") + ".meta.json"
}

// Read returns the cached content and sidecar metadata for a doc path.
func (s *RawStore) Read(docPath string) (string, *domain.DocMeta, error) {
	content, err := os.ReadFile(docPath)
	if err != nil {
		return "", nil, fmt.Errorf("reading cached doc: %w", err)
	}
	return string(content), s.readMeta(docPath), nil
}

// readMeta returns the sidecar metadata, or nil when missing or corrupt.
func (s *RawStore) readMeta(docPath string) *domain.DocMeta {
	data, err := os.ReadFile(metaPath(docPath))
	if err != nil {
		return nil
	}
	var meta domain.DocMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil
	}
	return &meta
}

// Write stores content and its sidecar metadata. Both writes go through
// a temp file and rename so a crash never leaves a torn doc.
func (s *RawStore) Write(docPath, url, content string, source domain.MarkdownSource, markdownTokens int) (*domain.DocMeta, error) {
	if err := os.MkdirAll(filepath.Dir(docPath), 0700); err != nil {
		return nil, fmt.Errorf("creating doc directory: %w", err)
	}

	meta := &domain.DocMeta{
		URL:            url,
		FetchedAt:      time.Now().UTC(),
		ContentHash:    domain.ContentHash(content),
		SizeBytes:      len(content),
		MarkdownSource: source,
		MarkdownTokens: markdownTokens,
	}

	if err := atomicWrite(docPath, []byte(content)); err != nil {
		return nil, fmt.Errorf("writing doc: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling meta: %w", err)
	}
	if err := atomicWrite(metaPath(docPath), metaJSON); err != nil {
		return nil, fmt.Errorf("writing meta: %w", err)
	}

	return meta, nil
}

// IsFresh reports whether a cached doc exists and its metadata is
// younger than ttl.
func (s *RawStore) IsFresh(docPath string, ttl time.Duration) bool {
	if _, err := os.Stat(docPath); err != nil {
		return false
	}
	meta := s.readMeta(docPath)
	if meta == nil || meta.FetchedAt.IsZero() {
		return false
	}
	return time.Since(meta.FetchedAt) < ttl
}

// Invalidate drops the sidecar metadata so the next freshness check
// fails and the doc is refetched.
func (s *RawStore) Invalidate(docPath string) error {
	err := os.Remove(metaPath(docPath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CountDocs counts raw .md files for a project, per library directory.
func (s *RawStore) CountDocs(projectID string) (map[string]int, error) {
	root := s.ProjectDir(projectID)
	counts := make(map[string]int)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		library := strings.Split(filepath.ToSlash(rel), "/")[0]
		counts[library]++
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return counts, nil
		}
		return nil, err
	}
	return counts, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
