package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileArtifactStore is the production ArtifactStore: it writes a finished
// export to a local directory and hands back a path-based download URL.
// No repo in this codebase's lineage imports an object-storage SDK, so
// this stays on the standard library rather than inventing a dependency
// the corpus never reached for (see DESIGN.md).
type FileArtifactStore struct {
	dir     string
	baseURL string
}

// NewFileArtifactStore ensures dir exists and returns a store that serves
// artifacts at baseURL+"/"+filename (baseURL has no trailing slash).
func NewFileArtifactStore(dir, baseURL string) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit export dir: %w", err)
	}
	return &FileArtifactStore{dir: dir, baseURL: baseURL}, nil
}

func (s *FileArtifactStore) Put(_ context.Context, jobID, format string, data []byte) (string, error) {
	ext := "json"
	if format == "csv" {
		ext = "csv"
	}
	name := jobID + "." + ext
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write audit export artifact: %w", err)
	}
	return s.baseURL + "/" + name, nil
}
