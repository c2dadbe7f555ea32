package draftstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// draftFile is one JSON file of drafts, written atomically via temp file.
type draftFile struct {
	path string
}

func newDraftFile(path string) *draftFile {
	return &draftFile{path: path}
}

// read parses the file into a keyed map. The current format is a JSON
// object; a JSON array is the legacy single-list format and is converted on
// the way in.
func (f *draftFile) read() (map[string]Draft, error) {
	if f.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read draft file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	drafts := make(map[string]Draft)
	if err := json.Unmarshal(data, &drafts); err == nil {
		return drafts, nil
	}

	var legacy []Draft
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("parse draft file: %w", err)
	}
	for _, draft := range legacy {
		drafts[draftKey(draft.Scope, draft.PerspectiveID)] = draft
	}
	return drafts, nil
}

func (f *draftFile) write(drafts map[string]Draft) error {
	if f.path == "" {
		return errors.New("draft path not configured")
	}
	data, err := json.MarshalIndent(drafts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal drafts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create draft directory: %w", err)
	}

	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
