package status

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

// FileWriter rewrites a JSON file with the latest snapshot. Readers never
// see a partial file.
type FileWriter struct {
	Path string
}

func (f FileWriter) Publish(_ context.Context, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.Path)
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}

// ReadFile loads a snapshot written by FileWriter.
func ReadFile(path string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(data, &s)
	return s, err
}
