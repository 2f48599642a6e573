package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"kgchat/backend/internal/kg"
)

// loadGraph reads a graph file. A missing file is an empty graph when allowMissing is set.
func loadGraph(path string, allowMissing bool) (kg.KnowledgeGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return kg.NewKnowledgeGraph(), nil
		}
		return kg.KnowledgeGraph{}, fmt.Errorf("reading graph: %w", err)
	}

	var g kg.KnowledgeGraph
	if err := json.Unmarshal(data, &g); err != nil {
		return kg.KnowledgeGraph{}, fmt.Errorf("parsing graph %s: %w", path, err)
	}
	return g, nil
}

// saveGraph writes the graph through a temp file so a failed write never truncates the previous graph
func saveGraph(path string, g kg.KnowledgeGraph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".kgctl-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing graph: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing graph: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing graph: %w", err)
	}
	return nil
}
