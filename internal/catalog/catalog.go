// Package catalog loads lab definitions from a YAML file.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/labforge/internal/storage"
)

// Entry is one lab as written in a catalog file.
type Entry struct {
	ID            int64  `yaml:"id"`
	Title         string `yaml:"title"`
	Prompt        string `yaml:"prompt"`
	MaxScore      *int   `yaml:"max_score"`
	StarterBundle string `yaml:"starter_bundle"`
	TestBundle    string `yaml:"test_bundle"`
}

// Catalog is the top-level document.
type Catalog struct {
	Labs []Entry `yaml:"labs"`
}

// LabUpserter is the storage subset Import needs.
type LabUpserter interface {
	UpsertLab(ctx context.Context, l *storage.Lab) error
}

// Load reads a catalog file. Relative bundle paths are resolved against the
// file's directory.
func Load(path string) ([]storage.Lab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving catalog directory: %w", err)
	}

	seen := make(map[int64]bool, len(c.Labs))
	labs := make([]storage.Lab, 0, len(c.Labs))
	for i, e := range c.Labs {
		if e.ID <= 0 {
			return nil, fmt.Errorf("catalog %s: lab #%d: id must be positive", path, i+1)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("catalog %s: duplicate lab id %d", path, e.ID)
		}
		seen[e.ID] = true

		maxScore := storage.DefaultMaxScore
		if e.MaxScore != nil {
			if *e.MaxScore < 0 {
				return nil, fmt.Errorf("catalog %s: lab %d: max_score must not be negative", path, e.ID)
			}
			maxScore = *e.MaxScore
		}

		labs = append(labs, storage.Lab{
			ID:            e.ID,
			Title:         e.Title,
			Prompt:        e.Prompt,
			MaxScore:      maxScore,
			StarterBundle: resolve(base, e.StarterBundle),
			TestBundle:    resolve(base, e.TestBundle),
		})
	}
	return labs, nil
}

// Import loads path and upserts every lab into store. It returns the number
// of labs written.
func Import(ctx context.Context, store LabUpserter, path string) (int, error) {
	labs, err := Load(path)
	if err != nil {
		return 0, err
	}
	for i := range labs {
		if err := store.UpsertLab(ctx, &labs[i]); err != nil {
			return i, fmt.Errorf("importing lab %d: %w", labs[i].ID, err)
		}
	}
	return len(labs), nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
