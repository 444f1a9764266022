package prompt

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadFromDirectory replaces built-in templates with JSON files from dir.
// Every *.json file decodes as one PromptTemplate; when the file omits an
// "id", the filename (sans extension, dots for separators) is used, so
// "fiscal.note.json" overrides the built-in fiscal.note template.
func LoadFromDirectory(dir string) error {
	registry := Get()

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("prompts directory not found: %s", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("prompts path is not a directory: %s", dir)
	}

	loaded := 0
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		var pt PromptTemplate
		if err := json.Unmarshal(data, &pt); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if pt.ID == "" {
			pt.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		if err := registry.Register(&pt); err != nil {
			return err
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Printf("[prompt] Loaded %d template override(s) from %s\n", loaded, dir)
	return nil
}
