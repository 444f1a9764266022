// Package artifacts owns the per-bill directory layout and the JSON
// envelopes stages use to hand results forward. Every artifact is written
// through a temp file and rename, so a crashed job never leaves a
// half-written file for the next run to trip over.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fiscal_notes/pkg/models"
)

// Store maps bill IDs to their artifact paths under one root directory
// (BILLS_ROOT, default "bills").
type Store struct {
	root string
}

func NewStore(root string) *Store {
	if root == "" {
		root = "bills"
	}
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

// BillDir is bills/{id}.
func (s *Store) BillDir(bill string) string {
	return filepath.Join(s.root, bill)
}

// EnsureBillDir creates the bill directory tree.
func (s *Store) EnsureBillDir(bill string) (string, error) {
	dir := s.BillDir(bill)
	for _, d := range []string{dir, filepath.Join(dir, "documents"), filepath.Join(dir, "notes")} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return "", fmt.Errorf("create bill directory: %w", err)
		}
	}
	return dir, nil
}

func (s *Store) ScrapePath(bill string) string {
	return filepath.Join(s.BillDir(bill), bill+".json")
}

func (s *Store) ChronologyPath(bill string) string {
	return filepath.Join(s.BillDir(bill), bill+"_chronological.json")
}

func (s *Store) DocumentsDir(bill string) string {
	return filepath.Join(s.BillDir(bill), "documents")
}

func (s *Store) NumbersPath(bill string) string {
	return filepath.Join(s.BillDir(bill), "numbers.json")
}

func (s *Store) RetrievalLogPath(bill string) string {
	return filepath.Join(s.BillDir(bill), "retrieval_log.json")
}

func (s *Store) NotesDir(bill string) string {
	return filepath.Join(s.BillDir(bill), "notes")
}

func (s *Store) NotePath(bill, doc string) string {
	return filepath.Join(s.NotesDir(bill), doc+".json")
}

func (s *Store) NoteMetadataPath(bill, doc string) string {
	return filepath.Join(s.NotesDir(bill), doc+"_metadata.json")
}

func (s *Store) AttributionsPath(bill, doc string) string {
	return filepath.Join(s.NotesDir(bill), doc+"_attributions.json")
}

func (s *Store) MappingPath(bill string) string {
	return filepath.Join(s.BillDir(bill), "document_mapping.json")
}

func (s *Store) ChangesPath(bill string) string {
	return filepath.Join(s.BillDir(bill), "changes.json")
}

// ListNotes returns the checkpoint document names with a stored note,
// sorted lexically. Metadata and attribution companions are skipped.
func (s *Store) ListNotes(bill string) ([]string, error) {
	entries, err := os.ReadDir(s.NotesDir(bill))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") ||
			strings.HasSuffix(name, "_metadata.json") ||
			strings.HasSuffix(name, "_attributions.json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// WriteJSON writes v as indented JSON through a temp file and rename.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON loads one artifact into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Exists reports whether an artifact has been written. Stage progress is
// inferred from artifact presence, never from extra state files.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NoteSink persists generated notes as they are emitted, backing the
// generator's Sink interface with the bill's notes directory.
type NoteSink struct {
	store *Store
	bill  string
}

func (s *Store) NoteSink(bill string) *NoteSink {
	return &NoteSink{store: s, bill: bill}
}

func (ns *NoteSink) EmitNote(checkpoint string, note *models.FiscalNote, meta *models.NoteMetadata) error {
	if err := WriteJSON(ns.store.NotePath(ns.bill, checkpoint), note); err != nil {
		return err
	}
	return WriteJSON(ns.store.NoteMetadataPath(ns.bill, checkpoint), meta)
}
