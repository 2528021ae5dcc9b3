// Package artifact stores stage outputs as files under one directory per
// project. Every write goes to a temp file first and is renamed into place,
// so a repeated or interrupted stage never leaves a half-written artifact.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Well-known artifact names inside a project directory.
const (
	IdeaFile     = "idea.json"
	ScriptFile   = "script.txt"
	VoiceFile    = "voiceover.mp3"
	FootageDir   = "footage"
	AssemblyFile = "final.mp4"
	MetadataFile = "metadata.json"
	StateFile    = "project.json"
)

// Store is a directory of project directories.
type Store struct {
	root string
}

// New returns a Store rooted at root. The directory is created lazily.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the base directory.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory of a project.
func (s *Store) Dir(projectID string) string {
	return filepath.Join(s.root, projectID)
}

// Path returns the locator of name inside a project directory.
func (s *Store) Path(projectID, name string) string {
	return filepath.Join(s.Dir(projectID), filepath.FromSlash(name))
}

// WriteFile atomically writes data to name and returns its locator.
func (s *Store) WriteFile(projectID, name string, data []byte) (string, error) {
	return s.write(projectID, name, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WriteFrom atomically copies r to name and returns its locator.
func (s *Store) WriteFrom(projectID, name string, r io.Reader) (string, error) {
	return s.write(projectID, name, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// WriteJSON atomically writes v as indented JSON.
func (s *Store) WriteJSON(projectID, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}
	return s.WriteFile(projectID, name, append(data, '\n'))
}

// Stage returns a temp path next to name for tools that write their own
// output (ffmpeg). Commit moves it into place; harmless to call Discard
// after Commit.
func (s *Store) Stage(projectID, name string) (*Pending, error) {
	final := s.Path(projectID, name)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(final), "."+filepath.Base(final)+".*"+filepath.Ext(final))
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()
	return &Pending{TempPath: tmp, FinalPath: final}, nil
}

// Pending is an artifact being produced by an external tool.
type Pending struct {
	TempPath  string
	FinalPath string
}

// Commit renames the temp file into place and returns the final locator.
func (p *Pending) Commit() (string, error) {
	if err := os.Rename(p.TempPath, p.FinalPath); err != nil {
		return "", fmt.Errorf("committing %s: %w", filepath.Base(p.FinalPath), err)
	}
	return p.FinalPath, nil
}

// Discard removes the temp file if it still exists.
func (p *Pending) Discard() {
	os.Remove(p.TempPath)
}

func (s *Store) write(projectID, name string, fill func(w io.Writer) error) (string, error) {
	p, err := s.Stage(projectID, name)
	if err != nil {
		return "", err
	}
	defer p.Discard()

	f, err := os.OpenFile(p.TempPath, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("opening temp file: %w", err)
	}
	if err := fill(f); err != nil {
		f.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	return p.Commit()
}

// ReadFile reads an artifact by locator. Locators outside the store are
// rejected.
func (s *Store) ReadFile(ref string) ([]byte, error) {
	if err := s.contains(ref); err != nil {
		return nil, err
	}
	return os.ReadFile(ref)
}

// Remove deletes one artifact. Missing files are not an error.
func (s *Store) Remove(ref string) error {
	if ref == "" {
		return nil
	}
	if err := s.contains(ref); err != nil {
		return err
	}
	if err := os.RemoveAll(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveProject deletes the whole project directory.
func (s *Store) RemoveProject(projectID string) error {
	if projectID == "" || strings.ContainsAny(projectID, `/\`) {
		return fmt.Errorf("invalid project id %q", projectID)
	}
	return os.RemoveAll(s.Dir(projectID))
}

func (s *Store) contains(ref string) error {
	rel, err := filepath.Rel(s.root, ref)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("artifact %q is outside %s", ref, s.root)
	}
	return nil
}
