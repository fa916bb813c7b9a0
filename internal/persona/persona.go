// Package persona persists the orchestrator's persona definitions and
// active-persona selection under the data root (spec.md §6.4). Personas
// are read fresh on every chat call (never cached across requests) so
// edits to the persona files take effect immediately, per spec.md §9's
// "persona application" design note.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Persona is one named persona definition. Prompt is prepended to chat
// calls as a system message; Voice names a TTS voice sample path (out of
// core, per spec.md §4.6); History is free-form prior context the UI may
// have accumulated for this persona.
type Persona struct {
	Name    string `json:"name" yaml:"name"`
	Prompt  string `json:"prompt" yaml:"prompt"`
	Voice   string `json:"voice,omitempty" yaml:"voice,omitempty"`
	History string `json:"history,omitempty" yaml:"history,omitempty"`
}

// SystemMessage renders the {role:"system", content: prompt + "\n" + history}
// shape spec.md §4.6 requires for persona injection.
func (p Persona) SystemMessage() string {
	if p.History == "" {
		return p.Prompt
	}
	return p.Prompt + "\n" + p.History
}

// Store persists personas.json and active_persona.json under dataPath,
// grounded on the teacher's config.Load pattern of a file-backed store with
// an in-memory mutex guarding concurrent access (internal/config/loader.go's
// viper-free env/file hybrid, adapted here to a pure JSON file store since
// spec.md §6.4 names these as JSON files explicitly).
type Store struct {
	mu           sync.RWMutex
	personasPath string
	activePath   string
}

// New returns a Store rooted at dataPath, creating the directory if absent.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("persona: create data path: %w", err)
	}
	return &Store{
		personasPath: filepath.Join(dataPath, "personas.json"),
		activePath:   filepath.Join(dataPath, "active_persona.json"),
	}, nil
}

// SeedFromYAML loads a bundled YAML persona pack (shipped alongside the
// binary, grounded on the teacher's config.yaml asset-bundling convention)
// and writes it to personas.json if and only if personas.json does not yet
// exist — a one-time bootstrap of built-in personas, not an ongoing config
// source. Absence of the seed file is not an error.
func (s *Store) SeedFromYAML(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.personasPath); err == nil {
		return nil // personas.json already exists; never overwrite user edits
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persona: read seed %q: %w", path, err)
	}
	var seeded []Persona
	if err := yaml.Unmarshal(data, &seeded); err != nil {
		return fmt.Errorf("persona: parse seed %q: %w", path, err)
	}
	return s.writePersonasLocked(seeded)
}

// List returns every known persona.
func (s *Store) List() ([]Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readPersonasLocked()
}

// Get returns the persona named name, or ok=false if unknown.
func (s *Store) Get(name string) (Persona, bool, error) {
	personas, err := s.List()
	if err != nil {
		return Persona{}, false, err
	}
	for _, p := range personas {
		if p.Name == name {
			return p, true, nil
		}
	}
	return Persona{}, false, nil
}

// Save inserts or updates p by name.
func (s *Store) Save(p Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	personas, err := s.readPersonasLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range personas {
		if existing.Name == p.Name {
			personas[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		personas = append(personas, p)
	}
	return s.writePersonasLocked(personas)
}

// Delete removes the persona named name. It also clears the active
// selection if it pointed at name.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	personas, err := s.readPersonasLocked()
	if err != nil {
		return err
	}
	out := personas[:0]
	for _, p := range personas {
		if p.Name != name {
			out = append(out, p)
		}
	}
	if err := s.writePersonasLocked(out); err != nil {
		return err
	}
	active, err := s.readActiveLocked()
	if err == nil && active == name {
		return s.writeActiveLocked("")
	}
	return nil
}

// Active returns the currently active persona, or ok=false if none is set
// or the selection points at a persona that no longer exists.
func (s *Store) Active() (Persona, bool, error) {
	s.mu.RLock()
	name, err := s.readActiveLocked()
	s.mu.RUnlock()
	if err != nil || name == "" {
		return Persona{}, false, err
	}
	return s.Get(name)
}

// SetActive selects name as the active persona. An empty name clears the
// selection (persona injection becomes a no-op).
func (s *Store) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeActiveLocked(name)
}

func (s *Store) readPersonasLocked() ([]Persona, error) {
	data, err := os.ReadFile(s.personasPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persona: read personas.json: %w", err)
	}
	var personas []Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("persona: parse personas.json: %w", err)
	}
	return personas, nil
}

func (s *Store) writePersonasLocked(personas []Persona) error {
	data, err := json.MarshalIndent(personas, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode personas.json: %w", err)
	}
	return os.WriteFile(s.personasPath, data, 0o644)
}

type activeSelection struct {
	Name string `json:"name"`
}

func (s *Store) readActiveLocked() (string, error) {
	data, err := os.ReadFile(s.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("persona: read active_persona.json: %w", err)
	}
	var sel activeSelection
	if err := json.Unmarshal(data, &sel); err != nil {
		return "", fmt.Errorf("persona: parse active_persona.json: %w", err)
	}
	return sel.Name, nil
}

func (s *Store) writeActiveLocked(name string) error {
	data, err := json.MarshalIndent(activeSelection{Name: name}, "", "  ")
	if err != nil {
		return fmt.Errorf("persona: encode active_persona.json: %w", err)
	}
	return os.WriteFile(s.activePath, data, 0o644)
}
