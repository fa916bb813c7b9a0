package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s
}

func TestStore_SaveAndGet(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Persona{Name: "sage", Prompt: "You are wise."}))

	p, ok, err := s.Get("sage")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "You are wise.", p.Prompt)
}

func TestStore_GetUnknownReturnsNotOK(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SaveUpdatesExisting(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Persona{Name: "sage", Prompt: "v1"}))
	require.NoError(t, s.Save(Persona{Name: "sage", Prompt: "v2"}))

	personas, err := s.List()
	require.NoError(t, err)
	require.Len(t, personas, 1)
	assert.Equal(t, "v2", personas[0].Prompt)
}

func TestStore_DeleteClearsActiveSelection(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Persona{Name: "sage", Prompt: "p"}))
	require.NoError(t, s.SetActive("sage"))

	require.NoError(t, s.Delete("sage"))

	_, ok, err := s.Active()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ActiveRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(Persona{Name: "sage", Prompt: "You are wise.", History: "prior chat"}))
	require.NoError(t, s.SetActive("sage"))

	active, ok, err := s.Active()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sage", active.Name)
	assert.Equal(t, "You are wise.\nprior chat", active.SystemMessage())
}

func TestStore_NoActivePersonaByDefault(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Active()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SeedFromYAMLBootstrapsOnce(t *testing.T) {
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedPath, []byte(`
- name: default
  prompt: You are a helpful assistant.
- name: pirate
  prompt: You speak like a pirate.
`), 0o644))

	s, err := New(filepath.Join(dir, "data"))
	require.NoError(t, err)
	require.NoError(t, s.SeedFromYAML(seedPath))

	personas, err := s.List()
	require.NoError(t, err)
	require.Len(t, personas, 2)

	// A second seed call must not clobber a user-added persona.
	require.NoError(t, s.Save(Persona{Name: "custom", Prompt: "custom prompt"}))
	require.NoError(t, s.SeedFromYAML(seedPath))
	personas, err = s.List()
	require.NoError(t, err)
	assert.Len(t, personas, 3)
}

func TestStore_SeedFromYAMLMissingFileIsNotError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.SeedFromYAML(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestPersona_SystemMessageWithoutHistory(t *testing.T) {
	p := Persona{Prompt: "Be concise."}
	assert.Equal(t, "Be concise.", p.SystemMessage())
}
