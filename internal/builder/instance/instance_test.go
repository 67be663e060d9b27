package instance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
definitions:
  - id: panel
    type: panel
    label: Panel
    icon: layout
    acceptsChildren: true
    defaults:
      padding: 8
      style:
        background: white
  - id: button
    type: button
    label: Button
    defaults:
      text: Click me
`

func testStore(t *testing.T) *Store {
	t.Helper()
	cat, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	return NewStore(cat, nil, zerolog.Nop())
}

func TestParseCatalog(t *testing.T) {
	cat, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	defs := cat.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "button", defs[0].ID)
	panel, ok := cat.Definition("panel")
	require.True(t, ok)
	assert.True(t, panel.AcceptsChildren)
	assert.Equal(t, 8, panel.Defaults["padding"])

	_, err = ParseCatalog([]byte("definitions:\n  - id: x\n"))
	assert.Error(t, err, "type is required")
	_, err = ParseCatalog([]byte("definitions:\n  - {id: x, type: a}\n  - {id: x, type: b}\n"))
	assert.Error(t, err, "duplicates are rejected")
}

func TestCreateFromDefinition(t *testing.T) {
	s := testStore(t)

	inst, err := s.CreateFromDefinition("panel", map[string]any{"label": "Sidebar", "padding": 16})
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "panel", inst.Type)
	assert.Equal(t, "Sidebar", inst.Label)
	assert.Equal(t, 16, inst.Overrides["padding"])
	assert.Equal(t, map[string]any{"background": "white"}, inst.Overrides["style"])

	_, err = s.CreateFromDefinition("missing", nil)
	assert.ErrorIs(t, err, ErrDefinitionNotFound)

	got, err := s.Instance(inst.ID)
	require.NoError(t, err)
	got.Overrides["padding"] = 0
	again, _ := s.Instance(inst.ID)
	assert.Equal(t, 16, again.Overrides["padding"], "callers get copies")
}

func TestDefaultsAreNotShared(t *testing.T) {
	s := testStore(t)
	a, err := s.CreateFromDefinition("panel", nil)
	require.NoError(t, err)
	_, err = s.UpdateOverrides(a.ID, map[string]any{"style": map[string]any{"background": "red"}})
	require.NoError(t, err)

	b, err := s.CreateFromDefinition("panel", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"background": "white"}, b.Overrides["style"])
}

func TestCopyPropsIsolatesNestedValues(t *testing.T) {
	assert.Nil(t, copyProps(nil))

	in := map[string]any{
		"style": map[string]any{"background": "white"},
		"items": []any{map[string]any{"x": 1}},
	}
	out := copyProps(in)
	require.Equal(t, in, out)

	out["style"].(map[string]any)["background"] = "red"
	out["items"].([]any)[0].(map[string]any)["x"] = 2
	assert.Equal(t, "white", in["style"].(map[string]any)["background"])
	assert.Equal(t, 1, in["items"].([]any)[0].(map[string]any)["x"])

	s := testStore(t)
	a, err := s.CreateFromDefinition("panel", nil)
	require.NoError(t, err)
	dup, err := s.Duplicate(a.ID)
	require.NoError(t, err)
	dup.Overrides["style"].(map[string]any)["background"] = "black"
	stored, err := s.Instance(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "white", stored.Overrides["style"].(map[string]any)["background"])
}

func TestDeleteAndDuplicate(t *testing.T) {
	s := testStore(t)
	a, _ := s.CreateFromDefinition("panel", nil)
	b, _ := s.CreateFromDefinition("button", nil)
	_, err := s.AddBinding(Binding{SourceID: a.ID, SourceProp: "visible", TargetID: b.ID, TargetProp: "disabled"})
	require.NoError(t, err)

	dup, err := s.Duplicate(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, dup.ID)
	assert.Equal(t, a.Overrides, dup.Overrides)
	assert.Equal(t, a.ID, dup.Metadata["duplicatedFrom"])

	require.NoError(t, s.DeleteInstance(a.ID))
	_, err = s.Instance(a.ID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
	assert.Empty(t, s.Bindings(b.ID), "bindings of deleted instances go away")
	assert.ErrorIs(t, s.DeleteInstance(a.ID), ErrInstanceNotFound)
	_, err = s.Duplicate(a.ID)
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestBindings(t *testing.T) {
	s := testStore(t)
	a, _ := s.CreateFromDefinition("panel", nil)
	b, _ := s.CreateFromDefinition("button", nil)

	_, err := s.AddBinding(Binding{SourceID: a.ID, TargetID: "nope"})
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	bind, err := s.AddBinding(Binding{SourceID: a.ID, SourceProp: "text", TargetID: b.ID, TargetProp: "text", Expression: "upper(text)"})
	require.NoError(t, err)
	assert.Len(t, s.Bindings(a.ID), 1)
	require.NoError(t, s.RemoveBinding(bind.ID))
	assert.ErrorIs(t, s.RemoveBinding(bind.ID), ErrBindingNotFound)
}

func TestResolveInstance(t *testing.T) {
	s := testStore(t)
	a, _ := s.CreateFromDefinition("panel", nil)

	got, err := s.ResolveInstance(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "panel", got.Type)
	assert.Equal(t, "layout", got.Icon)
	assert.True(t, got.AcceptsChildren)

	_, err = s.ResolveInstance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.ResolveInstance(ctx, a.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStateIsNotPersisted(t *testing.T) {
	s := testStore(t)
	a, _ := s.CreateFromDefinition("button", nil)
	require.NoError(t, s.SetState(a.ID, State{Hovered: true}))
	got, _ := s.Instance(a.ID)
	assert.True(t, got.State.Hovered)
	assert.False(t, s.Document().Instances[a.ID].State.Hovered)
	assert.ErrorIs(t, s.SetState("missing", State{}), ErrInstanceNotFound)
}

type recordingPersister struct{ docs []*Document }

func (p *recordingPersister) SaveInstances(_ context.Context, doc *Document) error {
	p.docs = append(p.docs, doc)
	return nil
}

func TestDocumentRoundTrip(t *testing.T) {
	p := &recordingPersister{}
	cat, _ := ParseCatalog([]byte(catalogYAML))
	s := NewStore(cat, p, zerolog.Nop())
	a, _ := s.CreateFromDefinition("panel", nil)
	b, _ := s.CreateFromDefinition("button", map[string]any{"text": "Go"})
	_, err := s.AddBinding(Binding{SourceID: a.ID, TargetID: b.ID})
	require.NoError(t, err)
	require.Len(t, p.docs, 3)

	restored := NewStore(cat, nil, zerolog.Nop())
	require.NoError(t, restored.Load(p.docs[2]))
	assert.Equal(t, s.Document(), restored.Document())
	assert.Equal(t, s.IDs(), restored.IDs())
}

func TestWatchCatalogReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))
	cat, err := LoadCatalog(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchCatalog(ctx, path, cat, zerolog.Nop()))

	next := catalogYAML + "  - id: tabs\n    type: tabs\n    label: Tabs\n"
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))
	require.Eventually(t, func() bool {
		_, ok := cat.Definition("tabs")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("definitions: [oops"), 0o644))
	time.Sleep(50 * time.Millisecond)
	_, ok := cat.Definition("panel")
	assert.True(t, ok, "broken file keeps the previous catalog")
}
