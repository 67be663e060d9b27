package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widget-builder/internal/builder/events"
	"widget-builder/internal/builder/instance"
	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/repository"
	"widget-builder/internal/builder/store"
	"widget-builder/internal/builder/units"
)

const catalogYAML = `
definitions:
  - id: panel
    type: panel
    label: Panel
    acceptsChildren: true
  - id: button
    type: button
    label: Button
    defaults:
      text: OK
`

type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) handle(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, ev.Name)
}

func (r *recorder) take() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.names
	r.names = nil
	return out
}

type fixture struct {
	b   *Builder
	st  *store.Store
	is  *instance.Store
	rec *recorder
}

func newFixture(t *testing.T, docs Documents) *fixture {
	t.Helper()
	cat, err := instance.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	is := instance.NewStore(cat, nil, zerolog.Nop())
	st := store.New(
		store.WithResolver(is),
		store.WithResizeDelay(time.Hour),
		store.WithRetry(2, time.Millisecond),
	)
	t.Cleanup(st.Close)
	bus := events.NewBus()
	rec := &recorder{}
	bus.Subscribe(events.All, rec.handle)
	return &fixture{b: NewBuilder(st, is, bus, docs, zerolog.Nop()), st: st, is: is, rec: rec}
}

func (f *fixture) widget(t *testing.T, name string) string {
	t.Helper()
	w := f.b.CreateWidget(name, units.Pos(0, 0), models.DisplayCanvas)
	f.st.SetEditMode(w.ID, true)
	return w.ID
}

func (f *fixture) add(t *testing.T, widgetID, def, parentID string) *models.WidgetComponent {
	t.Helper()
	c, err := f.b.CreateComponent(widgetID, def, CreateOptions{ParentID: parentID})
	require.NoError(t, err)
	return c
}

func TestCreateComponent(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	f.rec.take()

	p := f.add(t, w, "panel", "")
	assert.Equal(t, []string{events.ComponentAdded, events.HierarchyChanged}, f.rec.take())

	session := f.b.Selection().Issue()
	btn, err := f.b.CreateComponent(w, "button", CreateOptions{
		ParentID:  p.ID,
		Overrides: map[string]any{"label": "Save"},
		SelectFor: session,
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, btn.ParentID)

	inst, err := f.is.Instance(btn.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, "Save", inst.Label)
	assert.Equal(t, "OK", inst.Overrides["text"])

	sel, ok := f.b.Selected(session)
	require.True(t, ok)
	assert.Equal(t, btn.ID, sel.ComponentID)
}

func TestCreateComponentRollsBackInstance(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")

	_, err := f.b.CreateComponent(w, "button", CreateOptions{ParentID: "missing"})
	assert.ErrorIs(t, err, store.ErrParentNotFound)
	assert.Empty(t, f.is.IDs(), "instance must not leak")

	_, err = f.b.CreateComponent("nope", "button", CreateOptions{})
	assert.ErrorIs(t, err, store.ErrWidgetNotFound)
	assert.Empty(t, f.is.IDs())

	_, err = f.b.CreateComponent(w, "slider", CreateOptions{})
	assert.ErrorIs(t, err, instance.ErrDefinitionNotFound)
}

func TestDeleteComponentReleasesSubtree(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	p := f.add(t, w, "panel", "")
	c := f.add(t, w, "button", p.ID)
	other := f.add(t, w, "button", "")

	session := f.b.Selection().Issue()
	require.NoError(t, f.b.Select(session, w, c.ID))

	require.NoError(t, f.b.DeleteComponent(w, p.ID))
	assert.Nil(t, f.st.FindComponent(w, p.ID))
	assert.Nil(t, f.st.FindComponent(w, c.ID))
	assert.Equal(t, []string{other.InstanceID}, f.is.IDs())

	_, ok := f.b.Selected(session)
	assert.False(t, ok, "selection of a deleted component is released")

	assert.ErrorIs(t, f.b.DeleteComponent(w, p.ID), store.ErrComponentNotFound)
}

func TestRemoveComponentPromoteKeepsChildren(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	p := f.add(t, w, "panel", "")
	c := f.add(t, w, "button", p.ID)

	removed, err := f.b.RemoveComponent(w, p.ID, store.PromoteChildren)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, removed)

	got := f.st.FindComponent(w, c.ID)
	require.NotNil(t, got)
	assert.True(t, got.IsRoot())
	_, err = f.is.Instance(c.InstanceID)
	assert.NoError(t, err)
	_, err = f.is.Instance(p.InstanceID)
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)
}

func TestMoveComponentRejectsCycle(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	p := f.add(t, w, "panel", "")
	inner := f.add(t, w, "panel", p.ID)
	before := f.st.Document()
	f.rec.take()

	err := f.b.MoveComponent(w, p.ID, inner.ID)
	assert.ErrorIs(t, err, store.ErrCycle)
	assert.Equal(t, before, f.st.Document())
	assert.Empty(t, f.rec.take())

	require.NoError(t, f.b.MoveComponent(w, inner.ID, ""))
	assert.True(t, f.st.FindComponent(w, inner.ID).IsRoot())
	assert.Equal(t, []string{events.ComponentMoved, events.HierarchyChanged}, f.rec.take())
}

func TestRelocateKeepsInstances(t *testing.T) {
	f := newFixture(t, nil)
	src := f.widget(t, "A")
	dst := f.widget(t, "B")
	p := f.add(t, src, "panel", "")
	c := f.add(t, src, "button", p.ID)

	require.NoError(t, f.b.RelocateComponent(src, p.ID, dst, ""))
	assert.Empty(t, f.st.Widget(src).Components)
	moved := f.st.FindComponent(dst, c.ID)
	require.NotNil(t, moved)
	assert.Equal(t, c.InstanceID, moved.InstanceID)
	assert.Equal(t, p.ID, moved.ParentID)
	assert.Len(t, f.is.IDs(), 2)
}

func TestRelocateReleasesDescendantSelection(t *testing.T) {
	f := newFixture(t, nil)
	src := f.widget(t, "A")
	dst := f.widget(t, "B")
	p := f.add(t, src, "panel", "")
	c := f.add(t, src, "button", p.ID)

	session := f.b.Selection().Issue()
	require.NoError(t, f.b.Select(session, src, c.ID))

	require.NoError(t, f.b.RelocateComponent(src, p.ID, dst, ""))
	assert.Nil(t, f.st.FindComponent(src, c.ID))
	_, ok := f.b.Selected(session)
	assert.False(t, ok, "selection of a relocated child must be released")

	assert.ErrorIs(t, f.b.RelocateComponent(src, "ghost", dst, ""), store.ErrComponentNotFound)
}

func TestCopyComponentToWidget(t *testing.T) {
	f := newFixture(t, nil)
	src := f.widget(t, "A")
	dst := f.widget(t, "B")
	p := f.add(t, src, "panel", "")
	c := f.add(t, src, "button", p.ID)
	target := f.add(t, dst, "panel", "")

	m, err := f.b.CopyComponentToWidget(src, p.ID, dst, target.ID)
	require.NoError(t, err)
	require.Len(t, m, 2)

	gotP := f.st.FindComponent(dst, p.ID)
	gotC := f.st.FindComponent(dst, c.ID)
	require.NotNil(t, gotP)
	require.NotNil(t, gotC)
	assert.Equal(t, target.ID, gotP.ParentID)
	assert.Equal(t, p.ID, gotC.ParentID)
	assert.Equal(t, m[p.InstanceID], gotP.InstanceID)
	assert.Equal(t, m[c.InstanceID], gotC.InstanceID)

	for old, repl := range m {
		_, err := f.is.Instance(old)
		assert.ErrorIs(t, err, instance.ErrInstanceNotFound, "old instance released")
		inst, err := f.is.Instance(repl)
		require.NoError(t, err)
		assert.Equal(t, old, inst.Metadata["duplicatedFrom"])
	}
	assert.NoError(t, f.st.Validate())
}

func TestCopyComponentToWidgetFailureCleansUp(t *testing.T) {
	f := newFixture(t, nil)
	src := f.widget(t, "A")
	dst := f.widget(t, "B")
	p := f.add(t, src, "panel", "")
	f.add(t, src, "button", p.ID)
	before := f.is.IDs()

	_, err := f.b.CopyComponentToWidget(src, p.ID, dst, "missing-parent")
	assert.ErrorIs(t, err, store.ErrParentNotFound)
	assert.Equal(t, before, f.is.IDs(), "duplicates removed after failed move")
	assert.Len(t, f.st.Widget(src).Components, 2)

	_, err = f.b.CopyComponentToWidget(src, p.ID, src, "")
	assert.ErrorIs(t, err, ErrSameWidget)
}

func TestReorderComponents(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	a := f.add(t, w, "button", "")
	b := f.add(t, w, "button", "")
	c := f.add(t, w, "button", "")

	require.NoError(t, f.b.ReorderComponents(w, w, c.ID, a.ID, store.Before))
	order, err := f.st.SiblingOrder(w, w)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID, a.ID, b.ID}, order)

	p := f.add(t, w, "panel", "")
	inner := f.add(t, w, "button", p.ID)
	err = f.b.ReorderComponents(w, w, a.ID, inner.ID, store.After)
	assert.ErrorIs(t, err, store.ErrTargetNotFound)
	assert.ErrorIs(t, f.b.ReorderComponents(w, w, "ghost", a.ID, store.After), store.ErrComponentNotFound)
}

func TestDeleteWidgetReleasesInstances(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	keep := f.widget(t, "Other")
	f.add(t, w, "panel", "")
	k := f.add(t, keep, "button", "")
	f.rec.take()

	require.NoError(t, f.b.DeleteWidget(w))
	assert.Equal(t, []string{k.InstanceID}, f.is.IDs())
	assert.Equal(t, []string{events.WidgetDeleted, events.HierarchyChanged}, f.rec.take())
	assert.ErrorIs(t, f.b.DeleteWidget(w), store.ErrWidgetNotFound)
}

func TestUpdateWidgetAndComponent(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	c := f.add(t, w, "button", "")
	f.rec.take()

	name := "Renamed"
	got, err := f.b.UpdateWidget(w, store.WidgetPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	size := units.Sz(200, 50)
	comp, err := f.b.UpdateComponent(w, c.ID, store.ComponentPatch{Size: &size})
	require.NoError(t, err)
	assert.Equal(t, size, comp.Size)
	assert.Equal(t, []string{events.WidgetUpdated, events.ComponentUpdated}, f.rec.take())

	_, err = f.b.UpdateWidget("nope", store.WidgetPatch{Name: &name})
	assert.ErrorIs(t, err, store.ErrWidgetNotFound)
}

func TestHierarchyScenario(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Test")
	pos := units.Pos(10, 10)
	a, err := f.b.CreateComponent(w, "panel", CreateOptions{Position: &pos})
	require.NoError(t, err)
	b := f.add(t, w, "button", a.ID)

	tree, err := f.b.Hierarchy(context.Background(), w, store.HierarchyOptions{})
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, store.KindWidget, tree[0].Kind)
	require.Len(t, tree[0].Children, 1)
	nodeA := tree[0].Children[0]
	assert.Equal(t, "panel", nodeA.Type)
	assert.True(t, nodeA.CanDrop)
	require.Len(t, nodeA.Children, 1)
	assert.Equal(t, b.ID, nodeA.Children[0].Data.ComponentID)

	assert.Equal(t, []string{b.ID}, f.st.FindComponent(w, a.ID).ChildIDs)
}

func TestSelectUnknownComponent(t *testing.T) {
	f := newFixture(t, nil)
	w := f.widget(t, "Main")
	session := f.b.Selection().Issue()
	assert.ErrorIs(t, f.b.Select(session, w, "ghost"), store.ErrComponentNotFound)

	c := f.add(t, w, "button", "")
	require.NoError(t, f.b.Select(session, w, c.ID))
	f.b.Deselect(session)
	_, ok := f.b.Selected(session)
	assert.False(t, ok)
}

// ============================================================
// Persistence
// ============================================================

type memDocs struct {
	registry  *store.Document
	instances *instance.Document
	failLoad  error
}

func (m *memDocs) LoadRegistry(context.Context) (*store.Document, error) {
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	if m.registry == nil {
		return nil, fmt.Errorf("%w: registry", repository.ErrDocumentNotFound)
	}
	return m.registry, nil
}

func (m *memDocs) LoadInstances(context.Context) (*instance.Document, error) {
	if m.instances == nil {
		return nil, fmt.Errorf("%w: instances", repository.ErrDocumentNotFound)
	}
	return m.instances, nil
}

func (m *memDocs) SaveRegistry(_ context.Context, doc *store.Document) error {
	m.registry = doc
	return nil
}

func (m *memDocs) SaveInstances(_ context.Context, doc *instance.Document) error {
	m.instances = doc
	return nil
}

func TestPersistRestore(t *testing.T) {
	ctx := context.Background()
	docs := &memDocs{}

	empty := newFixture(t, docs)
	require.NoError(t, empty.b.Restore(ctx), "missing documents are not an error")

	f := newFixture(t, docs)
	w := f.widget(t, "Main")
	p := f.add(t, w, "panel", "")
	c := f.add(t, w, "button", p.ID)
	require.NoError(t, f.b.Persist(ctx))

	g := newFixture(t, docs)
	require.NoError(t, g.b.Restore(ctx))
	got := g.st.FindComponent(w, c.ID)
	require.NotNil(t, got)
	assert.Equal(t, p.ID, got.ParentID)
	_, err := g.is.Instance(c.InstanceID)
	assert.NoError(t, err)

	bad := newFixture(t, &memDocs{failLoad: repository.ErrIncompatibleSchema, instances: &instance.Document{}})
	assert.ErrorIs(t, bad.b.Restore(ctx), repository.ErrIncompatibleSchema)
}
