package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveIntoOwnDescendantIsRejected(t *testing.T) {
	s := newTestStore(t)
	w := editWidget(t, s, "Test")
	r, p, c1, _, g := family(t, s, w.ID)
	before := s.Document()

	assert.False(t, s.MoveComponent(w.ID, p, g, "", nil))
	assert.False(t, s.MoveComponent(w.ID, p, c1, "", nil))
	assert.False(t, s.MoveComponent(w.ID, p, p, "", nil))
	assert.ErrorIs(t, s.Move(MoveRequest{SourceWidgetID: w.ID, ComponentID: r, NewParentID: g}), ErrCycle)

	if diff := cmp.Diff(before, s.Document()); diff != "" {
		t.Errorf("state changed by rejected move:\n%s", diff)
	}
}

func TestMoveWithinWidget(t *testing.T) {
	s := newTestStore(t)
	w := editWidget(t, s, "Test")
	r, p, c1, c2, g := family(t, s, w.ID)

	require.True(t, s.MoveComponent(w.ID, c1, r, "", nil))
	assert.Equal(t, []string{p, c1}, s.FindComponent(w.ID, r).ChildIDs)
	assert.Equal(t, []string{c2}, s.FindComponent(w.ID, p).ChildIDs)
	assert.Equal(t, c1, s.FindComponent(w.ID, g).ParentID, "subtree travels with its root")
	assert.Equal(t, 0, s.FindComponent(w.ID, c2).ZIndex, "old siblings are renumbered")

	require.True(t, s.MoveComponent(w.ID, c1, "", "", nil))
	roots, err := s.SiblingOrder(w.ID, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{r, c1}, roots)
	require.NoError(t, s.Validate())
}

func TestMoveValidation(t *testing.T) {
	s := newTestStore(t)
	w := editWidget(t, s, "Test")
	_, p, _, _, _ := family(t, s, w.ID)

	assert.ErrorIs(t, s.Move(MoveRequest{SourceWidgetID: "x", ComponentID: p}), ErrWidgetNotFound)
	assert.ErrorIs(t, s.Move(MoveRequest{SourceWidgetID: w.ID, ComponentID: p, DestinationWidgetID: "x"}), ErrWidgetNotFound)
	assert.ErrorIs(t, s.Move(MoveRequest{SourceWidgetID: w.ID, ComponentID: "x"}), ErrComponentNotFound)
	assert.ErrorIs(t, s.Move(MoveRequest{SourceWidgetID: w.ID, ComponentID: p, NewParentID: "x"}), ErrParentNotFound)
}

func TestMoveSubtreeAcrossWidgets(t *testing.T) {
	s := newTestStore(t)
	src := editWidget(t, s, "Source")
	dst := editWidget(t, s, "Destination")
	r, p, c1, c2, g := family(t, s, src.ID)
	host := mustAdd(t, s, dst.ID, "panel-host")

	require.True(t, s.MoveComponent(src.ID, p, host.ID, dst.ID, nil))

	source := s.Widget(src.ID)
	require.Len(t, source.Components, 1)
	assert.Equal(t, r, source.Components[0].ID)
	assert.Empty(t, source.Components[0].ChildIDs, "no stale childIds left in source")

	assert.Equal(t, host.ID, s.FindComponent(dst.ID, p).ParentID)
	assert.Equal(t, []string{p}, s.FindComponent(dst.ID, host.ID).ChildIDs)
	assert.Equal(t, []string{c1, c2}, s.FindComponent(dst.ID, p).ChildIDs)
	assert.Equal(t, c1, s.FindComponent(dst.ID, g).ParentID)
	for _, id := range []string{p, c1, c2, g} {
		assert.Nil(t, s.FindComponent(src.ID, id))
	}
	_, wid := s.FindComponentByInstanceID("button-g")
	assert.Equal(t, dst.ID, wid)
	require.NoError(t, s.Validate())
}

func TestMoveAcrossWidgetsRemapsInstances(t *testing.T) {
	s := newTestStore(t)
	src := editWidget(t, s, "Source")
	dst := editWidget(t, s, "Destination")
	_, p, c1, c2, _ := family(t, s, src.ID)

	m := map[string]string{"panel-p": "panel-p2", "panel-c1": "panel-c12"}
	require.True(t, s.MoveComponent(src.ID, p, "", dst.ID, m))
	assert.Equal(t, "panel-p2", s.FindComponent(dst.ID, p).InstanceID)
	assert.Equal(t, "panel-c12", s.FindComponent(dst.ID, c1).InstanceID)
	assert.Equal(t, "button-c2", s.FindComponent(dst.ID, c2).InstanceID, "unmapped instances keep their id")
	require.NoError(t, s.Validate())
}

func TestMoveAcrossWidgetsRejectsSharedInstance(t *testing.T) {
	s := newTestStore(t)
	src := editWidget(t, s, "Source")
	dst := editWidget(t, s, "Destination")
	_, p, _, _, _ := family(t, s, src.ID)
	mustAdd(t, s, dst.ID, "panel-taken")
	before := s.Document()

	err := s.Move(MoveRequest{
		SourceWidgetID:      src.ID,
		ComponentID:         p,
		DestinationWidgetID: dst.ID,
		InstanceMap:         map[string]string{"panel-p": "panel-taken"},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	if diff := cmp.Diff(before, s.Document()); diff != "" {
		t.Errorf("state changed by rejected move:\n%s", diff)
	}
}
