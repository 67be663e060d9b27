package store

import (
	"fmt"
	"slices"
)

// ============================================================
// Placement: reorder / restructure
// ============================================================

type DropPosition string

const (
	Before DropPosition = "before"
	After  DropPosition = "after"
)

// ReorderComponents ставит componentID непосредственно до или после
// targetID внутри containerID (containerID == widgetID означает корень).
// Если компонент лежит в другом контейнере, он сначала переносится туда.
// Ненайденные компонент или цель оставляют состояние без изменений.
func (s *Store) ReorderComponents(widgetID, containerID, componentID, targetID string, pos DropPosition) {
	if err := s.Reorder(widgetID, containerID, componentID, targetID, pos); err != nil {
		s.log.Warn().Err(err).Str("widget", widgetID).Str("component", componentID).Msg("reorder rejected")
	}
}

func (s *Store) Reorder(widgetID, containerID, componentID, targetID string, pos DropPosition) error {
	if pos != Before && pos != After {
		return fmt.Errorf("%w: drop position %q", ErrInvalidArgument, pos)
	}
	if componentID == targetID {
		return fmt.Errorf("%w: component and target are the same", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	parentID := containerID
	if containerID == widgetID {
		parentID = ""
	}
	comp := w.Component(componentID)
	if comp == nil {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}
	target := w.Component(targetID)
	if target == nil || target.ParentID != parentID {
		return fmt.Errorf("%w: %s in container %s", ErrTargetNotFound, targetID, containerID)
	}
	if parentID != "" && isAncestor(w, componentID, parentID) {
		return fmt.Errorf("%w: %s into %s", ErrCycle, componentID, parentID)
	}

	order := removeID(siblingIDs(w, parentID), componentID)
	at := slices.Index(order, targetID)
	if pos == After {
		at++
	}
	order = slices.Insert(order, at, componentID)

	reparented := comp.ParentID != parentID
	if reparented {
		// старая группа соседей уплотняется в normalize
		comp.ParentID = parentID
	}
	applyOrder(w, order)
	normalize(w)
	s.log.Debug().Str("widget", widgetID).Str("component", componentID).Str("target", targetID).
		Str("position", string(pos)).Bool("reparented", reparented).Msg("components reordered")
	s.persistLocked()
	return nil
}

// SiblingOrder возвращает id соседей внутри containerID в текущем порядке.
func (s *Store) SiblingOrder(widgetID, containerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	parentID := containerID
	if containerID == widgetID {
		parentID = ""
	}
	if parentID != "" && w.Component(parentID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}
	return siblingIDs(w, parentID), nil
}

// LayoutEntry задаёт родителя и позицию компонента среди соседей.
type LayoutEntry struct {
	ComponentID string
	ParentID    string
	Index       int
}

// RestructureStats считает изменения, внесённые Restructure.
type RestructureStats struct {
	Moved     int
	Reordered int
}

// Restructure применяет раскладку целиком: все записи проверяются
// (существование, отсутствие циклов) до изменения состояния. Компоненты,
// не упомянутые в entries, сохраняют родителя и идут после упомянутых.
func (s *Store) Restructure(widgetID string, entries []LayoutEntry) (RestructureStats, error) {
	var stats RestructureStats
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return stats, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}

	parents := make(map[string]string, len(w.Components))
	for _, c := range w.Components {
		parents[c.ID] = c.ParentID
	}
	listed := make(map[string]LayoutEntry, len(entries))
	for _, e := range entries {
		if _, ok := parents[e.ComponentID]; !ok {
			return stats, fmt.Errorf("%w: %s", ErrComponentNotFound, e.ComponentID)
		}
		if e.ParentID != "" {
			if _, ok := parents[e.ParentID]; !ok {
				return stats, fmt.Errorf("%w: %s", ErrParentNotFound, e.ParentID)
			}
		}
		if _, dup := listed[e.ComponentID]; dup {
			return stats, fmt.Errorf("%w: component %s listed twice", ErrInvalidArgument, e.ComponentID)
		}
		listed[e.ComponentID] = e
	}
	next := make(map[string]string, len(parents))
	for id, p := range parents {
		next[id] = p
		if e, ok := listed[id]; ok {
			next[id] = e.ParentID
		}
	}
	for id := range next {
		steps := 0
		for p := next[id]; p != ""; p = next[p] {
			if p == id || steps > len(next) {
				return stats, fmt.Errorf("%w: %s", ErrCycle, id)
			}
			steps++
		}
	}

	before := make(map[string]int, len(w.Components))
	for _, c := range w.Components {
		before[c.ID] = c.ZIndex
	}
	groups := make(map[string][]string)
	for _, e := range entries {
		groups[e.ParentID] = append(groups[e.ParentID], e.ComponentID)
	}
	for parent, ids := range groups {
		slices.SortStableFunc(ids, func(a, b string) int { return listed[a].Index - listed[b].Index })
		for _, c := range w.Children(parent) {
			if _, ok := listed[c.ID]; !ok && next[c.ID] == parent {
				ids = append(ids, c.ID)
			}
		}
		groups[parent] = ids
	}
	for id, p := range next {
		if c := w.Component(id); c.ParentID != p {
			c.ParentID = p
			stats.Moved++
		}
	}
	for _, ids := range groups {
		applyOrder(w, ids)
	}
	normalize(w)
	for _, c := range w.Components {
		if parents[c.ID] == c.ParentID && before[c.ID] != c.ZIndex {
			stats.Reordered++
		}
	}
	if stats.Moved > 0 || stats.Reordered > 0 {
		s.persistLocked()
	}
	return stats, nil
}
