package store

import (
	"fmt"

	"widget-builder/internal/builder/models"
)

// ============================================================
// Placement: move
// ============================================================

// MoveRequest описывает перенос поддерева. Пустой DestinationWidgetID
// означает перенос внутри исходного виджета, пустой NewParentID это корень.
// InstanceMap (старый id экземпляра -> новый) применяется только при
// переносе между виджетами.
type MoveRequest struct {
	SourceWidgetID      string
	ComponentID         string
	NewParentID         string
	DestinationWidgetID string
	InstanceMap         map[string]string
}

// MoveComponent переносит компонент вместе со всеми потомками. Возвращает
// false при любой ошибке проверки; состояние при этом не меняется.
func (s *Store) MoveComponent(sourceWidgetID, componentID, newParentID, destinationWidgetID string, instanceMap map[string]string) bool {
	err := s.Move(MoveRequest{
		SourceWidgetID:      sourceWidgetID,
		ComponentID:         componentID,
		NewParentID:         newParentID,
		DestinationWidgetID: destinationWidgetID,
		InstanceMap:         instanceMap,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("component", componentID).Msg("move rejected")
		return false
	}
	return true
}

// Move это вариант MoveComponent с ошибкой.
func (s *Store) Move(req MoveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.widgets[req.SourceWidgetID]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrWidgetNotFound, req.SourceWidgetID)
	}
	destID := req.DestinationWidgetID
	if destID == "" {
		destID = req.SourceWidgetID
	}
	dst, ok := s.widgets[destID]
	if !ok {
		return fmt.Errorf("%w: destination %s", ErrWidgetNotFound, destID)
	}
	comp := src.Component(req.ComponentID)
	if comp == nil {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, req.ComponentID)
	}
	if req.NewParentID != "" && dst.Component(req.NewParentID) == nil {
		return fmt.Errorf("%w: %s", ErrParentNotFound, req.NewParentID)
	}

	if destID == req.SourceWidgetID {
		return s.moveWithinLocked(src, comp, req.NewParentID)
	}
	return s.moveAcrossLocked(src, dst, req)
}

func (s *Store) moveWithinLocked(w *models.Widget, comp *models.WidgetComponent, newParentID string) error {
	if newParentID != "" && isAncestor(w, comp.ID, newParentID) {
		return fmt.Errorf("%w: %s under %s", ErrCycle, comp.ID, newParentID)
	}
	if comp.ParentID == newParentID {
		return nil
	}
	oldParent := comp.ParentID
	z := len(w.Children(newParentID))
	comp.ParentID = newParentID
	comp.ZIndex = z
	normalize(w)
	s.log.Debug().Str("widget", w.ID).Str("component", comp.ID).
		Str("from", oldParent).Str("to", newParentID).Msg("component moved")
	s.persistLocked()
	return nil
}

func (s *Store) moveAcrossLocked(src, dst *models.Widget, req MoveRequest) error {
	moved := map[string]bool{req.ComponentID: true}
	for _, id := range descendants(src, req.ComponentID) {
		moved[id] = true
	}
	if moved[req.NewParentID] {
		return fmt.Errorf("%w: %s under %s", ErrCycle, req.ComponentID, req.NewParentID)
	}
	for id := range moved {
		if dst.Component(id) != nil {
			return fmt.Errorf("%w: component id %s already present in destination", ErrInvalidArgument, id)
		}
	}
	// новые экземпляры не должны быть уже размещены где-либо
	for old, repl := range req.InstanceMap {
		if repl == "" {
			return fmt.Errorf("%w: empty replacement for instance %s", ErrInvalidArgument, old)
		}
		if c, wid := s.findByInstanceLocked(repl); c != nil && !(wid == src.ID && moved[c.ID]) {
			return fmt.Errorf("%w: instance %s already placed in widget %s", ErrInvalidArgument, repl, wid)
		}
	}

	var subtree []models.WidgetComponent
	kept := src.Components[:0:0]
	for _, c := range src.Components {
		if moved[c.ID] {
			subtree = append(subtree, c)
			continue
		}
		c.ChildIDs = removeMoved(c.ChildIDs, moved)
		kept = append(kept, c)
	}
	src.Components = kept

	z := len(dst.Children(req.NewParentID))
	for _, c := range subtree {
		if c.ID == req.ComponentID {
			c.ParentID = req.NewParentID
			c.ZIndex = z
		}
		if repl, ok := req.InstanceMap[c.InstanceID]; ok {
			c.InstanceID = repl
		}
		c.ChildIDs = append([]string{}, c.ChildIDs...)
		dst.Components = append(dst.Components, c)
	}
	normalize(src)
	normalize(dst)
	s.log.Debug().Str("from", src.ID).Str("to", dst.ID).Str("component", req.ComponentID).
		Int("subtree", len(subtree)).Bool("remapped", len(req.InstanceMap) > 0).Msg("component moved across widgets")
	s.persistLocked()
	return nil
}

func removeMoved(ids []string, moved map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !moved[id] {
			out = append(out, id)
		}
	}
	return out
}
