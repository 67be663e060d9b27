package store

import (
	"fmt"

	"widget-builder/internal/builder/models"
)

// ============================================================
// Placement: remove
// ============================================================

// RemovePolicy определяет судьбу потомков удаляемого размещения.
type RemovePolicy int

const (
	// CascadeChildren удаляет всё поддерево.
	CascadeChildren RemovePolicy = iota
	// PromoteChildren передаёт прямых потомков родителю удаляемого.
	PromoteChildren
	// OrphanChildren делает прямых потомков корневыми.
	OrphanChildren
)

// PolicyFromFlags переводит пару флагов removeChildren/promoteChildren в политику.
// promoteChildren важнее removeChildren.
func PolicyFromFlags(removeChildren, promoteChildren bool) RemovePolicy {
	switch {
	case promoteChildren:
		return PromoteChildren
	case removeChildren:
		return CascadeChildren
	default:
		return OrphanChildren
	}
}

func (p RemovePolicy) String() string {
	switch p {
	case PromoteChildren:
		return "promote"
	case OrphanChildren:
		return "orphan"
	default:
		return "cascade"
	}
}

// RemoveComponent удаляет размещение по политике и возвращает удалённые
// записи; освобождение их экземпляров остаётся за вызывающим.
// Неизвестный компонент это no-op с ErrComponentNotFound.
func (s *Store) RemoveComponent(widgetID, componentID string, policy RemovePolicy) ([]models.WidgetComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		s.log.Debug().Str("widget", widgetID).Msg("remove: unknown widget")
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	target := w.Component(componentID)
	if target == nil {
		s.log.Debug().Str("widget", widgetID).Str("component", componentID).Msg("remove: unknown component")
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}
	parentID := target.ParentID

	doomed := map[string]bool{componentID: true}
	switch policy {
	case CascadeChildren:
		for _, id := range descendants(w, componentID) {
			doomed[id] = true
		}
	case PromoteChildren:
		// потомки встают на место удаляемого среди его соседей
		order := siblingIDs(w, parentID)
		kids := siblingIDs(w, componentID)
		var next []string
		for _, id := range order {
			if id == componentID {
				next = append(next, kids...)
				continue
			}
			next = append(next, id)
		}
		for _, id := range kids {
			w.Component(id).ParentID = parentID
		}
		applyOrder(w, next)
	case OrphanChildren:
		roots := siblingIDs(w, "")
		for _, id := range siblingIDs(w, componentID) {
			w.Component(id).ParentID = ""
			roots = append(roots, id)
		}
		applyOrder(w, roots)
	}

	removed := make([]models.WidgetComponent, 0, len(doomed))
	kept := w.Components[:0:0]
	for _, c := range w.Components {
		if doomed[c.ID] {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	w.Components = kept
	normalize(w)
	s.log.Debug().Str("widget", widgetID).Str("component", componentID).
		Str("policy", policy.String()).Int("removed", len(removed)).Msg("component removed")
	s.persistLocked()
	return removed, nil
}
