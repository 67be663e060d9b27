package service

import (
	"fmt"

	"widget-builder/internal/builder/store"
)

// ============================================================
// Tree rebuild
// ============================================================

// RebuildStats суммирует изменения RebuildComponentHierarchyFromTree.
type RebuildStats struct {
	WidgetsUpdated      int `json:"widgetsUpdated"`
	ComponentsMoved     int `json:"componentsMoved"`
	ComponentsReordered int `json:"componentsReordered"`
}

type treeEntry struct {
	widgetID    string
	componentID string
	parentID    string
	index       int
}

// RebuildComponentHierarchyFromTree применяет отредактированное дерево
// (например после перетаскивания в дереве): для каждого виджета
// пересчитываются родители и порядок соседей. Компонент, оказавшийся в
// дереве под другим виджетом, переносится туда с копированием экземпляров.
// Все компоненты дерева проверяются до первого изменения.
func (b *Builder) RebuildComponentHierarchyFromTree(tree []*store.HierarchyNode) (RebuildStats, error) {
	var stats RebuildStats

	var entries []treeEntry
	seen := make(map[string]bool)
	var walk func(nodes []*store.HierarchyNode, widgetID, parentID string) error
	walk = func(nodes []*store.HierarchyNode, widgetID, parentID string) error {
		index := 0
		for _, n := range nodes {
			if n == nil {
				continue
			}
			if n.Kind == store.KindWidget {
				if n.Data.WidgetID == "" {
					return fmt.Errorf("%w: widget node %q without widget id", store.ErrInvalidArgument, n.ID)
				}
				if err := walk(n.Children, n.Data.WidgetID, ""); err != nil {
					return err
				}
				continue
			}
			if n.Data.ComponentID == "" {
				return fmt.Errorf("%w: node %q without component id", store.ErrInvalidArgument, n.ID)
			}
			wid := widgetID
			if wid == "" {
				wid = n.Data.WidgetID
			}
			if b.store.Widget(wid) == nil {
				return fmt.Errorf("%w: %s", store.ErrWidgetNotFound, wid)
			}
			if b.locate(n.Data.ComponentID, n.Data.WidgetID) == "" {
				return fmt.Errorf("%w: %s", store.ErrComponentNotFound, n.Data.ComponentID)
			}
			if seen[n.Data.ComponentID] {
				return fmt.Errorf("%w: component %s appears twice in tree", store.ErrInvalidArgument, n.Data.ComponentID)
			}
			seen[n.Data.ComponentID] = true
			entries = append(entries, treeEntry{widgetID: wid, componentID: n.Data.ComponentID, parentID: parentID, index: index})
			index++
			if err := walk(n.Children, wid, n.Data.ComponentID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(tree, "", ""); err != nil {
		return stats, err
	}

	touched := make(map[string]bool)
	crossed := make(map[string]bool)
	var order []string
	touch := func(id string) {
		if !touched[id] {
			touched[id] = true
			order = append(order, id)
		}
	}

	// обход в прямом порядке: родитель переезжает раньше потомков
	for _, e := range entries {
		current := b.locate(e.componentID, "")
		if current == e.widgetID {
			continue
		}
		desc, err := b.store.Descendants(current, e.componentID)
		if err != nil {
			return stats, err
		}
		// сразу под итоговым родителем, иначе Restructure посчитает перенос второй раз
		parent := e.parentID
		if parent != "" && b.store.FindComponent(e.widgetID, parent) == nil {
			parent = ""
		}
		if _, err := b.CopyComponentToWidget(current, e.componentID, e.widgetID, parent); err != nil {
			return stats, fmt.Errorf("move %s to widget %s: %w", e.componentID, e.widgetID, err)
		}
		stats.ComponentsMoved += 1 + len(desc)
		crossed[current] = true
		crossed[e.widgetID] = true
		touch(current)
		touch(e.widgetID)
	}

	layouts := make(map[string][]store.LayoutEntry)
	for _, e := range entries {
		touch(e.widgetID)
		layouts[e.widgetID] = append(layouts[e.widgetID], store.LayoutEntry{
			ComponentID: e.componentID,
			ParentID:    e.parentID,
			Index:       e.index,
		})
	}

	var updated []string
	for _, wid := range order {
		changed := crossed[wid]
		if layout, ok := layouts[wid]; ok {
			rs, err := b.store.Restructure(wid, layout)
			if err != nil {
				return stats, fmt.Errorf("restructure widget %s: %w", wid, err)
			}
			stats.ComponentsMoved += rs.Moved
			stats.ComponentsReordered += rs.Reordered
			changed = changed || rs.Moved > 0 || rs.Reordered > 0
		}
		if changed {
			updated = append(updated, wid)
		}
	}
	stats.WidgetsUpdated = len(updated)
	b.log.Info().Int("widgets", stats.WidgetsUpdated).Int("moved", stats.ComponentsMoved).
		Int("reordered", stats.ComponentsReordered).Msg("hierarchy rebuilt from tree")
	if len(updated) > 0 {
		b.hierarchyChanged("tree-rebuilt", updated...)
	}
	return stats, nil
}

// locate возвращает id виджета, в котором размещён компонент; hint
// проверяется первым.
func (b *Builder) locate(componentID, hint string) string {
	if hint != "" && b.store.FindComponent(hint, componentID) != nil {
		return hint
	}
	for _, w := range b.store.Widgets() {
		if w.Component(componentID) != nil {
			return w.ID
		}
	}
	return ""
}
