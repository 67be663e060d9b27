package store

import (
	"slices"
	"sort"

	"widget-builder/internal/builder/models"
)

// normalize восстанавливает производные поля виджета: плотный ZIndex
// 0..n-1 внутри каждой группы соседей и ChildIDs по ParentID. Ссылки на
// несуществующих родителей сбрасываются в корень.
func normalize(w *models.Widget) {
	present := make(map[string]bool, len(w.Components))
	for i := range w.Components {
		present[w.Components[i].ID] = true
	}
	groups := make(map[string][]int)
	var parents []string
	for i := range w.Components {
		c := &w.Components[i]
		if c.ParentID != "" && (!present[c.ParentID] || c.ParentID == c.ID) {
			c.ParentID = ""
		}
		if _, ok := groups[c.ParentID]; !ok {
			parents = append(parents, c.ParentID)
		}
		groups[c.ParentID] = append(groups[c.ParentID], i)
	}

	children := make(map[string][]string, len(groups))
	for _, parent := range parents {
		idx := groups[parent]
		slices.SortStableFunc(idx, func(a, b int) int {
			return w.Components[a].ZIndex - w.Components[b].ZIndex
		})
		ids := make([]string, len(idx))
		for z, i := range idx {
			w.Components[i].ZIndex = z
			ids[z] = w.Components[i].ID
		}
		children[parent] = ids
	}
	for i := range w.Components {
		c := &w.Components[i]
		if ids, ok := children[c.ID]; ok {
			c.ChildIDs = ids
		} else {
			c.ChildIDs = []string{}
		}
	}
	if w.Components == nil {
		w.Components = []models.WidgetComponent{}
	}
}

// siblingIDs возвращает id соседей внутри parentID в текущем порядке.
func siblingIDs(w *models.Widget, parentID string) []string {
	kids := w.Children(parentID)
	ids := make([]string, len(kids))
	for i, k := range kids {
		ids[i] = k.ID
	}
	return ids
}

// applyOrder присваивает ZIndex по позиции в ids.
func applyOrder(w *models.Widget, ids []string) {
	for z, id := range ids {
		if c := w.Component(id); c != nil {
			c.ZIndex = z
		}
	}
}

// descendants обходит поддерево в глубину и возвращает id потомков
// (без самого корня) в порядке обхода.
func descendants(w *models.Widget, rootID string) []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		for _, k := range w.Children(id) {
			out = append(out, k.ID)
			walk(k.ID)
		}
	}
	walk(rootID)
	return out
}

// isAncestor сообщает, является ли ancestorID предком (или самим) id.
func isAncestor(w *models.Widget, ancestorID, id string) bool {
	steps := 0
	for cur := id; cur != ""; steps++ {
		if cur == ancestorID {
			return true
		}
		c := w.Component(cur)
		if c == nil || steps > len(w.Components) {
			return false
		}
		cur = c.ParentID
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func removeID(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
