package models

import "widget-builder/internal/builder/units"

// ============================================================
// Widget Component (placement)
// ============================================================

// WidgetComponent это одно размещение экземпляра компонента внутри виджета.
// ParentID == "" означает корень дерева виджета. ChildIDs пересчитывается
// хранилищем после каждой мутации и не должен меняться снаружи.
type WidgetComponent struct {
	ID             string          `json:"id"`
	DefinitionID   string          `json:"definitionId"`
	InstanceID     string          `json:"instanceId"`
	Position       units.Position  `json:"position"`
	Size           units.Size      `json:"size"`
	ZIndex         int             `json:"zIndex"`
	ParentID       string          `json:"parentId,omitempty"`
	ChildIDs       []string        `json:"childIds"`
	LayoutConfig   *LayoutConfig   `json:"layoutConfig,omitempty"`
	ActionBindings []ActionBinding `json:"actionBindings,omitempty"`
}

// IsRoot сообщает, что у размещения нет родителя.
func (c *WidgetComponent) IsRoot() bool {
	return c.ParentID == ""
}

// LayoutConfig задаёт подсказки раскладки для потомков.
type LayoutConfig struct {
	Direction string  `json:"direction,omitempty"` // row, column
	Gap       float64 `json:"gap,omitempty"`
	Columns   int     `json:"columns,omitempty"`
	Align     string  `json:"align,omitempty"`
}

// ActionBinding связывает событие компонента с действием над другим виджетом,
// например "кнопка показывает виджет X".
type ActionBinding struct {
	Event          string `json:"event"`  // click, change ...
	Action         string `json:"action"` // show, hide, toggle
	TargetWidgetID string `json:"targetWidgetId"`
}
