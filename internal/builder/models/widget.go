package models

import (
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"widget-builder/internal/builder/units"
)

// ============================================================
// Identifiers
// ============================================================

// NewID генерирует новый идентификатор сущности. Все id в системе
// создаются только здесь.
func NewID() string {
	return uuid.NewString()
}

// ============================================================
// Widget
// ============================================================

type LayoutType string

const (
	LayoutGrid LayoutType = "grid"
	LayoutFree LayoutType = "free"
)

type DisplayType string

const (
	DisplayCanvas   DisplayType = "canvas"
	DisplayModal    DisplayType = "modal"
	DisplayDrawer   DisplayType = "drawer"
	DisplayEmbedded DisplayType = "embedded"
)

// Valid сообщает, что тип отображения известен.
func (d DisplayType) Valid() bool {
	switch d {
	case DisplayCanvas, DisplayModal, DisplayDrawer, DisplayEmbedded:
		return true
	}
	return false
}

// Widget это контейнер, в котором размещаются компоненты. Components
// хранится плоским списком, дерево восстанавливается по ParentID.
type Widget struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Label      string            `json:"label"`
	Position   units.Position    `json:"position"`
	Size       units.Size        `json:"size"`
	Components []WidgetComponent `json:"components"`
	LayoutType LayoutType        `json:"layoutType"`
	IsEditMode bool              `json:"isEditMode"`
	Display    DisplayType       `json:"displayType"`
	IsVisible  bool              `json:"isVisible"`
	ZIndex     int               `json:"zIndex"`
}

// Clone возвращает глубокую копию виджета.
func (w *Widget) Clone() *Widget {
	out := &Widget{}
	if err := copier.CopyWithOption(out, w, copier.Option{DeepCopy: true}); err != nil {
		// copier падает только на несовместимых типах
		panic(err)
	}
	if out.Components == nil {
		out.Components = []WidgetComponent{}
	}
	return out
}

// Component возвращает указатель на размещение по id или nil.
func (w *Widget) Component(id string) *WidgetComponent {
	for i := range w.Components {
		if w.Components[i].ID == id {
			return &w.Components[i]
		}
	}
	return nil
}

// IndexOf возвращает позицию размещения в списке или -1.
func (w *Widget) IndexOf(id string) int {
	for i := range w.Components {
		if w.Components[i].ID == id {
			return i
		}
	}
	return -1
}

// Children возвращает прямых потомков parentID ("" для корня) в порядке ZIndex.
func (w *Widget) Children(parentID string) []*WidgetComponent {
	var out []*WidgetComponent
	for i := range w.Components {
		if w.Components[i].ParentID == parentID {
			out = append(out, &w.Components[i])
		}
	}
	sortSiblings(out)
	return out
}

// Roots возвращает корневые размещения.
func (w *Widget) Roots() []*WidgetComponent {
	return w.Children("")
}

func sortSiblings(list []*WidgetComponent) {
	// вставками: списки маленькие, порядок должен быть стабильным
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].ZIndex < list[j-1].ZIndex; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}
