package store

import (
	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/units"
)

// ============================================================
// Widget Registry
// ============================================================

const (
	DefaultWidgetWidth  = 400.0
	DefaultWidgetHeight = 300.0
	modalZIndex         = 1000
)

// WidgetPatch описывает частичное обновление виджета; nil поля не меняются.
type WidgetPatch struct {
	Name       *string             `json:"name,omitempty"`
	Label      *string             `json:"label,omitempty"`
	Position   *units.Position     `json:"position,omitempty"`
	Size       *units.Size         `json:"size,omitempty"`
	LayoutType *models.LayoutType  `json:"layoutType,omitempty"`
	IsEditMode *bool               `json:"isEditMode,omitempty"`
	Display    *models.DisplayType `json:"displayType,omitempty"`
	IsVisible  *bool               `json:"isVisible,omitempty"`
	ZIndex     *int                `json:"zIndex,omitempty"`
}

// CreateWidget создаёт пустой виджет. Первый canvas-виджет (или первый
// виджет вообще) становится активным.
func (s *Store) CreateWidget(name string, pos units.Position, display models.DisplayType) *models.Widget {
	if !display.Valid() {
		display = models.DisplayCanvas
	}
	if !pos.Valid() {
		pos = units.Pos(0, 0)
	}
	w := &models.Widget{
		ID:         models.NewID(),
		Name:       name,
		Label:      name,
		Position:   pos,
		Size:       units.Sz(DefaultWidgetWidth, DefaultWidgetHeight),
		Components: []models.WidgetComponent{},
		LayoutType: models.LayoutFree,
		Display:    display,
		IsVisible:  display == models.DisplayCanvas,
	}
	if display == models.DisplayModal {
		w.ZIndex = modalZIndex
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.widgets[w.ID] = w
	s.order = append(s.order, w.ID)
	if s.activeID == "" || (display == models.DisplayCanvas && !s.hasOtherCanvasLocked(w.ID)) {
		s.activeID = w.ID
	}
	s.log.Debug().Str("widget", w.ID).Str("name", name).Msg("widget created")
	s.persistLocked()
	return w.Clone()
}

func (s *Store) hasOtherCanvasLocked(exclude string) bool {
	for id, w := range s.widgets {
		if id != exclude && w.Display == models.DisplayCanvas {
			return true
		}
	}
	return false
}

// UpdateWidget применяет patch. Неизвестный id это no-op.
func (s *Store) UpdateWidget(id string, patch WidgetPatch) (*models.Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		s.log.Debug().Str("widget", id).Msg("update of unknown widget ignored")
		return nil, false
	}
	if patch.Name != nil {
		w.Name = *patch.Name
	}
	if patch.Label != nil {
		w.Label = *patch.Label
	}
	if patch.Position != nil && patch.Position.Valid() {
		w.Position = *patch.Position
	}
	if patch.Size != nil && patch.Size.Valid() {
		w.Size = *patch.Size
	}
	if patch.LayoutType != nil {
		w.LayoutType = *patch.LayoutType
	}
	if patch.IsEditMode != nil {
		w.IsEditMode = *patch.IsEditMode
	}
	if patch.Display != nil && patch.Display.Valid() {
		w.Display = *patch.Display
	}
	if patch.IsVisible != nil {
		w.IsVisible = *patch.IsVisible
	}
	if patch.ZIndex != nil {
		w.ZIndex = *patch.ZIndex
	}
	s.persistLocked()
	return w.Clone(), true
}

// DeleteWidget удаляет виджет вместе со всеми размещениями и возвращает
// удалённый виджет, чтобы вызывающий освободил экземпляры компонентов.
func (s *Store) DeleteWidget(id string) (*models.Widget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return nil, false
	}
	if task, ok := s.pending[id]; ok {
		task.timer.Stop()
		delete(s.pending, id)
	}
	delete(s.widgets, id)
	s.order = removeID(s.order, id)
	if s.activeID == id {
		s.activeID = ""
		for _, oid := range s.order {
			o := s.widgets[oid]
			if o.Display == models.DisplayCanvas && o.IsVisible {
				s.activeID = oid
				break
			}
		}
	}
	s.log.Debug().Str("widget", id).Int("components", len(w.Components)).Msg("widget deleted")
	s.persistLocked()
	return w, true
}

func (s *Store) ShowWidget(id string) bool {
	return s.setVisibility(id, func(bool) bool { return true })
}

func (s *Store) HideWidget(id string) bool {
	return s.setVisibility(id, func(bool) bool { return false })
}

func (s *Store) ToggleWidget(id string) bool {
	return s.setVisibility(id, func(v bool) bool { return !v })
}

func (s *Store) setVisibility(id string, fn func(bool) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return false
	}
	w.IsVisible = fn(w.IsVisible)
	s.persistLocked()
	return true
}

// SetEditMode переключает режим редактирования виджета.
func (s *Store) SetEditMode(id string, on bool) bool {
	_, ok := s.UpdateWidget(id, WidgetPatch{IsEditMode: &on})
	return ok
}

// SetActiveWidget делает виджет активным.
func (s *Store) SetActiveWidget(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.widgets[id]; !ok {
		return false
	}
	s.activeID = id
	s.persistLocked()
	return true
}

func (s *Store) ActiveWidgetID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Widget возвращает копию виджета или nil.
func (s *Store) Widget(id string) *models.Widget {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return nil
	}
	return w.Clone()
}

// Widgets возвращает копии всех виджетов в порядке создания.
func (s *Store) Widgets() []*models.Widget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Widget, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.widgets[id].Clone())
	}
	return out
}
