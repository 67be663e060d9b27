package store

import (
	"fmt"

	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/units"
)

// ============================================================
// Placement: add / find / update
// ============================================================

const (
	DefaultComponentWidth  = 120.0
	DefaultComponentHeight = 40.0
)

// ComponentPatch описывает частичное обновление размещения. Структурные
// поля (родитель, порядок) меняются только через Move/Reorder.
type ComponentPatch struct {
	Position       *units.Position        `json:"position,omitempty"`
	Size           *units.Size            `json:"size,omitempty"`
	LayoutConfig   *models.LayoutConfig   `json:"layoutConfig,omitempty"`
	ActionBindings *[]models.ActionBinding `json:"actionBindings,omitempty"`
}

// AddComponentToWidget размещает экземпляр в корне виджета. Возвращает nil,
// если виджет не найден или аргументы не прошли проверку.
func (s *Store) AddComponentToWidget(widgetID, definitionID, instanceID string, pos units.Position) *models.WidgetComponent {
	c, err := s.AddComponent(widgetID, definitionID, instanceID, pos)
	if err != nil {
		s.log.Warn().Err(err).Str("widget", widgetID).Msg("add component rejected")
		return nil
	}
	return c
}

// AddComponent это вариант AddComponentToWidget с ошибкой.
func (s *Store) AddComponent(widgetID, definitionID, instanceID string, pos units.Position) (*models.WidgetComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	if err := s.checkPlacementArgsLocked(widgetID, definitionID, instanceID, pos); err != nil {
		return nil, err
	}
	c := models.WidgetComponent{
		ID:           models.NewID(),
		DefinitionID: definitionID,
		InstanceID:   instanceID,
		Position:     pos,
		Size:         units.Sz(DefaultComponentWidth, DefaultComponentHeight),
		ZIndex:       len(w.Roots()),
		ChildIDs:     []string{},
	}
	w.Components = append(w.Components, c)
	normalize(w)
	if !w.IsEditMode {
		s.scheduleResizeLocked(widgetID)
	}
	s.log.Debug().Str("widget", widgetID).Str("component", c.ID).Msg("component added")
	s.persistLocked()
	out := *w.Component(c.ID)
	return &out, nil
}

// AddChildComponent размещает экземпляр потомком parentID. Если pos == nil,
// позиция выбирается сеткой относительно уже существующих потомков.
func (s *Store) AddChildComponent(widgetID, parentID, definitionID, instanceID string, pos *units.Position) *models.WidgetComponent {
	c, err := s.AddChild(widgetID, parentID, definitionID, instanceID, pos)
	if err != nil {
		s.log.Warn().Err(err).Str("widget", widgetID).Str("parent", parentID).Msg("add child rejected")
		return nil
	}
	return c
}

func (s *Store) AddChild(widgetID, parentID, definitionID, instanceID string, pos *units.Position) (*models.WidgetComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	if w.Component(parentID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrParentNotFound, parentID)
	}
	siblings := len(w.Children(parentID))
	var p units.Position
	if pos != nil {
		p = *pos
	} else {
		p = gridPosition(siblings)
	}
	if err := s.checkPlacementArgsLocked(widgetID, definitionID, instanceID, p); err != nil {
		return nil, err
	}
	c := models.WidgetComponent{
		ID:           models.NewID(),
		DefinitionID: definitionID,
		InstanceID:   instanceID,
		Position:     p,
		Size:         units.Sz(DefaultComponentWidth, DefaultComponentHeight),
		ZIndex:       siblings,
		ParentID:     parentID,
		ChildIDs:     []string{},
	}
	w.Components = append(w.Components, c)
	normalize(w)
	s.log.Debug().Str("widget", widgetID).Str("component", c.ID).Str("parent", parentID).Msg("child added")
	s.persistLocked()
	out := *w.Component(c.ID)
	return &out, nil
}

// checkPlacementArgsLocked отсекает перепутанные аргументы: пустые id,
// id виджета вместо id экземпляра, неизвестные единицы позиции, экземпляр,
// уже размещённый где-то ещё.
func (s *Store) checkPlacementArgsLocked(widgetID, definitionID, instanceID string, pos units.Position) error {
	switch {
	case definitionID == "":
		return fmt.Errorf("%w: empty definition id", ErrInvalidArgument)
	case instanceID == "" || instanceID == widgetID || instanceID == definitionID:
		return fmt.Errorf("%w: bad instance id %q", ErrInvalidArgument, instanceID)
	case !pos.Valid():
		return fmt.Errorf("%w: position %v", ErrInvalidArgument, pos)
	}
	if _, wid := s.findByInstanceLocked(instanceID); wid != "" {
		return fmt.Errorf("%w: instance %s already placed in widget %s", ErrInvalidArgument, instanceID, wid)
	}
	return nil
}

// FindComponent возвращает копию размещения или nil. Сравнение id точное.
func (s *Store) FindComponent(widgetID, componentID string) *models.WidgetComponent {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil
	}
	c := w.Component(componentID)
	if c == nil {
		return nil
	}
	out := *c
	out.ChildIDs = append([]string{}, c.ChildIDs...)
	return &out
}

// FindComponentByInstanceID ищет размещение экземпляра во всех виджетах.
// Если не найдено, возвращает nil и пустой id виджета.
func (s *Store) FindComponentByInstanceID(instanceID string) (*models.WidgetComponent, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, wid := s.findByInstanceLocked(instanceID)
	if c == nil {
		return nil, ""
	}
	out := *c
	out.ChildIDs = append([]string{}, c.ChildIDs...)
	return &out, wid
}

func (s *Store) findByInstanceLocked(instanceID string) (*models.WidgetComponent, string) {
	for _, wid := range s.order {
		w := s.widgets[wid]
		for i := range w.Components {
			if w.Components[i].InstanceID == instanceID {
				return &w.Components[i], wid
			}
		}
	}
	return nil, ""
}

// Descendants возвращает id всех потомков компонента в порядке обхода в глубину.
func (s *Store) Descendants(widgetID, componentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	if w.Component(componentID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}
	return descendants(w, componentID), nil
}

// IsAncestor сообщает, лежит ли id в поддереве ancestorID (включая его самого).
func (s *Store) IsAncestor(widgetID, ancestorID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return false
	}
	return isAncestor(w, ancestorID, id)
}

// UpdateComponent меняет геометрию и настройки размещения.
func (s *Store) UpdateComponent(widgetID, componentID string, patch ComponentPatch) (*models.WidgetComponent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[widgetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	c := w.Component(componentID)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, componentID)
	}
	if patch.Position != nil && !patch.Position.Valid() || patch.Size != nil && !patch.Size.Valid() {
		return nil, fmt.Errorf("%w: geometry units", ErrInvalidArgument)
	}
	if patch.Position != nil {
		c.Position = *patch.Position
	}
	if patch.Size != nil {
		c.Size = *patch.Size
	}
	if patch.LayoutConfig != nil {
		lc := *patch.LayoutConfig
		c.LayoutConfig = &lc
	}
	if patch.ActionBindings != nil {
		c.ActionBindings = append([]models.ActionBinding(nil), (*patch.ActionBindings)...)
	}
	s.persistLocked()
	out := *c
	return &out, nil
}
