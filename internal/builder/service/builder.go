// Package service последовательно выполняет многошаговые сценарии
// редактора (создание экземпляра и размещение, перенос с копированием
// экземпляров, удаление с освобождением) и публикует события после
// того, как изменение полностью применено.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"widget-builder/internal/builder/events"
	"widget-builder/internal/builder/instance"
	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/repository"
	"widget-builder/internal/builder/store"
	"widget-builder/internal/builder/units"
)

var ErrSameWidget = errors.New("source and destination widget are the same")

// Documents читает и пишет сохранённые документы обоих хранилищ.
type Documents interface {
	LoadRegistry(ctx context.Context) (*store.Document, error)
	LoadInstances(ctx context.Context) (*instance.Document, error)
	SaveRegistry(ctx context.Context, doc *store.Document) error
	SaveInstances(ctx context.Context, doc *instance.Document) error
}

// ============================================================
// Builder
// ============================================================

type Builder struct {
	store     *store.Store
	instances *instance.Store
	bus       *events.Bus
	selection *SelectionManager
	docs      Documents
	log       zerolog.Logger
}

func NewBuilder(st *store.Store, instances *instance.Store, bus *events.Bus, docs Documents, log zerolog.Logger) *Builder {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Builder{
		store:     st,
		instances: instances,
		bus:       bus,
		selection: NewSelectionManager(),
		docs:      docs,
		log:       log,
	}
}

// GeometryPublisher возвращает хук для store.WithGeometryHook, который
// сообщает об автоматическом изменении размера виджета.
func GeometryPublisher(bus *events.Bus) func(models.Widget) {
	return func(w models.Widget) {
		bus.Publish(events.WidgetUpdated, WidgetPayload{WidgetID: w.ID, Widget: &w})
	}
}

func (b *Builder) Store() *store.Store { return b.store }
func (b *Builder) Instances() *instance.Store { return b.instances }
func (b *Builder) Bus() *events.Bus { return b.bus }
func (b *Builder) Selection() *SelectionManager { return b.selection }

func (b *Builder) hierarchyChanged(reason string, widgetIDs ...string) {
	b.bus.Publish(events.HierarchyChanged, HierarchyPayload{WidgetIDs: widgetIDs, Reason: reason})
}

// releaseInstances удаляет экземпляры; ошибки только логируются.
func (b *Builder) releaseInstances(ids ...string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := b.instances.DeleteInstance(id); err != nil {
			b.log.Warn().Err(err).Str("instance", id).Msg("release instance")
		}
	}
}

// ============================================================
// Widgets
// ============================================================

func (b *Builder) CreateWidget(name string, pos units.Position, display models.DisplayType) *models.Widget {
	w := b.store.CreateWidget(name, pos, display)
	b.log.Info().Str("widget", w.ID).Str("name", name).Msg("widget created")
	b.bus.Publish(events.WidgetCreated, WidgetPayload{WidgetID: w.ID, Widget: w})
	return w
}

func (b *Builder) UpdateWidget(id string, patch store.WidgetPatch) (*models.Widget, error) {
	w, ok := b.store.UpdateWidget(id, patch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrWidgetNotFound, id)
	}
	b.bus.Publish(events.WidgetUpdated, WidgetPayload{WidgetID: id, Widget: w})
	return w, nil
}

// DeleteWidget удаляет виджет и освобождает экземпляры всех его размещений.
func (b *Builder) DeleteWidget(id string) error {
	w, ok := b.store.DeleteWidget(id)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrWidgetNotFound, id)
	}
	b.selection.Release(id)
	for _, c := range w.Components {
		b.releaseInstances(c.InstanceID)
	}
	b.log.Info().Str("widget", id).Int("components", len(w.Components)).Msg("widget deleted")
	b.bus.Publish(events.WidgetDeleted, WidgetPayload{WidgetID: id})
	b.hierarchyChanged("widget-deleted", id)
	return nil
}

// SetVisibility показывает или скрывает виджет; nil переключает.
func (b *Builder) SetVisibility(id string, visible *bool) (*models.Widget, error) {
	var ok bool
	switch {
	case visible == nil:
		ok = b.store.ToggleWidget(id)
	case *visible:
		ok = b.store.ShowWidget(id)
	default:
		ok = b.store.HideWidget(id)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrWidgetNotFound, id)
	}
	w := b.store.Widget(id)
	b.bus.Publish(events.WidgetUpdated, WidgetPayload{WidgetID: id, Widget: w})
	return w, nil
}

func (b *Builder) SetActiveWidget(id string) error {
	if !b.store.SetActiveWidget(id) {
		return fmt.Errorf("%w: %s", store.ErrWidgetNotFound, id)
	}
	return nil
}

// ============================================================
// Components
// ============================================================

// CreateOptions уточняют создание компонента. Пустой ParentID кладёт
// компонент в корень; непустой SelectFor выделяет его в этой сессии.
type CreateOptions struct {
	ParentID  string
	Position  *units.Position
	Overrides map[string]any
	SelectFor string
}

// CreateComponent создаёт экземпляр из определения и размещает его.
// Если размещение не удалось, экземпляр удаляется.
func (b *Builder) CreateComponent(widgetID, definitionID string, opts CreateOptions) (*models.WidgetComponent, error) {
	inst, err := b.instances.CreateFromDefinition(definitionID, opts.Overrides)
	if err != nil {
		return nil, err
	}

	var comp *models.WidgetComponent
	if opts.ParentID != "" {
		comp, err = b.store.AddChild(widgetID, opts.ParentID, definitionID, inst.ID, opts.Position)
	} else {
		pos := units.Pos(0, 0)
		if opts.Position != nil {
			pos = *opts.Position
		}
		comp, err = b.store.AddComponent(widgetID, definitionID, inst.ID, pos)
	}
	if err != nil {
		b.releaseInstances(inst.ID)
		b.log.Warn().Err(err).Str("widget", widgetID).Str("definition", definitionID).Msg("placement failed, instance rolled back")
		return nil, err
	}

	if opts.SelectFor != "" {
		b.selection.Select(opts.SelectFor, Selection{WidgetID: widgetID, ComponentID: comp.ID})
	}
	b.bus.Publish(events.ComponentAdded, ComponentPayload{
		WidgetID: widgetID, ComponentID: comp.ID, InstanceID: inst.ID, ParentID: comp.ParentID, Component: comp,
	})
	b.hierarchyChanged("component-added", widgetID)
	return comp, nil
}

// UpdateComponent меняет геометрию и настройки размещения.
func (b *Builder) UpdateComponent(widgetID, componentID string, patch store.ComponentPatch) (*models.WidgetComponent, error) {
	comp, err := b.store.UpdateComponent(widgetID, componentID, patch)
	if err != nil {
		return nil, err
	}
	b.bus.Publish(events.ComponentUpdated, ComponentPayload{
		WidgetID: widgetID, ComponentID: componentID, InstanceID: comp.InstanceID, Component: comp,
	})
	return comp, nil
}

// RemoveComponent удаляет размещение по выбранной политике и освобождает
// экземпляры удалённых записей.
func (b *Builder) RemoveComponent(widgetID, componentID string, policy store.RemovePolicy) ([]string, error) {
	removed, err := b.store.RemoveComponent(widgetID, componentID, policy)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(removed))
	for _, c := range removed {
		ids = append(ids, c.ID)
	}
	for _, session := range b.selection.Release(widgetID, ids...) {
		b.log.Debug().Str("session", session).Msg("selection released")
	}
	for _, c := range removed {
		b.releaseInstances(c.InstanceID)
	}
	b.bus.Publish(events.ComponentDeleted, ComponentPayload{
		WidgetID: widgetID, ComponentID: componentID, Removed: ids,
	})
	b.hierarchyChanged("component-deleted", widgetID)
	return ids, nil
}

// DeleteComponent удаляет компонент вместе с потомками.
func (b *Builder) DeleteComponent(widgetID, componentID string) error {
	_, err := b.RemoveComponent(widgetID, componentID, store.CascadeChildren)
	return err
}

// MoveComponent меняет родителя внутри виджета. Перенос под собственного
// потомка отклоняется до обращения к хранилищу.
func (b *Builder) MoveComponent(widgetID, componentID, newParentID string) error {
	if newParentID != "" && b.store.IsAncestor(widgetID, componentID, newParentID) {
		return fmt.Errorf("%w: %s under %s", store.ErrCycle, componentID, newParentID)
	}
	before := b.store.FindComponent(widgetID, componentID)
	if err := b.store.Move(store.MoveRequest{
		SourceWidgetID: widgetID,
		ComponentID:    componentID,
		NewParentID:    newParentID,
	}); err != nil {
		return err
	}
	if before != nil && before.ParentID == newParentID {
		return nil
	}
	b.bus.Publish(events.ComponentMoved, ComponentPayload{
		WidgetID: widgetID, ComponentID: componentID, ParentID: newParentID, FromWidgetID: widgetID,
	})
	b.hierarchyChanged("component-moved", widgetID)
	return nil
}

// RelocateComponent переносит поддерево в другой (или тот же) виджет,
// экземпляры сохраняют свои id.
func (b *Builder) RelocateComponent(sourceWidgetID, componentID, destinationWidgetID, newParentID string) error {
	if destinationWidgetID == "" || destinationWidgetID == sourceWidgetID {
		return b.MoveComponent(sourceWidgetID, componentID, newParentID)
	}
	comp := b.store.FindComponent(sourceWidgetID, componentID)
	if comp == nil {
		return fmt.Errorf("%w: %s", store.ErrComponentNotFound, componentID)
	}
	desc, err := b.store.Descendants(sourceWidgetID, componentID)
	if err != nil {
		return err
	}
	if err := b.store.Move(store.MoveRequest{
		SourceWidgetID:      sourceWidgetID,
		ComponentID:         componentID,
		NewParentID:         newParentID,
		DestinationWidgetID: destinationWidgetID,
	}); err != nil {
		return err
	}
	b.selection.Release(sourceWidgetID, append([]string{componentID}, desc...)...)
	b.bus.Publish(events.ComponentMoved, ComponentPayload{
		WidgetID: destinationWidgetID, ComponentID: componentID, InstanceID: comp.InstanceID,
		ParentID: newParentID, FromWidgetID: sourceWidgetID,
	})
	b.hierarchyChanged("component-relocated", sourceWidgetID, destinationWidgetID)
	return nil
}

// CopyComponentToWidget переносит поддерево в другой виджет, создавая для
// каждого размещения новый экземпляр (родители раньше потомков). Старые
// экземпляры освобождаются после успеха, созданные удаляются при ошибке.
// Возвращает отображение старых id экземпляров в новые.
func (b *Builder) CopyComponentToWidget(sourceWidgetID, componentID, destinationWidgetID, newParentID string) (map[string]string, error) {
	if destinationWidgetID == "" || destinationWidgetID == sourceWidgetID {
		return nil, fmt.Errorf("%w: %s", ErrSameWidget, sourceWidgetID)
	}
	root := b.store.FindComponent(sourceWidgetID, componentID)
	if root == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrComponentNotFound, componentID)
	}
	if b.store.Widget(destinationWidgetID) == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrWidgetNotFound, destinationWidgetID)
	}
	desc, err := b.store.Descendants(sourceWidgetID, componentID)
	if err != nil {
		return nil, err
	}

	old := []string{root.InstanceID}
	for _, id := range desc {
		if c := b.store.FindComponent(sourceWidgetID, id); c != nil {
			old = append(old, c.InstanceID)
		}
	}
	instanceMap := make(map[string]string, len(old))
	created := make([]string, 0, len(old))
	for _, id := range old {
		dup, err := b.instances.Duplicate(id)
		if err != nil {
			b.releaseInstances(created...)
			return nil, fmt.Errorf("duplicate instance %s: %w", id, err)
		}
		instanceMap[id] = dup.ID
		created = append(created, dup.ID)
	}

	err = b.store.Move(store.MoveRequest{
		SourceWidgetID:      sourceWidgetID,
		ComponentID:         componentID,
		NewParentID:         newParentID,
		DestinationWidgetID: destinationWidgetID,
		InstanceMap:         instanceMap,
	})
	if err != nil {
		b.releaseInstances(created...)
		b.log.Warn().Err(err).Str("component", componentID).Int("rolledBack", len(created)).Msg("copy move failed")
		return nil, err
	}
	b.releaseInstances(old...)
	b.selection.Release(sourceWidgetID, append([]string{componentID}, desc...)...)

	b.log.Info().Str("component", componentID).Str("from", sourceWidgetID).Str("to", destinationWidgetID).
		Int("instances", len(created)).Msg("component copied to widget")
	b.bus.Publish(events.ComponentMoved, ComponentPayload{
		WidgetID: destinationWidgetID, ComponentID: componentID, InstanceID: instanceMap[root.InstanceID],
		ParentID: newParentID, FromWidgetID: sourceWidgetID, Copied: true,
	})
	b.hierarchyChanged("component-copied", sourceWidgetID, destinationWidgetID)
	return instanceMap, nil
}

// ReorderComponents ставит компонент до или после цели внутри контейнера
// (containerID == widgetID означает корень).
func (b *Builder) ReorderComponents(widgetID, containerID, componentID, targetID string, pos store.DropPosition) error {
	if b.store.FindComponent(widgetID, componentID) == nil {
		return fmt.Errorf("%w: %s", store.ErrComponentNotFound, componentID)
	}
	parentID := containerID
	if containerID == widgetID {
		parentID = ""
	}
	target := b.store.FindComponent(widgetID, targetID)
	if target == nil || target.ParentID != parentID {
		return fmt.Errorf("%w: %s in container %s", store.ErrTargetNotFound, targetID, containerID)
	}
	if err := b.store.Reorder(widgetID, containerID, componentID, targetID, pos); err != nil {
		return err
	}

	// расхождение с ожидаемым порядком не фатально, но должно быть видно
	if order, err := b.store.SiblingOrder(widgetID, containerID); err == nil {
		if !adjacent(order, componentID, targetID, pos) {
			b.log.Warn().Strs("order", order).Str("component", componentID).Str("target", targetID).
				Msg("reorder post-condition mismatch")
		}
	}
	b.bus.Publish(events.ComponentReordered, ComponentPayload{
		WidgetID: widgetID, ComponentID: componentID, ParentID: parentID,
	})
	b.hierarchyChanged("component-reordered", widgetID)
	return nil
}

func adjacent(order []string, componentID, targetID string, pos store.DropPosition) bool {
	for i, id := range order {
		if id != targetID {
			continue
		}
		if pos == store.Before {
			return i > 0 && order[i-1] == componentID
		}
		return i+1 < len(order) && order[i+1] == componentID
	}
	return false
}

// Hierarchy строит дерево отображения виджета.
func (b *Builder) Hierarchy(ctx context.Context, widgetID string, opts store.HierarchyOptions) ([]*store.HierarchyNode, error) {
	return b.store.GetComponentHierarchy(ctx, widgetID, opts)
}

// ============================================================
// Selection
// ============================================================

func (b *Builder) Select(session, widgetID, componentID string) error {
	if b.store.FindComponent(widgetID, componentID) == nil {
		return fmt.Errorf("%w: %s", store.ErrComponentNotFound, componentID)
	}
	sel := Selection{WidgetID: widgetID, ComponentID: componentID}
	b.selection.Select(session, sel)
	b.bus.Publish(events.ComponentSelected, SelectionPayload{Session: session, Selection: sel})
	return nil
}

func (b *Builder) Deselect(session string) {
	b.selection.Deselect(session)
	b.bus.Publish(events.ComponentSelected, SelectionPayload{Session: session})
}

func (b *Builder) Selected(session string) (Selection, bool) {
	return b.selection.Resolve(session)
}

// ============================================================
// Persistence
// ============================================================

// Restore загружает сохранённые документы. Отсутствующий документ
// оставляет соответствующее хранилище пустым.
func (b *Builder) Restore(ctx context.Context) error {
	if b.docs == nil {
		return nil
	}
	idoc, err := b.docs.LoadInstances(ctx)
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		b.log.Info().Msg("no saved instances")
	case err != nil:
		return fmt.Errorf("load instances: %w", err)
	default:
		if err := b.instances.Load(idoc); err != nil {
			return fmt.Errorf("restore instances: %w", err)
		}
	}

	rdoc, err := b.docs.LoadRegistry(ctx)
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound):
		b.log.Info().Msg("no saved registry")
		return nil
	case err != nil:
		return fmt.Errorf("load registry: %w", err)
	}
	if err := b.store.Load(rdoc); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}

	missing := 0
	for _, w := range b.store.Widgets() {
		for _, c := range w.Components {
			if _, err := b.instances.Instance(c.InstanceID); err != nil {
				missing++
			}
		}
	}
	ev := b.log.Info()
	if missing > 0 {
		ev = b.log.Warn()
	}
	ev.Int("widgets", len(rdoc.Widgets)).Int("missingInstances", missing).Msg("state restored")
	return nil
}

// Persist принудительно записывает оба документа.
func (b *Builder) Persist(ctx context.Context) error {
	if b.docs == nil {
		return nil
	}
	if err := b.docs.SaveInstances(ctx, b.instances.Document()); err != nil {
		return fmt.Errorf("save instances: %w", err)
	}
	if err := b.docs.SaveRegistry(ctx, b.store.Document()); err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}
