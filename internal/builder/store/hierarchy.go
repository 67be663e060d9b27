package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"widget-builder/internal/builder/models"
)

// ============================================================
// Hierarchy tree
// ============================================================

// ResolvedInstance это то, что дереву нужно знать об экземпляре компонента.
type ResolvedInstance struct {
	Type            string
	Label           string
	Icon            string
	AcceptsChildren bool
}

// Resolver находит живой экземпляр компонента по id.
type Resolver interface {
	ResolveInstance(ctx context.Context, instanceID string) (ResolvedInstance, error)
}

var errNoResolver = errors.New("no instance resolver configured")

type NodeKind string

const (
	KindWidget     NodeKind = "widget"
	KindComponent  NodeKind = "component"
	KindUnresolved NodeKind = "unresolved"
)

// NodeData это исходные идентификаторы узла для последующих операций.
type NodeData struct {
	ComponentID  string `json:"componentId,omitempty"`
	WidgetID     string `json:"widgetId"`
	InstanceID   string `json:"instanceId,omitempty"`
	DefinitionID string `json:"definitionId,omitempty"`
}

// NodeDebug заполняется при HierarchyOptions.Debug.
type NodeDebug struct {
	ParentID string   `json:"parentId,omitempty"`
	ZIndex   int      `json:"zIndex"`
	ChildIDs []string `json:"childIds"`
	Attempts int      `json:"attempts"`
}

// HierarchyNode это узел дерева для отображения. Kind различает виджет,
// разрешённый компонент и заглушку для сломанного экземпляра; у заглушки
// заполнен Reason, а перетаскивание запрещено.
type HierarchyNode struct {
	ID       string           `json:"id"`
	Kind     NodeKind         `json:"kind"`
	Type     string           `json:"type"`
	Label    string           `json:"label"`
	Icon     string           `json:"icon"`
	CanDrag  bool             `json:"canDrag"`
	CanDrop  bool             `json:"canDrop"`
	Reason   string           `json:"reason,omitempty"`
	Data     NodeData         `json:"data"`
	Debug    *NodeDebug       `json:"debug,omitempty"`
	Children []*HierarchyNode `json:"children"`
}

// HierarchyOptions: OmitWidget убирает синтетический корень-виджет.
type HierarchyOptions struct {
	Debug      bool
	OmitWidget bool
}

// NodeID собирает отображаемый id "<widgetId>/<componentId>".
func NodeID(widgetID, componentID string) string {
	return widgetID + "/" + componentID
}

var containerTypes = map[string]bool{
	"panel": true, "container": true, "tabs": true, "grid": true,
	"form": true, "card": true, "modal": true, "stack": true,
}

var typeIcons = map[string]string{
	"panel": "layout", "container": "box", "tabs": "folder", "grid": "grid",
	"form": "clipboard", "card": "square", "button": "mouse-pointer",
	"input": "type", "text": "align-left", "image": "image", "icon": "star",
}

func iconForType(t string) string {
	if icon, ok := typeIcons[t]; ok {
		return icon
	}
	return "component"
}

// GetComponentHierarchy строит дерево отображения из плоского списка
// размещений. Состояние снимается под блокировкой, экземпляры разрешаются
// уже вне её, поэтому результат это снимок, который может отстать от
// последующих мутаций. Сломанный экземпляр заменяется заглушкой и не мешает
// построению остального дерева.
func (s *Store) GetComponentHierarchy(ctx context.Context, widgetID string, opts HierarchyOptions) ([]*HierarchyNode, error) {
	s.mu.Lock()
	w, ok := s.widgets[widgetID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWidgetNotFound, widgetID)
	}
	snapshot := w.Clone()
	resolver, attempts, backoff := s.resolver, s.retries, s.retryBackoff
	s.mu.Unlock()

	b := &treeBuilder{
		ctx:      ctx,
		widget:   snapshot,
		resolver: resolver,
		attempts: attempts,
		backoff:  backoff,
		debug:    opts.Debug,
		log:      s.log,
	}
	roots := b.children("", 0)
	if opts.OmitWidget {
		return roots, nil
	}
	label := snapshot.Label
	if label == "" {
		label = snapshot.Name
	}
	return []*HierarchyNode{{
		ID:       snapshot.ID,
		Kind:     KindWidget,
		Type:     "widget",
		Label:    label,
		Icon:     "widget",
		CanDrop:  true,
		Data:     NodeData{WidgetID: snapshot.ID},
		Children: roots,
	}}, nil
}

type treeBuilder struct {
	ctx      context.Context
	widget   *models.Widget
	resolver Resolver
	attempts int
	backoff  time.Duration
	debug    bool
	log      zerolog.Logger
}

func (b *treeBuilder) children(parentID string, depth int) []*HierarchyNode {
	out := []*HierarchyNode{}
	if depth > len(b.widget.Components) {
		return out
	}
	for _, c := range b.widget.Children(parentID) {
		out = append(out, b.node(c, depth))
	}
	return out
}

func (b *treeBuilder) node(c *models.WidgetComponent, depth int) *HierarchyNode {
	n := &HierarchyNode{
		ID: NodeID(b.widget.ID, c.ID),
		Data: NodeData{
			ComponentID:  c.ID,
			WidgetID:     b.widget.ID,
			InstanceID:   c.InstanceID,
			DefinitionID: c.DefinitionID,
		},
	}
	inst, tries, err := b.resolve(c.InstanceID)
	if err != nil {
		b.log.Warn().Err(err).Str("widget", b.widget.ID).Str("component", c.ID).
			Str("instance", c.InstanceID).Int("attempts", tries).Msg("instance unresolved, using placeholder")
		n.Kind = KindUnresolved
		n.Type = "unknown"
		n.Label = fmt.Sprintf("Missing component (%s)", c.DefinitionID)
		n.Icon = "alert-triangle"
		n.Reason = err.Error()
	} else {
		n.Kind = KindComponent
		n.Type = inst.Type
		n.Label = inst.Label
		if n.Label == "" {
			n.Label = inst.Type
		}
		n.Icon = inst.Icon
		if n.Icon == "" {
			n.Icon = iconForType(inst.Type)
		}
		n.CanDrag = true
		n.CanDrop = inst.AcceptsChildren || containerTypes[inst.Type]
	}
	if b.debug {
		n.Debug = &NodeDebug{
			ParentID: c.ParentID,
			ZIndex:   c.ZIndex,
			ChildIDs: append([]string{}, c.ChildIDs...),
			Attempts: tries,
		}
	}
	n.Children = b.children(c.ID, depth+1)
	return n
}

// resolve запрашивает экземпляр с ограниченным числом попыток и линейно
// растущей задержкой между ними.
func (b *treeBuilder) resolve(instanceID string) (ResolvedInstance, int, error) {
	if b.resolver == nil {
		return ResolvedInstance{}, 0, errNoResolver
	}
	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		inst, err := b.resolver.ResolveInstance(b.ctx, instanceID)
		if err == nil {
			return inst, attempt, nil
		}
		lastErr = err
		if attempt == b.attempts {
			return ResolvedInstance{}, attempt, lastErr
		}
		select {
		case <-b.ctx.Done():
			return ResolvedInstance{}, attempt, b.ctx.Err()
		case <-time.After(time.Duration(attempt) * b.backoff):
		}
	}
	return ResolvedInstance{}, b.attempts, lastErr
}
