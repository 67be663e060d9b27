// Package store хранит виджеты и дерево размещений компонентов внутри
// каждого виджета. Все структурные изменения проходят через Store, который
// после каждой мутации пересчитывает ChildIDs и порядок соседей и
// записывает документ реестра через Persister.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"widget-builder/internal/builder/models"
)

// ============================================================
// Errors
// ============================================================

var (
	ErrWidgetNotFound    = errors.New("widget not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrParentNotFound    = errors.New("parent component not found")
	ErrTargetNotFound    = errors.New("target component not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCycle             = errors.New("move would create a cycle")
)

// SchemaVersion это версия формата документа реестра.
const SchemaVersion = "1.0.0"

// Document это сериализуемое состояние реестра виджетов.
type Document struct {
	SchemaVersion  string                    `json:"schemaVersion"`
	Widgets        map[string]*models.Widget `json:"widgets"`
	Order          []string                  `json:"order,omitempty"`
	ActiveWidgetID string                    `json:"activeWidgetId"`
}

// Persister получает документ после каждой мутации.
type Persister interface {
	SaveRegistry(ctx context.Context, doc *Document) error
}

// ============================================================
// Store
// ============================================================

type Store struct {
	mu       sync.Mutex
	widgets  map[string]*models.Widget
	order    []string
	activeID string

	persister Persister
	resolver  Resolver
	log       zerolog.Logger

	resizeDelay  time.Duration
	pending      map[string]resizeTask
	resizeSeq    uint64
	onGeometry   func(models.Widget)
	retries      int
	retryBackoff time.Duration
}

type Option func(*Store)

func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

func WithResolver(r Resolver) Option {
	return func(s *Store) { s.resolver = r }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithResizeDelay задаёт задержку отложенного пересчёта размера виджета.
func WithResizeDelay(d time.Duration) Option {
	return func(s *Store) { s.resizeDelay = d }
}

// WithGeometryHook вызывается (вне блокировки) после автоматического
// изменения размера виджета.
func WithGeometryHook(fn func(models.Widget)) Option {
	return func(s *Store) { s.onGeometry = fn }
}

// WithRetry задаёт число попыток и шаг задержки при разрешении экземпляров.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.retries = attempts
		}
		s.retryBackoff = backoff
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		widgets:      make(map[string]*models.Widget),
		pending:      make(map[string]resizeTask),
		log:          zerolog.Nop(),
		resizeDelay:  50 * time.Millisecond,
		retries:      3,
		retryBackoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close останавливает отложенные пересчёты геометрии.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.pending {
		task.timer.Stop()
		delete(s.pending, id)
	}
}

// ============================================================
// Persistence
// ============================================================

// persistLocked пишет документ через Persister. Ошибка записи не
// откатывает мутацию: состояние в памяти остаётся источником истины.
func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveRegistry(context.Background(), s.documentLocked()); err != nil {
		s.log.Error().Err(err).Msg("persist registry")
	}
}

func (s *Store) documentLocked() *Document {
	doc := &Document{
		SchemaVersion:  SchemaVersion,
		Widgets:        make(map[string]*models.Widget, len(s.widgets)),
		Order:          append([]string(nil), s.order...),
		ActiveWidgetID: s.activeID,
	}
	for id, w := range s.widgets {
		doc.Widgets[id] = w.Clone()
	}
	return doc
}

// Document возвращает глубокую копию текущего состояния.
func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentLocked()
}

// Load заменяет состояние содержимым документа. Документ, нарушающий
// инварианты дерева, отклоняется целиком.
func (s *Store) Load(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidArgument)
	}
	widgets := make(map[string]*models.Widget, len(doc.Widgets))
	for id, w := range doc.Widgets {
		if w == nil || w.ID != id {
			return fmt.Errorf("%w: widget key %q does not match its id", ErrInvalidArgument, id)
		}
		c := w.Clone()
		normalize(c)
		widgets[id] = c
	}
	order := make([]string, 0, len(widgets))
	seen := make(map[string]bool, len(widgets))
	for _, id := range doc.Order {
		if _, ok := widgets[id]; ok && !seen[id] {
			order = append(order, id)
			seen[id] = true
		}
	}
	for _, id := range sortedKeys(widgets) {
		if !seen[id] {
			order = append(order, id)
		}
	}
	if err := validateWidgets(widgets); err != nil {
		return err
	}
	active := doc.ActiveWidgetID
	if _, ok := widgets[active]; !ok {
		active = ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.pending {
		task.timer.Stop()
		delete(s.pending, id)
	}
	s.widgets = widgets
	s.order = order
	s.activeID = active
	return nil
}

// ============================================================
// Invariants
// ============================================================

// Validate проверяет инварианты дерева размещений во всех виджетах.
func (s *Store) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return validateWidgets(s.widgets)
}

func validateWidgets(widgets map[string]*models.Widget) error {
	instances := make(map[string]string)
	for _, wid := range sortedKeys(widgets) {
		w := widgets[wid]
		if err := validateWidget(w); err != nil {
			return fmt.Errorf("widget %s: %w", wid, err)
		}
		for _, c := range w.Components {
			if other, ok := instances[c.InstanceID]; ok {
				return fmt.Errorf("instance %s shared by widgets %s and %s", c.InstanceID, other, wid)
			}
			instances[c.InstanceID] = wid
		}
	}
	return nil
}

func validateWidget(w *models.Widget) error {
	byID := make(map[string]*models.WidgetComponent, len(w.Components))
	for i := range w.Components {
		c := &w.Components[i]
		if c.ID == "" {
			return errors.New("component with empty id")
		}
		if _, dup := byID[c.ID]; dup {
			return fmt.Errorf("duplicate component id %s", c.ID)
		}
		byID[c.ID] = c
	}
	groups := make(map[string][]*models.WidgetComponent)
	for i := range w.Components {
		c := &w.Components[i]
		if c.ParentID != "" {
			if _, ok := byID[c.ParentID]; !ok {
				return fmt.Errorf("component %s has unknown parent %s", c.ID, c.ParentID)
			}
		}
		groups[c.ParentID] = append(groups[c.ParentID], c)
	}
	for i := range w.Components {
		c := &w.Components[i]
		kids := w.Children(c.ID)
		if len(kids) != len(c.ChildIDs) {
			return fmt.Errorf("component %s childIds out of sync", c.ID)
		}
		for j, k := range kids {
			if c.ChildIDs[j] != k.ID {
				return fmt.Errorf("component %s childIds out of order", c.ID)
			}
		}
		// цикл: подъём по родителям не может длиться дольше числа узлов
		steps := 0
		for p := c.ParentID; p != ""; p = byID[p].ParentID {
			if p == c.ID || steps > len(byID) {
				return fmt.Errorf("component %s is its own ancestor", c.ID)
			}
			steps++
		}
	}
	for parent, list := range groups {
		seen := make([]bool, len(list))
		for _, c := range list {
			if c.ZIndex < 0 || c.ZIndex >= len(list) || seen[c.ZIndex] {
				return fmt.Errorf("sibling order under %q is not dense", parent)
			}
			seen[c.ZIndex] = true
		}
	}
	return nil
}
