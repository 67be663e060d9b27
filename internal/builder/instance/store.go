// Package instance хранит живые экземпляры компонентов: их переопределения,
// состояние взаимодействия и связи между экземплярами. Дереву размещений
// отсюда нужны только создание, поиск и удаление экземпляра.
package instance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"

	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/store"
)

// ============================================================
// Errors
// ============================================================

var (
	ErrDefinitionNotFound = errors.New("DEFINITION_NOT_FOUND")
	ErrInstanceNotFound   = errors.New("INSTANCE_NOT_FOUND")
	ErrBindingNotFound    = errors.New("BINDING_NOT_FOUND")
)

// ============================================================
// Types
// ============================================================

// State это простое состояние взаимодействия с экземпляром.
type State struct {
	Hovered  bool `json:"hovered"`
	Focused  bool `json:"focused"`
	Active   bool `json:"active"`
	Disabled bool `json:"disabled"`
}

type Instance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definitionId"`
	Type         string         `json:"type"`
	Label        string         `json:"label"`
	Overrides    map[string]any `json:"overrides"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	State        State          `json:"state"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Binding связывает свойство одного экземпляра с выражением над другим.
type Binding struct {
	ID         string `json:"id"`
	SourceID   string `json:"sourceId"`
	SourceProp string `json:"sourceProp"`
	TargetID   string `json:"targetId"`
	TargetProp string `json:"targetProp"`
	Expression string `json:"expression,omitempty"`
}

// Document это сериализуемое состояние хранилища экземпляров.
type Document struct {
	Instances map[string]*Instance `json:"instances"`
	Bindings  []Binding            `json:"bindings"`
}

// Persister получает документ после каждой мутации.
type Persister interface {
	SaveInstances(ctx context.Context, doc *Document) error
}

// ============================================================
// Store
// ============================================================

type Store struct {
	mu        sync.Mutex
	catalog   *Catalog
	instances map[string]*Instance
	bindings  map[string]Binding
	persister Persister
	log       zerolog.Logger
	now       func() time.Time
}

func NewStore(catalog *Catalog, persister Persister, log zerolog.Logger) *Store {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Store{
		catalog:   catalog,
		instances: make(map[string]*Instance),
		bindings:  make(map[string]Binding),
		persister: persister,
		log:       log,
		now:       time.Now,
	}
}

func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// CreateFromDefinition создаёт экземпляр с новым id. Значения по умолчанию
// из определения перекрываются overrides; ключ "label" задаёт подпись.
func (s *Store) CreateFromDefinition(definitionID string, overrides map[string]any) (*Instance, error) {
	def, ok := s.catalog.Definition(definitionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, definitionID)
	}
	merged := make(map[string]any, len(def.Defaults)+len(overrides))
	for k, v := range copyProps(def.Defaults) {
		merged[k] = v
	}
	for k, v := range copyProps(overrides) {
		merged[k] = v
	}
	label := def.Label
	if l, ok := merged["label"].(string); ok && l != "" {
		label = l
	}
	inst := &Instance{
		ID:           models.NewID(),
		DefinitionID: def.ID,
		Type:         def.Type,
		Label:        label,
		Overrides:    merged,
		CreatedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = inst
	s.log.Debug().Str("instance", inst.ID).Str("definition", def.ID).Msg("instance created")
	s.persistLocked()
	return cloneInstance(inst), nil
}

// Instance возвращает копию экземпляра.
func (s *Store) Instance(id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return cloneInstance(inst), nil
}

// DeleteInstance удаляет экземпляр и все его связи.
func (s *Store) DeleteInstance(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	delete(s.instances, id)
	for bid, b := range s.bindings {
		if b.SourceID == id || b.TargetID == id {
			delete(s.bindings, bid)
		}
	}
	s.log.Debug().Str("instance", id).Msg("instance deleted")
	s.persistLocked()
	return nil
}

// Duplicate создаёт копию экземпляра с новым id и глубокой копией
// переопределений. Состояние взаимодействия не копируется.
func (s *Store) Duplicate(id string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	dup := cloneInstance(src)
	dup.ID = models.NewID()
	dup.State = State{}
	dup.CreatedAt = s.now().UTC()
	if dup.Metadata == nil {
		dup.Metadata = map[string]any{}
	}
	dup.Metadata["duplicatedFrom"] = id
	s.instances[dup.ID] = dup
	s.persistLocked()
	return cloneInstance(dup), nil
}

// UpdateOverrides сливает patch в переопределения; nil значение удаляет ключ.
func (s *Store) UpdateOverrides(id string, patch map[string]any) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	if inst.Overrides == nil {
		inst.Overrides = map[string]any{}
	}
	for k, v := range copyProps(patch) {
		if v == nil {
			delete(inst.Overrides, k)
			continue
		}
		inst.Overrides[k] = v
	}
	if l, ok := patch["label"].(string); ok && l != "" {
		inst.Label = l
	}
	s.persistLocked()
	return cloneInstance(inst), nil
}

// SetState меняет состояние взаимодействия. Оно не сохраняется на диск.
func (s *Store) SetState(id string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	inst.State = st
	return nil
}

// ============================================================
// Bindings
// ============================================================

func (s *Store) AddBinding(b Binding) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range []string{b.SourceID, b.TargetID} {
		if _, ok := s.instances[id]; !ok {
			return Binding{}, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
	}
	b.ID = models.NewID()
	s.bindings[b.ID] = b
	s.persistLocked()
	return b, nil
}

func (s *Store) RemoveBinding(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBindingNotFound, id)
	}
	delete(s.bindings, id)
	s.persistLocked()
	return nil
}

// Bindings возвращает связи, где экземпляр источник или цель.
func (s *Store) Bindings(instanceID string) []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Binding
	for _, b := range s.bindings {
		if b.SourceID == instanceID || b.TargetID == instanceID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================
// Resolver
// ============================================================

// ResolveInstance реализует store.Resolver.
func (s *Store) ResolveInstance(ctx context.Context, id string) (store.ResolvedInstance, error) {
	if err := ctx.Err(); err != nil {
		return store.ResolvedInstance{}, err
	}
	inst, err := s.Instance(id)
	if err != nil {
		return store.ResolvedInstance{}, err
	}
	out := store.ResolvedInstance{Type: inst.Type, Label: inst.Label}
	if def, ok := s.catalog.Definition(inst.DefinitionID); ok {
		out.Icon = def.Icon
		out.AcceptsChildren = def.AcceptsChildren
	}
	return out, nil
}

// ============================================================
// Persistence
// ============================================================

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveInstances(context.Background(), s.documentLocked()); err != nil {
		s.log.Error().Err(err).Msg("persist instances")
	}
}

func (s *Store) documentLocked() *Document {
	doc := &Document{
		Instances: make(map[string]*Instance, len(s.instances)),
		Bindings:  make([]Binding, 0, len(s.bindings)),
	}
	for id, inst := range s.instances {
		c := cloneInstance(inst)
		c.State = State{}
		doc.Instances[id] = c
	}
	for _, b := range s.bindings {
		doc.Bindings = append(doc.Bindings, b)
	}
	sort.Slice(doc.Bindings, func(i, j int) bool { return doc.Bindings[i].ID < doc.Bindings[j].ID })
	return doc
}

func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentLocked()
}

// Load заменяет состояние содержимым документа.
func (s *Store) Load(doc *Document) error {
	if doc == nil {
		return errors.New("nil instance document")
	}
	instances := make(map[string]*Instance, len(doc.Instances))
	for id, inst := range doc.Instances {
		if inst == nil || inst.ID != id {
			return fmt.Errorf("instance key %q does not match its id", id)
		}
		instances[id] = cloneInstance(inst)
	}
	bindings := make(map[string]Binding, len(doc.Bindings))
	for _, b := range doc.Bindings {
		bindings[b.ID] = b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = instances
	s.bindings = bindings
	return nil
}

// IDs возвращает id всех экземпляров по возрастанию.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneInstance(in *Instance) *Instance {
	out := *in
	out.Overrides = copyProps(in.Overrides)
	out.Metadata = copyProps(in.Metadata)
	return &out
}

// copyProps возвращает независимую копию переопределений (вложенные map и
// срезы тоже копируются). nil остаётся nil.
func copyProps(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	if err := copier.CopyWithOption(&out, &in, copier.Option{DeepCopy: true}); err != nil {
		// map в map того же типа копируется без ошибок
		panic(err)
	}
	return out
}
