// Package events публикует доменные события после того, как мутация
// полностью применена, поэтому подписчик всегда видит согласованное состояние.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================
// Event names
// ============================================================

const (
	ComponentAdded     = "component:added"
	ComponentUpdated   = "component:updated"
	ComponentDeleted   = "component:deleted"
	ComponentMoved     = "component:moved"
	ComponentReordered = "component:reordered"
	ComponentSelected  = "component:selected"
	HierarchyChanged   = "hierarchy:changed"
	WidgetCreated      = "widget:created"
	WidgetUpdated      = "widget:updated"
	WidgetDeleted      = "widget:deleted"

	// All подписывает на все события.
	All = "*"
)

type Event struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

type Handler func(Event)

type subscription struct {
	id      uint64
	name    string
	handler Handler
}

// Bus это синхронная шина: Publish вызывает обработчики по порядку
// подписки и возвращается после последнего.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	next uint64
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe регистрирует обработчик на событие name (или All) и возвращает
// функцию отписки.
func (b *Bus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, name: name, handler: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish доставляет событие подписчикам.
func (b *Bus) Publish(name string, payload any) Event {
	ev := Event{ID: uuid.NewString(), Name: name, Time: time.Now().UTC(), Payload: payload}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == name || s.name == All {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
	return ev
}
