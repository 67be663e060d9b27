package service

import (
	"sync"

	"github.com/google/uuid"
)

// ============================================================
// Selection Manager
// ============================================================

// Selection это выбранный в редакторе компонент.
type Selection struct {
	WidgetID    string `json:"widgetId"`
	ComponentID string `json:"componentId"`
}

// SelectionManager хранит выделение отдельно для каждой сессии редактора.
type SelectionManager struct {
	mu       sync.Mutex
	sessions map[string]Selection // session -> selection
}

func NewSelectionManager() *SelectionManager {
	return &SelectionManager{
		sessions: make(map[string]Selection),
	}
}

// Issue открывает новую сессию без выделения.
func (m *SelectionManager) Issue() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := uuid.NewString()
	m.sessions[session] = Selection{}
	return session
}

func (m *SelectionManager) Select(session string, sel Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session] = sel
}

func (m *SelectionManager) Deselect(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session]; ok {
		m.sessions[session] = Selection{}
	}
}

func (m *SelectionManager) Resolve(session string) (Selection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sel, ok := m.sessions[session]
	return sel, ok && sel.ComponentID != ""
}

// Release снимает выделение во всех сессиях, где выбран один из
// componentIDs виджета widgetID (пустой список: любой компонент виджета).
// Возвращает затронутые сессии.
func (m *SelectionManager) Release(widgetID string, componentIDs ...string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make(map[string]bool, len(componentIDs))
	for _, id := range componentIDs {
		ids[id] = true
	}
	var released []string
	for session, sel := range m.sessions {
		if sel.WidgetID != widgetID || sel.ComponentID == "" {
			continue
		}
		if len(ids) == 0 || ids[sel.ComponentID] {
			m.sessions[session] = Selection{}
			released = append(released, session)
		}
	}
	return released
}
