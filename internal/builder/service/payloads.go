package service

import "widget-builder/internal/builder/models"

// Полезная нагрузка публикуемых событий.

type WidgetPayload struct {
	WidgetID string         `json:"widgetId"`
	Widget   *models.Widget `json:"widget,omitempty"`
}

type ComponentPayload struct {
	WidgetID     string                  `json:"widgetId"`
	ComponentID  string                  `json:"componentId"`
	InstanceID   string                  `json:"instanceId,omitempty"`
	ParentID     string                  `json:"parentId,omitempty"`
	FromWidgetID string                  `json:"fromWidgetId,omitempty"`
	Copied       bool                    `json:"copied,omitempty"`
	Removed      []string                `json:"removed,omitempty"`
	Component    *models.WidgetComponent `json:"component,omitempty"`
}

type SelectionPayload struct {
	Session string `json:"session"`
	Selection
}

type HierarchyPayload struct {
	WidgetIDs []string `json:"widgetIds"`
	Reason    string   `json:"reason"`
}
