package store

import (
	"math"
	"time"

	"widget-builder/internal/builder/models"
	"widget-builder/internal/builder/units"
)

// ============================================================
// Geometry
// ============================================================

const (
	gridColumns = 3
	gridSpacing = 10.0

	resizePadding   = 20.0
	MinWidgetWidth  = 200.0
	MinWidgetHeight = 150.0
)

// gridPosition раскладывает n-го потомка по сетке внутри родителя, чтобы
// новые потомки не перекрывали друг друга.
func gridPosition(n int) units.Position {
	col, row := n%gridColumns, n/gridColumns
	return units.Pos(
		gridSpacing+float64(col)*(DefaultComponentWidth+gridSpacing),
		gridSpacing+float64(row)*(DefaultComponentHeight+gridSpacing),
	)
}

// scheduleResizeLocked ставит (или переставляет) отложенный пересчёт
// размера виджета. Повторные добавления заменяют ещё не сработавшую задачу.
func (s *Store) scheduleResizeLocked(widgetID string) {
	if task, ok := s.pending[widgetID]; ok {
		task.timer.Stop()
	}
	s.resizeSeq++
	seq := s.resizeSeq
	s.pending[widgetID] = resizeTask{
		seq:   seq,
		timer: time.AfterFunc(s.resizeDelay, func() { s.runResize(widgetID, seq) }),
	}
}

// resizeTask это отложенный пересчёт геометрии одного виджета.
type resizeTask struct {
	seq   uint64
	timer *time.Timer
}

func (s *Store) runResize(widgetID string, seq uint64) {
	s.mu.Lock()
	if task, ok := s.pending[widgetID]; !ok || task.seq != seq {
		// задачу уже заменили или отменили
		s.mu.Unlock()
		return
	}
	delete(s.pending, widgetID)
	w, ok := s.widgets[widgetID]
	if !ok || w.IsEditMode {
		s.mu.Unlock()
		return
	}
	width, height := fitSize(w)
	cw, ch, err := w.Size.ToPx(nil)
	if err == nil && cw == width && ch == height {
		s.mu.Unlock()
		return
	}
	w.Size = units.Sz(width, height)
	s.log.Debug().Str("widget", widgetID).Float64("width", width).Float64("height", height).Msg("widget resized")
	s.persistLocked()
	snapshot := *w.Clone()
	hook := s.onGeometry
	s.mu.Unlock()

	if hook != nil {
		hook(snapshot)
	}
}

// PendingResize сообщает, ожидает ли виджет пересчёта геометрии.
func (s *Store) PendingResize(widgetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[widgetID]
	return ok
}

// fitSize считает размер, охватывающий все компоненты виджета с отступом.
// Позиции потомков отсчитываются от родителя. Компоненты с относительными
// единицами считаются относительно текущего размера виджета.
func fitSize(w *models.Widget) (float64, float64) {
	ww, wh, err := w.Size.ToPx(nil)
	if err != nil {
		ww, wh = DefaultWidgetWidth, DefaultWidgetHeight
	}
	ctxX := &units.Context{ContainerSize: ww, RootFontSize: 16, ViewportWidth: ww, ViewportHeight: wh}
	ctxY := &units.Context{ContainerSize: wh, RootFontSize: 16, ViewportWidth: ww, ViewportHeight: wh}

	type box struct{ x, y, w, h float64 }
	boxes := make(map[string]box, len(w.Components))
	var place func(c *models.WidgetComponent, depth int) box
	place = func(c *models.WidgetComponent, depth int) box {
		if b, ok := boxes[c.ID]; ok {
			return b
		}
		x, _ := c.Position.X.ToPx(ctxX)
		y, _ := c.Position.Y.ToPx(ctxY)
		bw, _ := c.Size.Width.ToPx(ctxX)
		bh, _ := c.Size.Height.ToPx(ctxY)
		if p := w.Component(c.ParentID); p != nil && depth < len(w.Components) {
			pb := place(p, depth+1)
			x, y = x+pb.x, y+pb.y
		}
		b := box{x, y, bw, bh}
		boxes[c.ID] = b
		return b
	}

	maxX, maxY := 0.0, 0.0
	for i := range w.Components {
		b := place(&w.Components[i], 0)
		maxX = math.Max(maxX, b.x+b.w)
		maxY = math.Max(maxY, b.y+b.h)
	}
	return math.Max(MinWidgetWidth, maxX+resizePadding), math.Max(MinWidgetHeight, maxY+resizePadding)
}
