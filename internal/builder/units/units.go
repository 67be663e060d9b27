// Package units описывает измерения с единицами (px, rem, %, deg ...) и их
// пересчёт. Значение хранится вместе с единицей и переводится в пиксели
// позже, когда известен Context (размер контейнера, размер шрифта корня).
package units

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ============================================================
// Units
// ============================================================

// стандартные коэффициенты: 1in = 96px
const (
	PxPerInch = 96.0
	MmPerInch = 25.4
	CmPerInch = 2.54
	PtPerInch = 72.0
)

type Unit string

const (
	Px      Unit = "px"
	Rem     Unit = "rem"
	Em      Unit = "em"
	Percent Unit = "%"
	Vw      Unit = "vw"
	Vh      Unit = "vh"
	Cm      Unit = "cm"
	Mm      Unit = "mm"
	In      Unit = "in"
	Pt      Unit = "pt"

	Deg  Unit = "deg"
	Rad  Unit = "rad"
	Grad Unit = "grad"
	Turn Unit = "turn"
)

type Category string

const (
	Length Category = "length"
	Angle  Category = "angle"
)

var categories = map[Unit]Category{
	Px: Length, Rem: Length, Em: Length, Percent: Length, Vw: Length, Vh: Length,
	Cm: Length, Mm: Length, In: Length, Pt: Length,
	Deg: Angle, Rad: Angle, Grad: Angle, Turn: Angle,
}

var (
	ErrUnknownUnit      = errors.New("unknown unit")
	ErrCategoryMismatch = errors.New("units belong to different categories")
	ErrContextRequired  = errors.New("conversion context required")
)

// CategoryOf возвращает категорию единицы.
func CategoryOf(u Unit) (Category, error) {
	c, ok := categories[u]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownUnit, u)
	}
	return c, nil
}

// Relative сообщает, нужен ли единице Context для перевода в пиксели.
func (u Unit) Relative() bool {
	switch u {
	case Rem, Em, Percent, Vw, Vh:
		return true
	}
	return false
}

// Context содержит опорные величины для относительных единиц.
type Context struct {
	ContainerSize  float64 `json:"containerSize"`
	RootFontSize   float64 `json:"rootFontSize"`
	FontSize       float64 `json:"fontSize,omitempty"`
	ViewportWidth  float64 `json:"viewportWidth,omitempty"`
	ViewportHeight float64 `json:"viewportHeight,omitempty"`
}

// pxPerUnit возвращает число пикселей в одной единице u.
func pxPerUnit(u Unit, ctx *Context) (float64, error) {
	switch u {
	case Px:
		return 1, nil
	case Cm:
		return PxPerInch / CmPerInch, nil
	case Mm:
		return PxPerInch / MmPerInch, nil
	case In:
		return PxPerInch, nil
	case Pt:
		return PxPerInch / PtPerInch, nil
	}
	if ctx == nil {
		return 0, fmt.Errorf("%w: %s", ErrContextRequired, u)
	}
	var f float64
	switch u {
	case Rem:
		f = ctx.RootFontSize
	case Em:
		f = ctx.FontSize
		if f == 0 {
			f = ctx.RootFontSize
		}
	case Percent:
		f = ctx.ContainerSize / 100
	case Vw:
		f = ctx.ViewportWidth / 100
	case Vh:
		f = ctx.ViewportHeight / 100
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownUnit, u)
	}
	if f == 0 {
		return 0, fmt.Errorf("%w: %s with empty reference value", ErrContextRequired, u)
	}
	return f, nil
}

func degPerUnit(u Unit) float64 {
	switch u {
	case Rad:
		return 180 / math.Pi
	case Grad:
		return 0.9
	case Turn:
		return 360
	}
	return 1
}

// ============================================================
// Measurement
// ============================================================

// Measurement это число с единицей измерения.
type Measurement struct {
	Value float64 `json:"value"`
	Unit  Unit    `json:"unit"`
}

// New создаёт измерение.
func New(v float64, u Unit) Measurement {
	return Measurement{Value: v, Unit: u}
}

// PxOf создаёт измерение в пикселях.
func PxOf(v float64) Measurement {
	return Measurement{Value: v, Unit: Px}
}

// Parse разбирает строку вида "12px", "50%", "1.5rem" или "90deg".
// Число без единицы считается пикселями.
func Parse(s string) (Measurement, error) {
	s = strings.TrimSpace(s)
	i := len(s)
	for i > 0 {
		ch := s[i-1]
		if (ch >= '0' && ch <= '9') || ch == '.' {
			break
		}
		i--
	}
	num, unit := s[:i], Unit(strings.ToLower(s[i:]))
	if unit == "" {
		unit = Px
	}
	if _, err := CategoryOf(unit); err != nil {
		return Measurement{}, err
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return Measurement{Value: v, Unit: unit}, nil
}

func (m Measurement) String() string {
	return strconv.FormatFloat(m.Value, 'f', -1, 64) + string(m.Unit)
}

// Convert переводит измерение в единицу to. Перевод между категориями
// (длина и угол) запрещён, относительные единицы без ctx дают ErrContextRequired.
func (m Measurement) Convert(to Unit, ctx *Context) (Measurement, error) {
	from, err := CategoryOf(m.Unit)
	if err != nil {
		return Measurement{}, err
	}
	target, err := CategoryOf(to)
	if err != nil {
		return Measurement{}, err
	}
	if from != target {
		return Measurement{}, fmt.Errorf("%w: %s -> %s", ErrCategoryMismatch, m.Unit, to)
	}
	if m.Unit == to {
		return m, nil
	}
	if from == Angle {
		return Measurement{Value: m.Value * degPerUnit(m.Unit) / degPerUnit(to), Unit: to}, nil
	}
	src, err := pxPerUnit(m.Unit, ctx)
	if err != nil {
		return Measurement{}, err
	}
	dst, err := pxPerUnit(to, ctx)
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Value: m.Value * src / dst, Unit: to}, nil
}

// ToPx возвращает значение в пикселях.
func (m Measurement) ToPx(ctx *Context) (float64, error) {
	px, err := m.Convert(Px, ctx)
	if err != nil {
		return 0, err
	}
	return px.Value, nil
}
