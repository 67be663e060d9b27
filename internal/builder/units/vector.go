package units

// Position это точка из двух измерений.
type Position struct {
	X Measurement `json:"x"`
	Y Measurement `json:"y"`
}

// Size это ширина и высота.
type Size struct {
	Width  Measurement `json:"width"`
	Height Measurement `json:"height"`
}

// Pos создаёт позицию в пикселях.
func Pos(x, y float64) Position {
	return Position{X: PxOf(x), Y: PxOf(y)}
}

// Sz создаёт размер в пикселях.
func Sz(w, h float64) Size {
	return Size{Width: PxOf(w), Height: PxOf(h)}
}

// Valid сообщает, что обе координаты заданы известными единицами длины.
func (p Position) Valid() bool {
	return isLength(p.X) && isLength(p.Y)
}

func (s Size) Valid() bool {
	return isLength(s.Width) && isLength(s.Height)
}

func isLength(m Measurement) bool {
	c, err := CategoryOf(m.Unit)
	return err == nil && c == Length
}

// Convert переводит обе координаты в единицу u.
func (p Position) Convert(u Unit, ctx *Context) (Position, error) {
	x, err := p.X.Convert(u, ctx)
	if err != nil {
		return Position{}, err
	}
	y, err := p.Y.Convert(u, ctx)
	if err != nil {
		return Position{}, err
	}
	return Position{X: x, Y: y}, nil
}

// ToPx возвращает координаты в пикселях.
func (p Position) ToPx(ctx *Context) (x, y float64, err error) {
	px, err := p.Convert(Px, ctx)
	if err != nil {
		return 0, 0, err
	}
	return px.X.Value, px.Y.Value, nil
}

// Add складывает позиции, предварительно переводя обе в пиксели.
func (p Position) Add(o Position, ctx *Context) (Position, error) {
	ax, ay, err := p.ToPx(ctx)
	if err != nil {
		return Position{}, err
	}
	bx, by, err := o.ToPx(ctx)
	if err != nil {
		return Position{}, err
	}
	return Pos(ax+bx, ay+by), nil
}

func (s Size) Convert(u Unit, ctx *Context) (Size, error) {
	w, err := s.Width.Convert(u, ctx)
	if err != nil {
		return Size{}, err
	}
	h, err := s.Height.Convert(u, ctx)
	if err != nil {
		return Size{}, err
	}
	return Size{Width: w, Height: h}, nil
}

func (s Size) ToPx(ctx *Context) (w, h float64, err error) {
	px, err := s.Convert(Px, ctx)
	if err != nil {
		return 0, 0, err
	}
	return px.Width.Value, px.Height.Value, nil
}

// Add складывает размеры в пикселях.
func (s Size) Add(o Size, ctx *Context) (Size, error) {
	aw, ah, err := s.ToPx(ctx)
	if err != nil {
		return Size{}, err
	}
	bw, bh, err := o.ToPx(ctx)
	if err != nil {
		return Size{}, err
	}
	return Sz(aw+bw, ah+bh), nil
}
