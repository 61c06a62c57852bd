package host

import (
	"errors"
	"fmt"
	"strings"
)

// Arrangement lays out nested components.
type Arrangement struct {
	children
	placement
	width, height   int
	align           int
	backgroundColor string
	visible         bool
}

// NewArrangement creates an arrangement inside container.
func NewArrangement(container any) (any, error) {
	a := &Arrangement{width: -1, height: -1, visible: true}
	return a, place(container, a, &a.placement)
}

func (a *Arrangement) Kind() string { return "Arrangement" }
func (a *Arrangement) Width() int { return a.width }
func (a *Arrangement) SetWidth(w int) { a.width = w }
func (a *Arrangement) Height() int { return a.height }
func (a *Arrangement) SetHeight(h int) { a.height = h }
func (a *Arrangement) AlignHorizontal() int { return a.align }
func (a *Arrangement) BackgroundColor() string { return a.backgroundColor }
func (a *Arrangement) SetBackgroundColor(c string) { a.backgroundColor = c }
func (a *Arrangement) Visible() bool { return a.visible }
func (a *Arrangement) SetVisible(v bool) { a.visible = v }

// SetAlignHorizontal accepts 1 (left), 2 (right) or 3 (center).
func (a *Arrangement) SetAlignHorizontal(v int) error {
	if v < 1 || v > 3 {
		return fmt.Errorf("alignment %d out of range", v)
	}
	a.align = v
	return nil
}

// Label shows text.
type Label struct {
	placement
	text     string
	fontSize float64
	color    string
	visible  bool
}

// NewLabel creates a label inside container.
func NewLabel(container any) (any, error) {
	l := &Label{fontSize: 14, visible: true}
	return l, place(container, l, &l.placement)
}

func (l *Label) Kind() string { return "Label" }
func (l *Label) Text() string { return l.text }
func (l *Label) SetText(s string) { l.text = s }
func (l *Label) FontSize() float64 { return l.fontSize }
func (l *Label) SetFontSize(f float64) { l.fontSize = f }
func (l *Label) TextColor() string { return l.color }
func (l *Label) SetTextColor(c string) { l.color = c }
func (l *Label) Visible() bool { return l.visible }
func (l *Label) SetVisible(v bool) { l.visible = v }

// Button is a clickable label.
type Button struct {
	placement
	text    string
	enabled bool
	clicks  int
}

// NewButton creates a button inside container.
func NewButton(container any) (any, error) {
	b := &Button{enabled: true}
	return b, place(container, b, &b.placement)
}

func (b *Button) Kind() string { return "Button" }
func (b *Button) Text() string { return b.text }
func (b *Button) SetText(s string) { b.text = s }
func (b *Button) Enabled() bool { return b.enabled }
func (b *Button) SetEnabled(e bool) { b.enabled = e }
func (b *Button) Clicks() int { return b.clicks }

// Click registers a press. Disabled buttons reject it.
func (b *Button) Click() error {
	if !b.enabled {
		return errors.New("button is disabled")
	}
	b.clicks++
	return nil
}

// TextBox accepts user input.
type TextBox struct {
	placement
	text        string
	hint        string
	multiLine   bool
	numbersOnly bool
}

// NewTextBox creates a text box inside container.
func NewTextBox(container any) (any, error) {
	t := &TextBox{}
	return t, place(container, t, &t.placement)
}

func (t *TextBox) Kind() string { return "TextBox" }
func (t *TextBox) Text() string { return t.text }
func (t *TextBox) Hint() string { return t.hint }
func (t *TextBox) SetHint(h string) { t.hint = h }
func (t *TextBox) MultiLine() bool { return t.multiLine }
func (t *TextBox) SetMultiLine(m bool) { t.multiLine = m }
func (t *TextBox) NumbersOnly() bool { return t.numbersOnly }
func (t *TextBox) SetNumbersOnly(n bool) { t.numbersOnly = n }
func (t *TextBox) Clear() { t.text = "" }

// SetText replaces the content. NumbersOnly boxes reject non-digits.
func (t *TextBox) SetText(s string) error {
	if t.numbersOnly && strings.Trim(s, "0123456789.-") != "" {
		return fmt.Errorf("%q is not numeric", s)
	}
	t.text = s
	return nil
}

// Canvas is a drawing surface that holds sprites.
type Canvas struct {
	children
	placement
	width, height int
}

// NewCanvas creates a canvas inside container.
func NewCanvas(container any) (any, error) {
	c := &Canvas{width: 320, height: 240}
	return c, place(container, c, &c.placement)
}

func (c *Canvas) Kind() string { return "Canvas" }
func (c *Canvas) Width() int { return c.width }
func (c *Canvas) SetWidth(w int) { c.width = w }
func (c *Canvas) Height() int { return c.height }
func (c *Canvas) SetHeight(h int) { c.height = h }

// Sprite is a movable image on a canvas. It must be initialized after
// construction before it moves.
type Sprite struct {
	placement
	x, y        float64
	heading     float64
	picture     string
	initialized bool
}

// NewSprite creates a sprite inside container, which must be a Canvas.
func NewSprite(container any) (any, error) {
	if _, ok := container.(*Canvas); !ok {
		return nil, fmt.Errorf("%w: sprites need a Canvas, got %T", ErrNotAContainer, container)
	}
	s := &Sprite{}
	return s, place(container, s, &s.placement)
}

func (s *Sprite) Kind() string { return "Sprite" }
func (s *Sprite) X() float64 { return s.x }
func (s *Sprite) SetX(x float64) { s.x = x }
func (s *Sprite) Y() float64 { return s.y }
func (s *Sprite) SetY(y float64) { s.y = y }
func (s *Sprite) Heading() float64 { return s.heading }
func (s *Sprite) SetHeading(h float64) { s.heading = h }
func (s *Sprite) Picture() string { return s.picture }
func (s *Sprite) SetPicture(p string) { s.picture = p }
func (s *Sprite) Initialized() bool { return s.initialized }

// Initialize clamps the sprite into its canvas.
func (s *Sprite) Initialize() {
	if c, ok := s.Parent().(*Canvas); ok {
		s.x = min(max(s.x, 0), float64(c.width))
		s.y = min(max(s.y, 0), float64(c.height))
	}
	s.initialized = true
}

// MoveTo places the sprite at (x, y).
func (s *Sprite) MoveTo(x, y float64) error {
	if !s.initialized {
		return errors.New("sprite is not initialized")
	}
	s.x, s.y = x, y
	return nil
}

// Clock is a non-visible timer. It accepts any container.
type Clock struct {
	placement
	interval int
	enabled  bool
}

// NewClock creates a clock inside container.
func NewClock(container any) (any, error) {
	c := &Clock{interval: 1000, enabled: true}
	return c, place(container, c, &c.placement)
}

func (c *Clock) Kind() string { return "Clock" }
func (c *Clock) TimerInterval() int { return c.interval }
func (c *Clock) TimerEnabled() bool { return c.enabled }
func (c *Clock) SetTimerEnabled(e bool) { c.enabled = e }

// SetTimerInterval sets the tick interval in milliseconds.
func (c *Clock) SetTimerInterval(ms int) error {
	if ms <= 0 {
		return fmt.Errorf("interval must be positive, got %d", ms)
	}
	c.interval = ms
	return nil
}
