// Package host is a small in-process component system used as the default
// placement environment: screens and arrangements hold visible components,
// canvases hold sprites, and every component can be detached from its parent.
package host

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNotAContainer is returned when a component is created inside a value
// that cannot hold children.
var ErrNotAContainer = errors.New("not a container")

// Component is anything placed inside a Container.
type Component interface {
	Kind() string
	Parent() Container
	// Detach removes the component from its parent. Calling it twice is a
	// no-op.
	Detach()
}

// Container holds child components in insertion order.
type Container interface {
	Children() []Component
	attach(child Component)
	detach(child Component)
}

// children is the Container implementation shared by Screen, Arrangement and
// Canvas.
type children struct {
	mu    sync.Mutex
	items []Component
}

func (c *children) Children() []Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

func (c *children) attach(child Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, child)
}

func (c *children) detach(child Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = slices.DeleteFunc(c.items, func(x Component) bool { return x == child })
}

// placement tracks a component's parent.
type placement struct {
	mu     sync.Mutex
	parent Container
	self   Component
}

func (p *placement) Parent() Container {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parent
}

func (p *placement) Detach() {
	p.mu.Lock()
	parent := p.parent
	p.parent = nil
	p.mu.Unlock()
	if parent != nil {
		parent.detach(p.self)
	}
}

func place(container any, self Component, p *placement) error {
	parent, ok := container.(Container)
	if !ok {
		return fmt.Errorf("%w: %T cannot hold %s", ErrNotAContainer, container, self.Kind())
	}
	p.parent = parent
	p.self = self
	parent.attach(self)
	return nil
}

// Walk visits root's descendants depth first, parents before children.
func Walk(root Container, fn func(depth int, c Component)) {
	var visit func(c Container, depth int)
	visit = func(c Container, depth int) {
		for _, child := range c.Children() {
			fn(depth, child)
			if nested, ok := child.(Container); ok {
				visit(nested, depth+1)
			}
		}
	}
	visit(root, 0)
}

// Screen is a root container. It is never created by a factory.
type Screen struct {
	children
	title string
}

// NewScreen creates an empty screen.
func NewScreen(title string) *Screen {
	return &Screen{title: title}
}

func (s *Screen) Title() string { return s.title }
