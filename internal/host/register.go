package host

import "github.com/zjrosen/dyncomp/internal/factory"

// Register adds every host component to table under its short name.
func Register(table *factory.Table) error {
	entries := []struct {
		name string
		ctor factory.Constructor
		opts []factory.RegisterOption
	}{
		{name: "Arrangement", ctor: NewArrangement},
		{name: "HorizontalArrangement", ctor: NewArrangement},
		{name: "VerticalArrangement", ctor: NewArrangement},
		{name: "Label", ctor: NewLabel},
		{name: "Button", ctor: NewButton},
		{name: "TextBox", ctor: NewTextBox},
		{name: "Canvas", ctor: NewCanvas},
		{name: "Sprite", ctor: NewSprite, opts: []factory.RegisterOption{factory.WithInitializer("Initialize")}},
		{name: "ImageSprite", ctor: NewSprite, opts: []factory.RegisterOption{factory.WithInitializer("Initialize")}},
		{name: "Clock", ctor: NewClock},
	}
	for _, e := range entries {
		if err := table.Register(e.name, e.ctor, e.opts...); err != nil {
			return err
		}
	}
	return nil
}

// NewTable returns a factory table with every host component registered
// under base.
func NewTable(base string) (*factory.Table, error) {
	table := factory.NewTable(base)
	if err := Register(table); err != nil {
		return nil, err
	}
	return table, nil
}
