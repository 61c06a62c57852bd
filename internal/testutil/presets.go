package testutil

import "testing"

// BoxSchema is an arrangement holding one label. Keys: suffix.
//
//	box{suffix} (VerticalArrangement)
//	  └── lbl{suffix} (Label, Text "Hi")
func BoxSchema(t *testing.T) *SchemaBuilder {
	return NewSchema(t, "Box").
		WithKeys("suffix").
		WithComponent("box{suffix}", "VerticalArrangement",
			Child("lbl{suffix}", "Label", Prop("Text", "Hi"), Prop("FontSize", 14.5)))
}

// FormSchema is a small input form. Keys: prefix, action.
//
//	{prefix}_form (Arrangement)
//	  ├── {prefix}_prompt (Label)
//	  ├── {prefix}_input (TextBox, numbers only)
//	  └── {prefix}_submit (Button, Text "{action}")
func FormSchema(t *testing.T) *SchemaBuilder {
	return NewSchema(t, "Form").
		WithKeys("prefix", "action").
		WithComponent("{prefix}_form", "Arrangement",
			Prop("Width", 200),
			Prop("BackgroundColor", "#eeeeee"),
			Child("{prefix}_prompt", "Label", Prop("Text", "Amount for {prefix}")),
			Child("{prefix}_input", "TextBox", Prop("NumbersOnly", true), Prop("Hint", "0")),
			Child("{prefix}_submit", "Button", Prop("Text", "{action}")))
}

// CanvasSchema places a sprite on a canvas. Keys: sprite.
func CanvasSchema(t *testing.T) *SchemaBuilder {
	return NewSchema(t, "Canvas").
		WithKeys("sprite").
		WithComponent("stage", "Canvas",
			Prop("Width", 640),
			Child("{sprite}", "Sprite", Prop("X", "12.5"), Prop("Heading", 90)))
}
