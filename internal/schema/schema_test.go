package schema

import (
	"fmt"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"pgregory.net/rapid"
)

const boxJSON = `{
	"metadata-version": 1,
	"name": "Box",
	"components": [
		{"id": "box1", "type": "Arrangement", "components": [
			{"id": "lbl1", "type": "Label", "properties": {"Text": "Hi"}}
		]}
	]
}`

const cardYAML = `
metadata-version: "1"
name: Card
author: someone
platforms: [android]
keys: [title, color]
extensions:
  Chart: com.example.Chart
components:
  - id: "{title}_card"
    type: Arrangement
    properties:
      BackgroundColor: "{color}"
      Width: 200
      Visible: true
      Tags: [a, b]
    components:
      - id: "{title}_label"
        type: Label
        properties:
          Text: "Title: {title}"
          "{color}Hint": plain
      - id: "{title}_chart"
        type: Chart
  - id: footer
    type: Label
`

// === Unit Tests: Parse ===

func TestParse_JSON(t *testing.T) {
	doc, err := Parse([]byte(boxJSON))
	require.NoError(t, err)
	require.Equal(t, "1", doc.MetadataVersion)
	require.Equal(t, "Box", doc.Name)
	require.Empty(t, doc.Keys)
	require.Len(t, doc.Components, 1)
	require.Equal(t, "lbl1", doc.Components[0].Components[0].ID)
}

func TestParse_YAMLKeepsPropertyOrder(t *testing.T) {
	doc, err := Parse([]byte(cardYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"title", "color"}, doc.Keys)
	require.Equal(t, "someone", doc.Author)
	require.Equal(t, []string{"android"}, doc.Platforms)
	require.Equal(t, map[string]string{"Chart": "com.example.Chart"}, doc.Extensions)

	props := doc.Components[0].Properties
	keys := make([]string, 0, len(props))
	for k := range props.All() {
		keys = append(keys, k)
	}
	require.Equal(t, []string{"BackgroundColor", "Width", "Visible", "Tags"}, keys)

	width, ok := props.Get("Width")
	require.True(t, ok)
	require.Equal(t, 200, width)
	visible, _ := props.Get("Visible")
	require.Equal(t, true, visible)
	tags, _ := props.Get("Tags")
	require.Equal(t, []any{"a", "b"}, tags)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{name: "empty input", data: "", want: ErrEmptySchema},
		{name: "missing version", data: `{"name":"x","components":[{"id":"a","type":"B"}]}`, want: ErrUnsupportedSchemaVersion},
		{name: "wrong version", data: `{"metadata-version":2,"components":[{"id":"a","type":"B"}]}`, want: ErrUnsupportedSchemaVersion},
		{name: "float version", data: `{"metadata-version":1.0,"components":[{"id":"a","type":"B"}]}`, want: ErrUnsupportedSchemaVersion},
		{name: "no components", data: `{"metadata-version":1,"name":"x"}`, want: ErrEmptySchema},
		{name: "empty components", data: `{"metadata-version":1,"components":[]}`, want: ErrEmptySchema},
		{name: "top level list", data: `[1,2]`, want: ErrMalformedSchema},
		{name: "components not a list", data: `{"metadata-version":1,"components":{"id":"a"}}`, want: ErrMalformedSchema},
		{name: "properties not an object", data: `{"metadata-version":1,"components":[{"id":"a","type":"B","properties":[1]}]}`, want: ErrMalformedSchema},
		{name: "syntax error", data: `{"metadata-version": 1,`, want: ErrMalformedSchema},
		{name: "duplicate property", data: `{"metadata-version":1,"components":[{"id":"a","type":"B","properties":{"Text":"x","Text":"y"}}]}`, want: ErrMalformedSchema},
		{name: "duplicate node field", data: `{"metadata-version":1,"components":[{"id":"a","id":"b","type":"B"}]}`, want: ErrMalformedSchema},
		{name: "duplicate top level field", data: `{"metadata-version":1,"name":"x","name":"y","components":[{"id":"a","type":"B"}]}`, want: ErrMalformedSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// === Unit Tests: templates ===

func TestTemplate_RoundTrip(t *testing.T) {
	tc, err := NewTemplateContext([]string{"a", "b"}, []string{"schemaName", "X", "Y"})
	require.NoError(t, err)
	require.Equal(t, "Hello X and Y", Substitute("Hello {a} and {b}", tc))
}

func TestTemplate_ParameterCountMismatch(t *testing.T) {
	_, err := NewTemplateContext([]string{"a", "b"}, []string{"schemaName", "X"})
	require.ErrorIs(t, err, ErrParameterCountMismatch)

	_, err = NewTemplateContext(nil, nil)
	require.ErrorIs(t, err, ErrParameterCountMismatch)
}

func TestTemplate_SinglePassPerKey(t *testing.T) {
	tc := TemplateContext{{Key: "a", Value: "{a}{a}"}}
	require.Equal(t, "{a}{a}!", Substitute("{a}!", tc))
}

func TestTemplate_LaterKeysSeeEarlierOutput(t *testing.T) {
	tc := TemplateContext{{Key: "a", Value: "{b}"}, {Key: "b", Value: "B"}}
	require.Equal(t, "B", Substitute("{a}", tc))
}

func TestExtractPlaceholders(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, ExtractPlaceholders("{a} {b} {a} { c } {}"))
	require.Nil(t, ExtractPlaceholders("plain"))
}

func TestUndeclaredPlaceholders(t *testing.T) {
	doc, err := Parse([]byte(cardYAML))
	require.NoError(t, err)
	require.Equal(t, []string{"title", "color"}, Placeholders(doc))
	require.Empty(t, UndeclaredPlaceholders(doc))

	doc.Keys = []string{"title"}
	require.Equal(t, []string{"color"}, UndeclaredPlaceholders(doc))
}

// === Unit Tests: Compile ===

func TestCompile_BoxAndLabel(t *testing.T) {
	records, err := CompileBytes([]byte(boxJSON), []string{"Box"})
	require.NoError(t, err)
	require.Equal(t, []CreationRecord{
		{ID: "box1", Type: "Arrangement"},
		{ID: "lbl1", Type: "Label", ParentID: "box1", Properties: Properties{{Key: "Text", Value: "Hi"}}},
	}, records)
	require.False(t, records[0].HasParent())
	require.True(t, records[1].HasParent())
}

func TestCompile_SubstitutesEveryStringField(t *testing.T) {
	records, err := CompileBytes([]byte(cardYAML), []string{"Card", "news", "red"})
	require.NoError(t, err)

	require.Equal(t, []CreationRecord{
		{ID: "news_card", Type: "Arrangement", Properties: Properties{
			{Key: "BackgroundColor", Value: "red"},
			{Key: "Width", Value: 200},
			{Key: "Visible", Value: true},
			{Key: "Tags", Value: []any{"a", "b"}},
		}},
		{ID: "news_label", Type: "Label", ParentID: "news_card", Properties: Properties{
			{Key: "Text", Value: "Title: news"},
			{Key: "redHint", Value: "plain"},
		}},
		{ID: "news_chart", Type: "com.example.Chart", ParentID: "news_card"},
		{ID: "footer", Type: "Label"},
	}, records)
	require.NoError(t, Validate(records))
}

func TestCompile_ParameterCountMismatch(t *testing.T) {
	_, err := CompileBytes([]byte(cardYAML), []string{"Card", "news"})
	require.ErrorIs(t, err, ErrParameterCountMismatch)
}

func TestCompile_MissingRequiredField(t *testing.T) {
	doc := &Document{
		MetadataVersion: SupportedVersion,
		Keys:            []string{"k"},
		Components: []Node{
			{ID: "root", Type: "Arrangement", Components: []Node{
				{ID: "{k}", Type: "Label"},
			}},
		},
	}

	_, err := Compile(doc, []string{"n", ""})
	require.ErrorIs(t, err, ErrMissingRequiredField)

	var fieldErr *FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "components[0].components[0]", fieldErr.Path)
	require.Equal(t, "id", fieldErr.Field)

	doc.Components[0].Components[0] = Node{ID: "x"}
	_, err = Compile(doc, []string{"n", "v"})
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, "type", fieldErr.Field)
}

func TestCompile_RejectsBadDocuments(t *testing.T) {
	_, err := Compile(nil, nil)
	require.ErrorIs(t, err, ErrEmptySchema)

	_, err = Compile(&Document{MetadataVersion: "2", Components: []Node{{ID: "a", Type: "B"}}}, []string{"n"})
	require.ErrorIs(t, err, ErrUnsupportedSchemaVersion)

	_, err = Compile(&Document{MetadataVersion: "1"}, []string{"n"})
	require.ErrorIs(t, err, ErrEmptySchema)
}

func TestArguments_PrependsLabel(t *testing.T) {
	doc, err := Parse([]byte(boxJSON))
	require.NoError(t, err)

	require.Equal(t, []string{"Box"}, Arguments(doc, "", nil))
	require.Equal(t, []string{"Box", "1"}, Arguments(doc, "", []string{"1"}))
	require.Equal(t, []string{"Other", "1"}, Arguments(doc, "Other", []string{"1"}))

	records, err := Compile(doc, Arguments(doc, "", nil))
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestValidate(t *testing.T) {
	require.ErrorIs(t, Validate([]CreationRecord{
		{ID: "a", Type: "T"},
		{ID: "a", Type: "T"},
	}), ErrDuplicateRecord)

	require.ErrorIs(t, Validate([]CreationRecord{
		{ID: "child", Type: "T", ParentID: "parent"},
		{ID: "parent", Type: "T"},
	}), ErrParentOrder)

	require.ErrorIs(t, Validate([]CreationRecord{{ID: "a"}}), ErrMissingRequiredField)
	require.NoError(t, Validate(nil))
}

func TestProperties_MarshalJSONKeepsOrder(t *testing.T) {
	rec := CreationRecord{ID: "lbl1", Type: "Label", ParentID: "box1", Properties: Properties{
		{Key: "Z", Value: 1},
		{Key: "A", Value: "x"},
	}}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"lbl1","type":"Label","parent_id":"box1","properties":{"Z":1,"A":"x"}}`, string(data))
	require.Contains(t, string(data), `{"Z":1,"A":"x"}`)
}

func TestProperties_UnmarshalJSONKeepsOrder(t *testing.T) {
	var req struct {
		Properties Properties `json:"properties"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"properties":{"Z":1,"A":"x","M":true}}`), &req))

	require.Equal(t, Properties{
		{Key: "Z", Value: 1},
		{Key: "A", Value: "x"},
		{Key: "M", Value: true},
	}, req.Properties)

	var bad Properties
	require.ErrorIs(t, json.Unmarshal([]byte(`["not","an","object"]`), &bad), ErrMalformedSchema)
	require.ErrorIs(t, json.Unmarshal([]byte(`{"A":1,"A":2}`), &bad), ErrMalformedSchema)
}

func TestProperties_MarshalYAMLKeepsOrder(t *testing.T) {
	node := struct {
		ID         string     `yaml:"id"`
		Properties Properties `yaml:"properties"`
	}{ID: "lbl1", Properties: Properties{{Key: "Z", Value: 1}, {Key: "A", Value: "x"}}}

	data, err := yaml.Marshal(node)
	require.NoError(t, err)
	require.Equal(t, "id: lbl1\nproperties:\n    Z: 1\n    A: x\n", string(data))
}

// === Property-Based Tests ===

func genNodes(t *rapid.T, depth int, keys []string, label string) []Node {
	n := rapid.IntRange(0, 3).Draw(t, label+"_n")
	if depth == 0 {
		n = rapid.IntRange(1, 3).Draw(t, label+"_n")
	}
	nodes := make([]Node, n)
	for i := range nodes {
		id := rapid.StringMatching(`[a-z]{1,4}`).Draw(t, label+"_id")
		if len(keys) > 0 && rapid.Bool().Draw(t, label+"_templated") {
			id += "{" + rapid.SampledFrom(keys).Draw(t, label+"_key") + "}"
		}
		nodes[i] = Node{
			ID:   id,
			Type: rapid.SampledFrom([]string{"Label", "Button", "Arrangement"}).Draw(t, label+"_type"),
			Properties: Properties{
				{Key: "Text", Value: rapid.StringMatching(`[a-z{}]{0,6}`).Draw(t, label+"_text")},
			},
		}
		if depth < 3 {
			nodes[i].Components = genNodes(t, depth+1, keys, fmt.Sprintf("%s_%d", label, i))
		}
	}
	return nodes
}

func genDocument(t *rapid.T) (*Document, []string) {
	keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,3}`), 0, 3, rapid.ID[string]).Draw(t, "keys")
	params := append([]string{"name"}, rapid.SliceOfN(rapid.StringMatching(`[A-Z]{0,3}`), len(keys), len(keys)).Draw(t, "params")...)
	doc := &Document{
		MetadataVersion: SupportedVersion,
		Name:            "generated",
		Keys:            keys,
		Components:      genNodes(t, 0, keys, "root"),
	}
	return doc, params
}

func TestCompile_Property_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc, params := genDocument(t)

		first, err1 := Compile(doc, params)
		second, err2 := Compile(doc, params)

		require.Equal(t, err1, err2)
		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		require.Equal(t, string(a), string(b))
	})
}

func TestCompile_Property_PreOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc, params := genDocument(t)

		records, err := Compile(doc, params)
		if err != nil {
			t.Fatalf("compile failed: %v", err)
		}

		count := 0
		var countNodes func([]Node)
		countNodes = func(ns []Node) {
			for _, n := range ns {
				count++
				countNodes(n.Components)
			}
		}
		countNodes(doc.Components)
		require.Len(t, records, count)

		for i, r := range records {
			if !r.HasParent() {
				continue
			}
			found := false
			for _, earlier := range records[:i] {
				if earlier.ID == r.ParentID {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("record %d (%s) has parent %s that does not appear earlier", i, r.ID, r.ParentID)
			}
		}
	})
}
