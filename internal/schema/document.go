package schema

import (
	"bytes"
	"fmt"
	"iter"
	"strconv"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// SupportedVersion is the only accepted metadata-version.
const SupportedVersion = "1"

// Document is a parsed schema.
type Document struct {
	MetadataVersion string
	// Name is the display label reported when a build completes.
	Name       string
	Keys       []string
	Components []Node

	// Informational fields written by authoring tools.
	Author           string
	Platforms        []string
	Extensions       map[string]string
	ExtensionVersion string
}

// Node is one component of the nested tree.
type Node struct {
	ID         string
	Type       string
	Properties Properties
	Components []Node
}

// Property is one key/value pair of a node.
type Property struct {
	Key   string
	Value any
}

// Properties keeps document order.
type Properties []Property

// All yields the properties in order.
func (p Properties) All() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, prop := range p {
			if !yield(prop.Key, prop.Value) {
				return
			}
		}
	}
}

// Get returns the value of the first property named key.
func (p Properties) Get(key string) (any, bool) {
	for _, prop := range p {
		if prop.Key == key {
			return prop.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the properties as an object in document order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(prop.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(prop.Value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", prop.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML encodes the properties as a mapping in document order.
func (p Properties) MarshalYAML() (any, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, prop := range p {
		var v yaml.Node
		if err := v.Encode(prop.Value); err != nil {
			return nil, fmt.Errorf("property %s: %w", prop.Key, err)
		}
		m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: prop.Key}, &v)
	}
	return m, nil
}

// UnmarshalJSON decodes an object keeping its key order.
func (p *Properties) UnmarshalJSON(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSchema, err)
	}
	if len(root.Content) == 0 {
		*p = nil
		return nil
	}
	props, err := parseProperties(root.Content[0], "properties")
	if err != nil {
		return err
	}
	*p = props
	return nil
}

// Parse decodes a JSON or YAML schema document. Property order follows the
// document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedSchema, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrEmptySchema
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be an object", ErrMalformedSchema)
	}

	if err := uniqueKeys(top, "document"); err != nil {
		return nil, err
	}

	doc := &Document{}
	versionSeen := false
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i].Value, top.Content[i+1]
		var err error
		switch key {
		case "metadata-version":
			versionSeen = true
			doc.MetadataVersion, err = scalar(val, key)
		case "name":
			doc.Name, err = scalar(val, key)
		case "keys":
			doc.Keys, err = scalars(val, key)
		case "components":
			doc.Components, err = parseNodes(val, "components")
		case "author":
			doc.Author, err = scalar(val, key)
		case "platforms":
			doc.Platforms, err = scalars(val, key)
		case "extensions":
			doc.Extensions, err = stringMap(val, key)
		case "extension_version":
			doc.ExtensionVersion, err = scalar(val, key)
		}
		if err != nil {
			return nil, err
		}
	}

	if !versionSeen {
		return nil, fmt.Errorf("%w: metadata-version is missing", ErrUnsupportedSchemaVersion)
	}
	if err := checkVersion(doc.MetadataVersion); err != nil {
		return nil, err
	}
	if len(doc.Components) == 0 {
		return nil, ErrEmptySchema
	}
	return doc, nil
}

func checkVersion(v string) error {
	if v != SupportedVersion {
		return fmt.Errorf("%w: %s (want %s)", ErrUnsupportedSchemaVersion, strconv.Quote(v), SupportedVersion)
	}
	return nil
}

func parseNodes(seq *yaml.Node, path string) ([]Node, error) {
	if seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: %s must be a list", ErrMalformedSchema, path)
	}
	nodes := make([]Node, 0, len(seq.Content))
	for i, item := range seq.Content {
		p := fmt.Sprintf("%s[%d]", path, i)
		n, err := parseNode(item, p)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseNode(m *yaml.Node, path string) (Node, error) {
	var n Node
	if m.Kind != yaml.MappingNode {
		return n, fmt.Errorf("%w: %s must be an object", ErrMalformedSchema, path)
	}
	if err := uniqueKeys(m, path); err != nil {
		return n, err
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		key, val := m.Content[i].Value, m.Content[i+1]
		var err error
		switch key {
		case "id":
			n.ID, err = scalar(val, path+".id")
		case "type":
			n.Type, err = scalar(val, path+".type")
		case "properties":
			n.Properties, err = parseProperties(val, path+".properties")
		case "components":
			n.Components, err = parseNodes(val, path+".components")
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func parseProperties(m *yaml.Node, path string) (Properties, error) {
	if isNull(m) {
		return nil, nil
	}
	if m.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s must be an object", ErrMalformedSchema, path)
	}
	if err := uniqueKeys(m, path); err != nil {
		return nil, err
	}
	props := make(Properties, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		var v any
		if err := m.Content[i+1].Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %w", ErrMalformedSchema, path, m.Content[i].Value, err)
		}
		props = append(props, Property{Key: m.Content[i].Value, Value: v})
	}
	return props, nil
}

// uniqueKeys rejects a mapping that repeats a key.
func uniqueKeys(m *yaml.Node, path string) error {
	seen := make(map[string]struct{}, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s: duplicate key %q", ErrMalformedSchema, path, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func scalar(n *yaml.Node, field string) (string, error) {
	if isNull(n) {
		return "", nil
	}
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("%w: %s must be a scalar", ErrMalformedSchema, field)
	}
	return n.Value, nil
}

func scalars(n *yaml.Node, field string) ([]string, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: %s must be a list", ErrMalformedSchema, field)
	}
	out := make([]string, 0, len(n.Content))
	for i, item := range n.Content {
		s, err := scalar(item, fmt.Sprintf("%s[%d]", field, i))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMap(n *yaml.Node, field string) (map[string]string, error) {
	if isNull(n) {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s must be an object", ErrMalformedSchema, field)
	}
	out := make(map[string]string, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		s, err := scalar(n.Content[i+1], field+"."+n.Content[i].Value)
		if err != nil {
			return nil, err
		}
		out[n.Content[i].Value] = s
	}
	return out, nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}
