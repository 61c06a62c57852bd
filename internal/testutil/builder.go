package testutil

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// documentData mirrors the on-disk schema layout.
type documentData struct {
	MetadataVersion any               `json:"metadata-version" yaml:"metadata-version"`
	Name            string            `json:"name" yaml:"name"`
	Keys            []string          `json:"keys,omitempty" yaml:"keys,omitempty"`
	Extensions      map[string]string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	Components      []nodeData        `json:"components" yaml:"components"`
}

// SchemaBuilder accumulates a schema document.
type SchemaBuilder struct {
	t   *testing.T
	doc documentData
}

// NewSchema starts a version 1 document named name.
func NewSchema(t *testing.T, name string) *SchemaBuilder {
	t.Helper()
	return &SchemaBuilder{t: t, doc: documentData{MetadataVersion: 1, Name: name}}
}

// WithVersion overrides metadata-version.
func (b *SchemaBuilder) WithVersion(v any) *SchemaBuilder {
	b.doc.MetadataVersion = v
	return b
}

// WithKeys declares the template keys.
func (b *SchemaBuilder) WithKeys(keys ...string) *SchemaBuilder {
	b.doc.Keys = append(b.doc.Keys, keys...)
	return b
}

// WithExtension maps a short type name to a fully qualified one.
func (b *SchemaBuilder) WithExtension(short, full string) *SchemaBuilder {
	if b.doc.Extensions == nil {
		b.doc.Extensions = make(map[string]string)
	}
	b.doc.Extensions[short] = full
	return b
}

// WithComponent adds a top-level component.
func (b *SchemaBuilder) WithComponent(id, typ string, opts ...NodeOption) *SchemaBuilder {
	b.doc.Components = append(b.doc.Components, newNode(id, typ, opts))
	return b
}

// JSON encodes the document as JSON.
func (b *SchemaBuilder) JSON() []byte {
	b.t.Helper()
	data, err := json.Marshal(b.doc)
	require.NoError(b.t, err)
	return data
}

// YAML encodes the document as YAML.
func (b *SchemaBuilder) YAML() []byte {
	b.t.Helper()
	data, err := yaml.Marshal(b.doc)
	require.NoError(b.t, err)
	return data
}
