package testutil

import "github.com/zjrosen/dyncomp/internal/schema"

// nodeData is one component of a document under construction.
type nodeData struct {
	ID         string            `json:"id" yaml:"id"`
	Type       string            `json:"type" yaml:"type"`
	Properties schema.Properties `json:"properties,omitempty" yaml:"properties,omitempty"`
	Components []nodeData        `json:"components,omitempty" yaml:"components,omitempty"`
}

// NodeOption configures a component during builder setup.
type NodeOption func(*nodeData)

// Prop appends a property. Order is kept.
func Prop(key string, value any) NodeOption {
	return func(n *nodeData) {
		n.Properties = append(n.Properties, schema.Property{Key: key, Value: value})
	}
}

// Child nests a component (nested option).
func Child(id, typ string, opts ...NodeOption) NodeOption {
	return func(n *nodeData) {
		n.Components = append(n.Components, newNode(id, typ, opts))
	}
}

func newNode(id, typ string, opts []NodeOption) nodeData {
	n := nodeData{ID: id, Type: typ}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}
