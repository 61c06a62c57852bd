// Package schema parses declarative component documents and compiles them,
// together with template parameters, into an ordered creation plan.
package schema

import (
	"fmt"
)

// CreationRecord is one flattened, substituted node. Records are emitted in
// pre-order so a parent always precedes its children.
type CreationRecord struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	ParentID   string     `json:"parent_id,omitempty"`
	Properties Properties `json:"properties,omitempty"`
}

// HasParent reports whether the record is nested inside another record.
func (r CreationRecord) HasParent() bool {
	return r.ParentID != ""
}

// Keys returns the declared substitution keys of doc.
func Keys(doc *Document) []string {
	return doc.Keys
}

// Arguments returns the parameter list Compile expects for caller args:
// label first, or doc.Name when label is empty, then args in order.
func Arguments(doc *Document, label string, args []string) []string {
	if label == "" {
		label = doc.Name
	}
	return append([]string{label}, args...)
}

// CompileBytes parses data and compiles the result.
func CompileBytes(data []byte, params []string) ([]CreationRecord, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Compile(doc, params)
}

// Compile flattens doc into creation records using params for template
// substitution. The output depends only on its inputs.
func Compile(doc *Document, params []string) ([]CreationRecord, error) {
	if doc == nil {
		return nil, ErrEmptySchema
	}
	if err := checkVersion(doc.MetadataVersion); err != nil {
		return nil, err
	}
	if len(doc.Components) == 0 {
		return nil, ErrEmptySchema
	}
	tc, err := NewTemplateContext(doc.Keys, params)
	if err != nil {
		return nil, err
	}

	c := compiler{tc: tc, extensions: doc.Extensions}
	if err := c.walk(doc.Components, "", "components"); err != nil {
		return nil, err
	}
	return c.records, nil
}

type compiler struct {
	tc         TemplateContext
	extensions map[string]string
	records    []CreationRecord
}

func (c *compiler) walk(nodes []Node, parentID, path string) error {
	for i, n := range nodes {
		p := fmt.Sprintf("%s[%d]", path, i)

		id := Substitute(n.ID, c.tc)
		if id == "" {
			return &FieldError{Path: p, Field: "id", Err: ErrMissingRequiredField}
		}
		typ := Substitute(n.Type, c.tc)
		if typ == "" {
			return &FieldError{Path: p, Field: "type", Err: ErrMissingRequiredField}
		}
		if full, ok := c.extensions[typ]; ok && full != "" {
			typ = full
		}

		c.records = append(c.records, CreationRecord{
			ID:         id,
			Type:       typ,
			ParentID:   parentID,
			Properties: c.properties(n.Properties),
		})

		if err := c.walk(n.Components, id, p+".components"); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) properties(in Properties) Properties {
	if len(in) == 0 {
		return nil
	}
	out := make(Properties, len(in))
	for i, prop := range in {
		v := prop.Value
		if s, ok := v.(string); ok {
			v = Substitute(s, c.tc)
		}
		out[i] = Property{Key: Substitute(prop.Key, c.tc), Value: v}
	}
	return out
}

// Validate checks that every record's parent appears earlier in records and
// that no id repeats.
func Validate(records []CreationRecord) error {
	seen := make(map[string]int, len(records))
	for i, r := range records {
		if r.ID == "" {
			return &FieldError{Path: fmt.Sprintf("records[%d]", i), Field: "id", Err: ErrMissingRequiredField}
		}
		if r.Type == "" {
			return &FieldError{Path: fmt.Sprintf("records[%d]", i), Field: "type", Err: ErrMissingRequiredField}
		}
		if prev, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: %q at %d and %d", ErrDuplicateRecord, r.ID, prev, i)
		}
		if r.HasParent() {
			if _, ok := seen[r.ParentID]; !ok {
				return fmt.Errorf("%w: %q (record %d) references %q", ErrParentOrder, r.ID, i, r.ParentID)
			}
		}
		seen[r.ID] = i
	}
	return nil
}
