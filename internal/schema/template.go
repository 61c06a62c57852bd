package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Substitution replaces {Key} with Value.
type Substitution struct {
	Key   string
	Value string
}

// TemplateContext holds substitutions in declared key order.
type TemplateContext []Substitution

// NewTemplateContext pairs keys with params[1:]. params[0] is the schema's
// display name, so len(params) must be len(keys)+1.
func NewTemplateContext(keys, params []string) (TemplateContext, error) {
	if len(params) != len(keys)+1 {
		return nil, fmt.Errorf("%w: %d keys need %d parameters, got %d",
			ErrParameterCountMismatch, len(keys), len(keys)+1, len(params))
	}
	tc := make(TemplateContext, len(keys))
	for i, key := range keys {
		tc[i] = Substitution{Key: key, Value: params[i+1]}
	}
	return tc, nil
}

// Substitute runs one literal {key} replacement pass per key in order.
// Replaced text is not scanned again for the same key.
func Substitute(s string, tc TemplateContext) string {
	for _, sub := range tc {
		s = strings.ReplaceAll(s, "{"+sub.Key+"}", sub.Value)
	}
	return s
}

var placeholderRE = regexp.MustCompile(`\{([^{}\s]+)\}`)

// ExtractPlaceholders returns the distinct {name} placeholders in s in order
// of first appearance.
func ExtractPlaceholders(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderRE.FindAllStringSubmatch(s, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Placeholders collects the placeholders used anywhere in doc's components:
// ids, types, property keys and string property values.
func Placeholders(doc *Document) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		for _, p := range ExtractPlaceholders(s) {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			add(n.ID)
			add(n.Type)
			for _, prop := range n.Properties {
				add(prop.Key)
				if s, ok := prop.Value.(string); ok {
					add(s)
				}
			}
			walk(n.Components)
		}
	}
	walk(doc.Components)
	return out
}

// UndeclaredPlaceholders returns placeholders that are not listed in
// doc.Keys. They survive compilation verbatim.
func UndeclaredPlaceholders(doc *Document) []string {
	declared := make(map[string]bool, len(doc.Keys))
	for _, k := range doc.Keys {
		declared[k] = true
	}
	var out []string
	for _, p := range Placeholders(doc) {
		if !declared[p] {
			out = append(out, p)
		}
	}
	return out
}
