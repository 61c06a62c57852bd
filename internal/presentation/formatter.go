package presentation

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/goccy/go-json"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/dyncomp/internal/host"
	"github.com/zjrosen/dyncomp/internal/journal"
)

var (
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatPlan writes the plan as a tree rooted at its name.
func (f *Formatter) FormatPlan(plan PlanDTO) error {
	_, err := fmt.Fprintln(f.writer, RenderPlanTree(plan))
	return err
}

// FormatBuilds writes one line per journaled build.
func (f *Formatter) FormatBuilds(builds []journal.Build) error {
	for _, b := range builds {
		outcome := successStyle.Render(string(b.Outcome))
		detail := fmt.Sprintf("%d created", b.Created)
		if b.Outcome == journal.OutcomeFailed {
			outcome = failedStyle.Render(string(b.Outcome))
			if b.FailedIndex != nil {
				detail += fmt.Sprintf(", record %d (%s): %s", *b.FailedIndex, b.FailedID, b.Error)
			}
		}
		name := b.Name
		if name == "" {
			name = "-"
		}
		if _, err := fmt.Fprintf(f.writer, "%s  %-20s %s  %s\n",
			b.FinishedAt.Format("2006-01-02 15:04:05"), name, outcome, detail); err != nil {
			return err
		}
	}
	return nil
}

func label(id, typ string) string {
	return id + " " + typeStyle.Render("("+typ+")")
}

// RenderPlanTree draws the plan's parent/child structure.
func RenderPlanTree(plan PlanDTO) string {
	root := tree.Root(plan.Name)
	nodes := make(map[string]*tree.Tree, len(plan.Records))
	for _, r := range plan.Records {
		node := tree.Root(label(r.ID, r.Type))
		nodes[r.ID] = node
		parent, ok := nodes[r.ParentID]
		if !r.HasParent() || !ok {
			parent = root
		}
		parent.Child(node)
	}
	return root.String()
}

// HasParent reports whether the record is nested.
func (r RecordDTO) HasParent() bool {
	return r.ParentID != ""
}

// RenderHostTree draws the live component tree below root. ids names
// components that were created dynamically.
func RenderHostTree(title string, root host.Container, ids func(host.Component) string) string {
	t := tree.Root(title)
	stack := []*tree.Tree{t}
	host.Walk(root, func(depth int, c host.Component) {
		stack = stack[:depth+1]
		name := ids(c)
		if name == "" {
			name = "?"
		}
		node := tree.Root(label(name, c.Kind()))
		stack[depth].Child(node)
		stack = append(stack, node)
	})
	return t.String()
}

// PlanLines renders one line per record, used for diffs.
func PlanLines(plan PlanDTO) string {
	var b strings.Builder
	for _, r := range plan.Records {
		b.WriteString(strings.Repeat("  ", r.Depth))
		fmt.Fprintf(&b, "%s (%s)", r.ID, r.Type)
		for _, p := range r.Properties {
			fmt.Fprintf(&b, " %s=%v", p.Key, p.Value)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// DiffPlans returns a line diff of two plans, prefixing removed lines with
// "-" and added lines with "+". Equal plans produce "".
func DiffPlans(before, after PlanDTO) string {
	a, b := PlanLines(before), PlanLines(after)
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	chars1, chars2, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(chars1, chars2, false), lines)

	var out strings.Builder
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String()
}
