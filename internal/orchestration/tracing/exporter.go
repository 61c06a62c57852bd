package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrExporterClosed is returned by ExportSpans after Shutdown.
var ErrExporterClosed = errors.New("trace exporter closed")

// SpanLine is one line of the JSONL trace log. Command, instance and build
// attributes are lifted out of the attribute bag so the file can be filtered
// with jq without knowing attribute keys.
type SpanLine struct {
	Trace    string    `json:"trace"`
	Span     string    `json:"span"`
	Parent   string    `json:"parent,omitempty"`
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Start    time.Time `json:"start"`
	Duration string    `json:"duration"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`

	Command  string `json:"command,omitempty"`
	Source   string `json:"source,omitempty"`
	Instance string `json:"instance,omitempty"`
	Build    string `json:"build,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`
	Emitted    []string       `json:"emitted,omitempty"`
}

// FileExporter appends SpanLines to a file. It implements
// sdktrace.SpanExporter.
type FileExporter struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// NewFileExporter opens path for appending, creating missing directories.
func NewFileExporter(path string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileExporter{out: f}, nil
}

// ExportSpans writes one line per span.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		return ErrExporterClosed
	}
	enc := json.NewEncoder(e.out)
	for _, s := range spans {
		if err := enc.Encode(lineFor(s)); err != nil {
			return fmt.Errorf("encode span %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Shutdown closes the file. It is safe to call more than once.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.out == nil {
		return nil
	}
	err := e.out.Close()
	e.out = nil
	return err
}

// lifted maps attribute keys to the SpanLine field they populate.
var lifted = map[attribute.Key]func(*SpanLine, string){
	AttrCommandID:     func(l *SpanLine, v string) { l.Command = v },
	AttrCommandSource: func(l *SpanLine, v string) { l.Source = v },
	AttrInstanceID:    func(l *SpanLine, v string) { l.Instance = v },
	AttrBuildName:     func(l *SpanLine, v string) { l.Build = v },
}

func lineFor(s sdktrace.ReadOnlySpan) SpanLine {
	sc := s.SpanContext()
	line := SpanLine{
		Trace:    sc.TraceID().String(),
		Span:     sc.SpanID().String(),
		Name:     s.Name(),
		Kind:     s.SpanKind().String(),
		Start:    s.StartTime(),
		Duration: s.EndTime().Sub(s.StartTime()).String(),
		Status:   s.Status().Code.String(),
		Error:    s.Status().Description,
	}
	if p := s.Parent(); p.IsValid() {
		line.Parent = p.SpanID().String()
	}

	for _, kv := range s.Attributes() {
		if set, ok := lifted[kv.Key]; ok {
			set(&line, kv.Value.Emit())
			continue
		}
		if line.Attributes == nil {
			line.Attributes = make(map[string]any)
		}
		line.Attributes[string(kv.Key)] = kv.Value.AsInterface()
	}

	for _, ev := range s.Events() {
		name := ev.Name
		for _, kv := range ev.Attributes {
			if kv.Key == AttrEventKind {
				name = kv.Value.Emit()
			}
		}
		line.Emitted = append(line.Emitted, name)
	}
	return line
}
