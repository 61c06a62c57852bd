package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/dyncomp/internal/orchestration/command"
	"github.com/zjrosen/dyncomp/internal/orchestration/events"
	"github.com/zjrosen/dyncomp/internal/orchestration/processor"
)

// TracingMiddlewareConfig configures the tracing middleware.
type TracingMiddlewareConfig struct {
	// Tracer creates the spans. If nil, the middleware is a pass-through.
	Tracer trace.Tracer
}

// NewTracingMiddleware creates middleware that wraps every command in a span
// carrying the command's attributes and one span event per emitted session
// event.
func NewTracingMiddleware(cfg TracingMiddlewareConfig) processor.Middleware {
	if cfg.Tracer == nil {
		return func(next processor.CommandHandler) processor.CommandHandler {
			return next
		}
	}

	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			ctx = restoreSpanContext(ctx, cmd)

			ctx, span := cfg.Tracer.Start(ctx, SpanPrefixCommand+cmd.Type().String(),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String(AttrCommandID, cmd.ID()),
				attribute.String(AttrCommandType, cmd.Type().String()),
			)
			if hasSource, ok := cmd.(interface{ Source() command.CommandSource }); ok {
				span.SetAttributes(attribute.String(AttrCommandSource, hasSource.Source().String()))
			}
			span.SetAttributes(commandAttributes(cmd)...)

			result, err := next.Handle(ctx, cmd)

			switch {
			case err != nil:
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			case result != nil && !result.Success:
				if result.Error != nil {
					span.RecordError(result.Error)
					span.SetStatus(codes.Error, result.Error.Error())
				} else {
					span.SetStatus(codes.Error, "command failed without error details")
				}
			default:
				span.SetStatus(codes.Ok, "")
			}

			if result != nil && len(result.Events) > 0 {
				span.SetAttributes(attribute.Int(AttrEventCount, len(result.Events)))
				for _, e := range result.Events {
					if ev, ok := e.(events.Event); ok {
						span.AddEvent(EventEmitted, trace.WithAttributes(
							attribute.String(AttrEventKind, string(ev.Kind())),
						))
					}
				}
			}

			return result, err
		})
	}
}

func commandAttributes(cmd command.Command) []attribute.KeyValue {
	switch c := cmd.(type) {
	case *command.CreateCommand:
		return []attribute.KeyValue{
			attribute.String(AttrInstanceID, c.InstanceID),
			attribute.String(AttrInstanceType, c.TypeName),
		}
	case *command.BuildCommand:
		return []attribute.KeyValue{
			attribute.String(AttrBuildName, c.Name),
			attribute.Int(AttrBuildRecords, len(c.Plan)),
		}
	case *command.InvokeCommand:
		if id, ok := c.Target.(string); ok {
			return []attribute.KeyValue{
				attribute.String(AttrInstanceID, id),
				attribute.String(AttrMember, c.Member),
			}
		}
		return []attribute.KeyValue{attribute.String(AttrMember, c.Member)}
	case *command.RemoveCommand:
		return []attribute.KeyValue{attribute.String(AttrInstanceID, c.InstanceID)}
	case *command.AwaitCommand:
		return []attribute.KeyValue{attribute.String(AttrInstanceID, c.InstanceID)}
	default:
		return nil
	}
}
