package tracing

// Span attribute keys.
const (
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	AttrInstanceID   = "instance.id"
	AttrInstanceType = "instance.type"
	AttrMember       = "instance.member"

	AttrBuildName    = "build.name"
	AttrBuildRecords = "build.records"

	AttrEventKind  = "event.kind"
	AttrEventCount = "event.count"
)

// Span name prefixes.
const (
	SpanPrefixCommand = "command.process."
	SpanPrefixAPI     = "api."
)

// Event names for span events.
const (
	EventEmitted = "event.emitted"
)
