package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for bot metrics.
var (
	AttrCommandName = attribute.Key("command.name")
	AttrScannerName = attribute.Key("scanner.name")
	AttrFeedSchema  = attribute.Key("feed.schema")
	AttrStatus      = attribute.Key("status")
)
