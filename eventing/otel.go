package eventing

import (
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("@loopwire/comet/eventing")
