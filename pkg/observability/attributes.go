package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Screening semantic convention attributes.
var (
	AttrOperation = attribute.Key("exposure.operation")

	AttrSupplier       = attribute.Key("exposure.supplier.name")
	AttrSupplierID     = attribute.Key("exposure.supplier.id")
	AttrRiskLevel      = attribute.Key("exposure.risk.level")
	AttrRiskScore      = attribute.Key("exposure.risk.score")
	AttrVerified       = attribute.Key("exposure.verified")
	AttrFindings       = attribute.Key("exposure.findings")
	AttrListVersion    = attribute.Key("exposure.list.version")
	AttrListSize       = attribute.Key("exposure.list.size")
	AttrPolicyVersion  = attribute.Key("exposure.policy.version")
	AttrProvider       = attribute.Key("exposure.ownership.provider")
	AttrOutcome        = attribute.Key("exposure.ownership.outcome")
	AttrBatchRunID     = attribute.Key("exposure.batch.run_id")
	AttrBatchSuppliers = attribute.Key("exposure.batch.suppliers")
)

// ScreeningOperation creates attributes for one supplier resolution.
func ScreeningOperation(supplier, listVersion string, listSize int, policyVersion string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrSupplier.String(supplier),
		AttrListVersion.String(listVersion),
		AttrListSize.Int(listSize),
		AttrPolicyVersion.String(policyVersion),
	}
}

// BatchOperation creates attributes for a batch run.
func BatchOperation(runID string, suppliers int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBatchRunID.String(runID),
		AttrBatchSuppliers.Int(suppliers),
	}
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the current span.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
