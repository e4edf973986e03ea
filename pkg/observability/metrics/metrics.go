// Package metrics exposes operation counters through the global OTel
// meter. Without an SDK wired in the instruments are no-ops, so library
// code can record unconditionally.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/lighthouse-p2p/lighthouse"

type Directory struct {
	ops metric.Int64Counter
}

func NewDirectory() *Directory {
	meter := otel.Meter(scope)

	ops, err := meter.Int64Counter(
		"lighthouse.directory.operations",
		metric.WithDescription("Directory operations by kind and outcome"),
	)
	if err != nil {
		// The default meter never errors; a misconfigured SDK should not
		// take the directory down.
		ops = nil
	}

	return &Directory{ops: ops}
}

func (d *Directory) Record(ctx context.Context, op string, err error) {
	if d == nil || d.ops == nil {
		return
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	d.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}
