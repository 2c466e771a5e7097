// Package otel bridges engine counters into OpenTelemetry observable
// instruments so they ride an existing OTel metrics pipeline.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/COMRADE-APP/authcore/metrics/export/internaldefs"
)

// Register creates one observable counter per engine metric on the
// given meter and wires a single callback that reads a snapshot per
// collection. The returned registration unhooks the callback.
func Register(meter metric.Meter, src internaldefs.Source) (metric.Registration, error) {
	counters := make(map[int]metric.Int64ObservableCounter, len(internaldefs.Counters))
	observables := make([]metric.Observable, 0, len(internaldefs.Counters)+1)

	for _, def := range internaldefs.Counters {
		counter, err := meter.Int64ObservableCounter(def.Name,
			metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		counters[int(def.ID)] = counter
		observables = append(observables, counter)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	observables = append(observables, dropped)

	return meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snap := src.MetricsSnapshot()
		for _, def := range internaldefs.Counters {
			observer.ObserveInt64(counters[int(def.ID)], int64(snap.Counters[def.ID]))
		}
		observer.ObserveInt64(dropped, int64(src.AuditDropped()))
		return nil
	}, observables...)
}
