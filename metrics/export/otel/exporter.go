package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is read once per collection cycle.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter publishes engine metrics as OpenTelemetry observable
// instruments, one per series in internaldefs.FlatSeries.
type Exporter struct {
	registration metric.Registration
}

// NewExporter creates the instruments on meter and registers one callback
// that reads source.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	series := internaldefs.FlatSeries()
	instruments := make([]metric.Int64Observable, len(series))
	observables := make([]metric.Observable, len(series))
	for i, s := range series {
		ins, err := newInstrument(meter, s)
		if err != nil {
			return nil, fmt.Errorf("create instrument %s: %w", s.Name, err)
		}
		instruments[i] = ins
		observables[i] = ins
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := source.MetricsSnapshot()
		dropped := source.AuditDropped()
		for i, s := range series {
			observer.ObserveInt64(instruments[i], int64(s.Read(snapshot, dropped)))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return &Exporter{registration: registration}, nil
}

func newInstrument(meter metric.Meter, s internaldefs.Series) (metric.Int64Observable, error) {
	if s.Kind == internaldefs.SeriesGauge {
		gauge, err := meter.Int64ObservableGauge(s.Name, metric.WithDescription(s.Help))
		if err != nil {
			return nil, err
		}
		return gauge, nil
	}
	counter, err := meter.Int64ObservableCounter(s.Name, metric.WithDescription(s.Help))
	if err != nil {
		return nil, err
	}
	return counter, nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
