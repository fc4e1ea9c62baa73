// Package publish turns a leak report into events and hands them to the
// configured sinks (PostgreSQL, Kafka).
package publish

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/detector"
	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	log "github.com/sirupsen/logrus"
)

// Sink receives the events of a run.
type Sink interface {
	Publish(ctx context.Context, events []models.LeakEvent) error
	Close() error
}

// CountryResolver maps an AS to its country code.
type CountryResolver interface {
	Resolve(asn uint32) string
}

// BuildOptions controls how events are stamped.
type BuildOptions struct {
	RunID     uuid.UUID
	StartDate time.Time       // day 0 of the series; zero leaves LeakDate empty
	Resolver  CountryResolver // nil leaves CountryCode empty
	Now       time.Time       // zero means time.Now()
}

// BuildEvents creates one event per (AS, leak day), in ASN then day order.
func BuildEvents(report *models.LeakReport, opts BuildOptions) []models.LeakEvent {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	runID := opts.RunID.String()
	params := report.Params.String()

	events := make([]models.LeakEvent, 0, report.Detections())
	for _, asn := range report.ASNs() {
		entry := report.Entries[asn]
		severity := detector.LeakSeverity(asn, len(entry.Leaks))

		country := ""
		if opts.Resolver != nil {
			country = opts.Resolver.Resolve(asn)
		}

		for _, day := range entry.Leaks {
			details := map[string]interface{}{
				"leak_days":  len(entry.Leaks),
				"prefixes":   valueAt(entry.Prefixes, day),
				"conflicts":  valueAt(entry.Conflicts, day),
				"parameters": params,
			}
			if name, ok := detector.Tier1ASNs[asn]; ok {
				details["tier1"] = name
			}

			event := models.LeakEvent{
				RunID:         runID,
				CountryCode:   country,
				EventType:     models.EventTypeLeak,
				Severity:      severity,
				EventCategory: models.CategoryMisconfiguration,
				AffectedASN:   asn,
				LeakDay:       day,
				Details:       details,
				DetectedAt:    now,
			}
			if !opts.StartDate.IsZero() {
				event.LeakDate = opts.StartDate.AddDate(0, 0, day).Format("2006-01-02")
			}
			events = append(events, event)
		}
	}
	return events
}

func valueAt(series []float64, day int) float64 {
	if day < 0 || day >= len(series) {
		return 0
	}
	return series[day]
}

// MultiSink fans events out to several sinks.
type MultiSink []Sink

// Publish sends events to every sink, even after one fails.
func (m MultiSink) Publish(ctx context.Context, events []models.LeakEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch builds the events of report and publishes them to sink.
func Dispatch(ctx context.Context, sink Sink, report *models.LeakReport, opts BuildOptions) error {
	events := BuildEvents(report, opts)
	if len(events) == 0 {
		log.Info("No leak events to publish")
		return nil
	}
	log.WithFields(log.Fields{"events": len(events), "run_id": opts.RunID}).Info("Publishing leak events")
	return sink.Publish(ctx, events)
}
