package generation

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/schedule-armada/internal/app/generation/metrics"
	"github.com/ahrav/schedule-armada/internal/domain/events"
	"github.com/ahrav/schedule-armada/internal/domain/generation"
	"github.com/ahrav/schedule-armada/internal/domain/schedule"
	catalogmem "github.com/ahrav/schedule-armada/internal/infra/storage/catalog/memory"
	"github.com/ahrav/schedule-armada/pkg/common/logger"
)

var _ generationMetrics = (*metrics.Generation)(nil)

const term = "Fall 2024"

func newTestLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelDebug, "test", nil)
}

func newTestMetrics(t *testing.T) *metrics.Generation {
	t.Helper()
	m, err := metrics.New(noop.NewMeterProvider())
	require.NoError(t, err)
	return m
}

var testTracer = tracenoop.NewTracerProvider().Tracer("test")

func spec(course, label, capacity, days, start, end string) schedule.SectionSpec {
	return schedule.SectionSpec{
		Course:   course,
		Label:    label,
		Capacity: capacity,
		Faculty:  "Dr. Karim",
		Sessions: []schedule.SessionSpec{{Days: days, StartTime: start, EndTime: end, Room: "NAC" + label}},
	}
}

// newTestCatalog serves three courses. CSE101 and MAT101 combine in exactly
// five ways; PHY101 has a full section and a Friday-only section.
func newTestCatalog() *catalogmem.Catalog {
	c := catalogmem.NewCatalog()
	for _, s := range []schedule.SectionSpec{
		spec("CSE101", "1", "10/35", "MW", "08:30 AM", "10:00 AM"),
		spec("CSE101", "2", "10/35", "ST", "08:30 AM", "10:00 AM"),
		spec("CSE101", "3", "10/35", "MW", "11:00 AM", "12:30 PM"),
		spec("MAT101", "1", "5/40", "MW", "09:00 AM", "10:30 AM"),
		spec("MAT101", "2", "5/40", "ST", "11:00 AM", "12:30 PM"),
		spec("PHY101", "1", "30/30", "RA", "08:30 AM", "10:00 AM"),
		spec("PHY101", "2", "3/30", "F", "02:00 PM", "03:30 PM"),
	} {
		c.Add(term, schedule.MustSection(s))
	}
	return c
}

func newRequest(t *testing.T, filters schedule.FilterSpec, codes ...string) generation.Request {
	t.Helper()
	req, err := generation.NewRequest(term, codes, filters, "user-1")
	require.NoError(t, err)
	return req
}

// recordingPublisher captures published events and optionally fails for
// selected event types.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
	keys   []string
	failOn map[events.EventType]error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failOn: make(map[events.EventType]error)}
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, evt events.DomainEvent, opts ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failOn[evt.EventType()]; err != nil {
		return err
	}
	p.events = append(p.events, evt)
	p.keys = append(p.keys, events.ApplyOptions(opts).Key)
	return nil
}

func (p *recordingPublisher) failFor(et events.EventType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOn[et] = err
}

func (p *recordingPublisher) ofType(et events.EventType) []events.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.DomainEvent
	for _, e := range p.events {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) workItems() []generation.WorkItem {
	var items []generation.WorkItem
	for _, e := range p.ofType(events.EventTypeWorkItemCreated) {
		items = append(items, e.(generation.WorkItem))
	}
	return items
}

func (p *recordingPublisher) finished() []generation.FinishedEvent {
	var out []generation.FinishedEvent
	for _, e := range p.ofType(events.EventTypeGenerationFinished) {
		out = append(out, e.(generation.FinishedEvent))
	}
	return out
}
