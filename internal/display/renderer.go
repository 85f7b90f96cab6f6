// Package display holds the sinks the board state is rendered to. None of
// them draw anything; they publish the latest lists, alert and feed status
// for whatever front end is attached.
package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// Renderer receives the board state. RenderArrivals is called once per
// direction per successful cycle.
type Renderer interface {
	RenderArrivals(ctx context.Context, containerID string, list models.DirectionalArrivalList) error
	RenderAlert(ctx context.Context, state models.AlertState) error
	RenderStatus(ctx context.Context, status models.FeedStatus) error
}

// ErrorObserver counts sink failures
type ErrorObserver interface {
	ObserveRenderError(sink string)
}

// Sink names a renderer for logs and metrics
type Sink struct {
	Name     string
	Renderer Renderer
}

// Multi fans every call out to all sinks. A failing sink does not stop the
// rest; the failures are joined into the returned error.
type Multi struct {
	sinks    []Sink
	observer ErrorObserver
}

func NewMulti(observer ErrorObserver, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, observer: observer}
}

func (m *Multi) Add(name string, r Renderer) {
	m.sinks = append(m.sinks, Sink{Name: name, Renderer: r})
}

func (m *Multi) RenderArrivals(ctx context.Context, containerID string, list models.DirectionalArrivalList) error {
	return m.each(func(r Renderer) error { return r.RenderArrivals(ctx, containerID, list) })
}

func (m *Multi) RenderAlert(ctx context.Context, state models.AlertState) error {
	return m.each(func(r Renderer) error { return r.RenderAlert(ctx, state) })
}

func (m *Multi) RenderStatus(ctx context.Context, status models.FeedStatus) error {
	return m.each(func(r Renderer) error { return r.RenderStatus(ctx, status) })
}

func (m *Multi) each(call func(Renderer) error) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := call(sink.Renderer); err != nil {
			if m.observer != nil {
				m.observer.ObserveRenderError(sink.Name)
			}
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}
