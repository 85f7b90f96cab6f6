package display

import (
	"context"
	"fmt"
	"strings"

	"github.com/transitboard/internal/common/logger"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

// LogRenderer writes the board as structured log lines
type LogRenderer struct {
	logger logger.Logger
}

func NewLogRenderer(log logger.Logger) *LogRenderer {
	return &LogRenderer{logger: log.With("sink", "log")}
}

func (r *LogRenderer) RenderArrivals(_ context.Context, containerID string, list models.DirectionalArrivalList) error {
	r.logger.Info("Board updated",
		"container", containerID,
		"count", len(list),
		"trains", summarize(list),
	)
	return nil
}

func (r *LogRenderer) RenderAlert(_ context.Context, state models.AlertState) error {
	if state.Active {
		r.logger.Info("Service alert", "message", state.Message)
		return nil
	}
	r.logger.Debug("No active service alert")
	return nil
}

func (r *LogRenderer) RenderStatus(_ context.Context, status models.FeedStatus) error {
	if status == models.FeedReconnecting {
		r.logger.Warn("Feed status changed", "status", status)
		return nil
	}
	r.logger.Debug("Feed status changed", "status", status)
	return nil
}

// summarize renders a list as "red Tuscany 3m (On Time), ..."
func summarize(list models.DirectionalArrivalList) string {
	if len(list) == 0 {
		return "no trains scheduled"
	}
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, fmt.Sprintf("%s %s %dm (%s)", a.RouteColor, a.Destination, a.Minutes, a.Status))
	}
	return strings.Join(parts, ", ")
}
