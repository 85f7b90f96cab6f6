package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/transitboard/internal/common/config"
	"github.com/transitboard/pkg/gtfs-realtime/models"
)

func TestProcessorConfigFromDefaults(t *testing.T) {
	cfg := processorConfig(config.DefaultBoard())

	assert.Equal(t, "6822", cfg.WestStopID)
	assert.Equal(t, "6831", cfg.EastStopID)
	assert.Equal(t, models.RouteRed, cfg.Routes[0].Color)
	assert.Equal(t, "202", cfg.Routes[1].Pattern)
	assert.Equal(t, "69 Street", cfg.Destinations[models.DirectionWest][models.RouteBlue])
	assert.Equal(t, "Somerset", cfg.Destinations[models.DirectionEast][models.RouteRed])
	assert.Equal(t, 90*time.Second, cfg.Window.DepartureGrace)
	assert.Equal(t, time.Hour, cfg.Window.MaxLookahead)
	assert.Equal(t, 3, cfg.DisplayCap)
}
